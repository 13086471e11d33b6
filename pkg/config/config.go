package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const ConfigFileName = ".solsync.yaml"

// EndpointsConfig holds the base URLs of the external services.
type EndpointsConfig struct {
	Market    string `yaml:"market"`
	Indexer   string `yaml:"indexer"`
	SolanaRPC string `yaml:"solana_rpc"`
	Swap      string `yaml:"swap"`
	Backend   string `yaml:"backend,omitempty"`
	Privy     string `yaml:"privy"`
}

// NetworkConfig controls connectivity probing.
type NetworkConfig struct {
	ProbeURLs            []string `yaml:"probe_urls"`
	ProbeIntervalSeconds int      `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int      `yaml:"probe_timeout_seconds"`
}

// ResourceConfig overrides the freshness window and polling interval of one
// resource. Zero poll disables polling.
type ResourceConfig struct {
	StaleSeconds *int `yaml:"stale_seconds,omitempty"`
	PollSeconds  *int `yaml:"poll_seconds,omitempty"`
}

type SyncConfig struct {
	Portfolio    ResourceConfig `yaml:"portfolio,omitempty"`
	Trending     ResourceConfig `yaml:"trending,omitempty"`
	Assets       ResourceConfig `yaml:"assets,omitempty"`
	Transactions ResourceConfig `yaml:"transactions,omitempty"`
	Overview     ResourceConfig `yaml:"overview,omitempty"`
	Profile      ResourceConfig `yaml:"profile,omitempty"`
	AddressBook  ResourceConfig `yaml:"addressbook,omitempty"`

	RetryAttempts    int `yaml:"retry_attempts"`
	TrendingPageSize int `yaml:"trending_page_size"`
	AssetsPageSize   int `yaml:"assets_page_size"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Secrets never live in the config file.
type Secrets struct {
	BirdEyeAPIKey    string
	BackendToken     string
	PrivyAppID       string
	PrivyAccessToken string
}

type Config struct {
	Wallet    string          `yaml:"wallet,omitempty"`
	DBPath    string          `yaml:"db_path"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Network   NetworkConfig   `yaml:"network"`
	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`

	Secrets Secrets `yaml:"-"`
}

func Default() Config {
	return Config{
		DBPath: "solsync.db",
		Endpoints: EndpointsConfig{
			Market:    "https://public-api.birdeye.so",
			Indexer:   "https://mainnet.helius-rpc.com",
			SolanaRPC: "https://api.mainnet-beta.solana.com",
			Swap:      "https://quote-api.jup.ag/v6",
			Privy:     "https://auth.privy.io/api/v1",
		},
		Network: NetworkConfig{
			ProbeURLs:            []string{"https://clients3.google.com/generate_204"},
			ProbeIntervalSeconds: 15,
			ProbeTimeoutSeconds:  5,
		},
		Sync: SyncConfig{
			RetryAttempts:    3,
			TrendingPageSize: 20,
			AssetsPageSize:   50,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// LoadConfigFromFile reads path, falling back to the defaults when it does not
// exist.
func LoadConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f)
}

// LoadConfig decodes YAML over the defaults; keys left out keep their default.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// LoadSecrets reads the service credentials from the environment, after
// loading envFile (".env" when empty) if it exists. Variables already set win.
func LoadSecrets(envFile string) Secrets {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	return Secrets{
		BirdEyeAPIKey:    os.Getenv("BIRDEYE_API_KEY"),
		BackendToken:     os.Getenv("BACKEND_TOKEN"),
		PrivyAppID:       os.Getenv("PRIVY_APP_ID"),
		PrivyAccessToken: os.Getenv("PRIVY_ACCESS_TOKEN"),
	}
}

func (c Config) Validate() error {
	if c.Wallet != "" {
		if _, err := solana.PublicKeyFromBase58(c.Wallet); err != nil {
			return errors.Wrapf(err, "validation failed: wallet %q", c.Wallet)
		}
	}
	endpoints := map[string]string{
		"market":     c.Endpoints.Market,
		"indexer":    c.Endpoints.Indexer,
		"solana_rpc": c.Endpoints.SolanaRPC,
		"swap":       c.Endpoints.Swap,
		"privy":      c.Endpoints.Privy,
		"backend":    c.Endpoints.Backend,
	}
	for name, raw := range endpoints {
		if raw == "" {
			if name == "backend" {
				continue
			}
			return errors.Newf("validation failed: endpoint %s is empty", name)
		}
		if err := checkURL(raw); err != nil {
			return errors.Wrapf(err, "validation failed: endpoint %s", name)
		}
	}
	for _, p := range c.Network.ProbeURLs {
		if err := checkURL(p); err != nil {
			return errors.Wrap(err, "validation failed: probe url")
		}
	}
	if c.Network.ProbeIntervalSeconds <= 0 || c.Network.ProbeTimeoutSeconds <= 0 {
		return errors.New("validation failed: probe interval and timeout must be positive")
	}
	if c.Sync.RetryAttempts < 1 {
		return errors.New("validation failed: retry_attempts must be at least 1")
	}
	if c.Sync.TrendingPageSize <= 0 || c.Sync.AssetsPageSize <= 0 {
		return errors.New("validation failed: page sizes must be positive")
	}
	for name, rc := range map[string]ResourceConfig{
		"portfolio":    c.Sync.Portfolio,
		"trending":     c.Sync.Trending,
		"assets":       c.Sync.Assets,
		"transactions": c.Sync.Transactions,
		"overview":     c.Sync.Overview,
		"profile":      c.Sync.Profile,
		"addressbook":  c.Sync.AddressBook,
	} {
		if (rc.StaleSeconds != nil && *rc.StaleSeconds < 0) || (rc.PollSeconds != nil && *rc.PollSeconds < 0) {
			return errors.Newf("validation failed: sync.%s intervals must not be negative", name)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf("validation failed: unknown log level %q", c.Logging.Level)
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return errors.Newf("%q is not an http(s) url", raw)
	}
	return nil
}

// Apply overrides the stale and poll durations in place.
func (rc ResourceConfig) Apply(stale, poll *time.Duration) {
	if rc.StaleSeconds != nil {
		*stale = time.Duration(*rc.StaleSeconds) * time.Second
	}
	if rc.PollSeconds != nil {
		*poll = time.Duration(*rc.PollSeconds) * time.Second
	}
}

// SaveConfig validates cfg and writes it atomically, keeping a timestamped
// backup of the previous file.
func SaveConfig(cfg Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	if len(data) == 0 {
		return errors.New("validation failed: encoded configuration is empty")
	}

	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "failed to read existing config for backup")
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return errors.Wrap(err, "failed to write backup config")
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return errors.New("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}
