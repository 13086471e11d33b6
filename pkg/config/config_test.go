package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func TestLoadConfig_Malformed(t *testing.T) {
	reader := strings.NewReader("endpoints: [unclosed")
	_, err := LoadConfig(reader)
	if err == nil {
		t.Error("Expected error loading malformed config, got nil")
	}
}

func TestLoadConfig_Empty(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Endpoints.Market != Default().Endpoints.Market {
		t.Errorf("Expected default market endpoint, got %q", cfg.Endpoints.Market)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Sync.TrendingPageSize != 20 {
		t.Errorf("Expected default trending page size 20, got %d", cfg.Sync.TrendingPageSize)
	}
}

func TestLoadConfig_TableDriven(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		content     string
		expectError bool
		validate    func(*testing.T, Config)
	}{
		{
			name: "Partial Config (Defaults)",
			content: `
wallet: ` + testWallet + `
logging:
  level: debug
`,
			validate: func(t *testing.T, c Config) {
				if c.Wallet != testWallet {
					t.Errorf("Wallet mismatch: %q", c.Wallet)
				}
				if c.Logging.Level != "debug" {
					t.Errorf("Expected debug level, got %q", c.Logging.Level)
				}
				if c.Endpoints.Swap != "https://quote-api.jup.ag/v6" {
					t.Errorf("Expected default swap endpoint, got %q", c.Endpoints.Swap)
				}
				if c.Network.ProbeIntervalSeconds != 15 {
					t.Errorf("Expected default probe interval, got %d", c.Network.ProbeIntervalSeconds)
				}
			},
		},
		{
			name: "Probe URLs Replaced",
			content: `
network:
  probe_urls: ["https://probe.example/204", "https://other.example"]
`,
			validate: func(t *testing.T, c Config) {
				if len(c.Network.ProbeURLs) != 2 || c.Network.ProbeURLs[0] != "https://probe.example/204" {
					t.Errorf("Probe URLs mismatch: %v", c.Network.ProbeURLs)
				}
				if c.Network.ProbeTimeoutSeconds != 5 {
					t.Errorf("Expected default probe timeout, got %d", c.Network.ProbeTimeoutSeconds)
				}
			},
		},
		{
			name: "Resource Overrides",
			content: `
sync:
  portfolio:
    stale_seconds: 10
    poll_seconds: 0
  assets_page_size: 100
`,
			validate: func(t *testing.T, c Config) {
				stale, poll := 30*time.Second, 60*time.Second
				c.Sync.Portfolio.Apply(&stale, &poll)
				if stale != 10*time.Second || poll != 0 {
					t.Errorf("Override not applied: stale=%v poll=%v", stale, poll)
				}
				stale, poll = time.Minute, 2*time.Minute
				c.Sync.Trending.Apply(&stale, &poll)
				if stale != time.Minute || poll != 2*time.Minute {
					t.Errorf("Unset resource should keep defaults")
				}
				if c.Sync.AssetsPageSize != 100 || c.Sync.TrendingPageSize != 20 {
					t.Errorf("Page sizes mismatch: %+v", c.Sync)
				}
			},
		},
		{
			name:        "Malformed YAML",
			content:     "sync: {portfolio: [",
			expectError: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := LoadConfig(strings.NewReader(tt.content))

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"valid wallet", func(c *Config) { c.Wallet = testWallet }, true},
		{"evm wallet", func(c *Config) { c.Wallet = "0x1234" }, false},
		{"empty market", func(c *Config) { c.Endpoints.Market = "" }, false},
		{"backend optional", func(c *Config) { c.Endpoints.Backend = "" }, true},
		{"bad backend scheme", func(c *Config) { c.Endpoints.Backend = "ftp://backend" }, false},
		{"bad probe", func(c *Config) { c.Network.ProbeURLs = []string{"not a url"} }, false},
		{"zero probe interval", func(c *Config) { c.Network.ProbeIntervalSeconds = 0 }, false},
		{"no retries", func(c *Config) { c.Sync.RetryAttempts = 0 }, false},
		{"negative poll", func(c *Config) { c.Sync.Assets.PollSeconds = &neg }, false},
		{"unknown level", func(c *Config) { c.Logging.Level = "verbose" }, false},
		{"upper level", func(c *Config) { c.Logging.Level = "WARN" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Errorf("Expected validation error, got nil")
			}
		})
	}
}

func TestSaveConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "solsync.yaml")

	cfg := Default()
	cfg.Wallet = testWallet
	cfg.Secrets.BirdEyeAPIKey = "secret"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "secret") {
		t.Errorf("Secrets must not be written to the config file")
	}

	loaded, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Wallet != testWallet {
		t.Errorf("Wallet mismatch")
	}

	cfg.Logging.Level = "error"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Second SaveConfig failed: %v", err)
	}
	backups, _ := filepath.Glob(path + ".*.bak")
	if len(backups) != 1 {
		t.Fatalf("Expected 1 backup, got %d", len(backups))
	}

	if err := RestoreLastBackup(path); err != nil {
		t.Fatalf("RestoreLastBackup failed: %v", err)
	}
	restored, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Logging.Level != "info" {
		t.Errorf("Expected restored level info, got %q", restored.Logging.Level)
	}
}

func TestSaveConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solsync.yaml")
	cfg := Default()
	cfg.Endpoints.Indexer = ""
	if err := SaveConfig(cfg, path); err == nil {
		t.Error("Expected validation error, got nil")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Invalid config must not be written")
	}
}

func TestRestoreLastBackup_None(t *testing.T) {
	if err := RestoreLastBackup(filepath.Join(t.TempDir(), "solsync.yaml")); err == nil {
		t.Error("Expected error without backups")
	}
}

func TestSaveConfig_PermissionError(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "readonly_test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	if err := os.Chmod(tmpDir, 0500); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(tmpDir, 0700) }()

	configPath := filepath.Join(tmpDir, "config.yaml")
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	err = SaveConfig(Default(), configPath)
	if err == nil {
		t.Error("Expected permission error, got nil")
	}
}

func TestLoadSecrets(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "BIRDEYE_API_KEY=from-file\nBACKEND_TOKEN=token-from-file\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BIRDEYE_API_KEY", "from-env")
	for _, k := range []string{"BACKEND_TOKEN", "PRIVY_APP_ID", "PRIVY_ACCESS_TOKEN"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}

	s := LoadSecrets(envFile)
	if s.BirdEyeAPIKey != "from-env" {
		t.Errorf("Environment should win over .env, got %q", s.BirdEyeAPIKey)
	}
	if s.BackendToken != "token-from-file" {
		t.Errorf("Expected token from .env, got %q", s.BackendToken)
	}
	if s.PrivyAppID != "" {
		t.Errorf("Expected empty privy app id, got %q", s.PrivyAppID)
	}
}
