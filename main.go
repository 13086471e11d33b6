package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"solsync/pkg/auth"
	"solsync/pkg/config"
	"solsync/pkg/models"
	"solsync/pkg/netmon"
	"solsync/pkg/retry"
	"solsync/pkg/rpc"
	"solsync/pkg/server"
	"solsync/pkg/storage"
	"solsync/pkg/store"
	"solsync/pkg/tui"
	"solsync/pkg/watcher"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Version should be set during build
var Version = "dev"

func main() {
	testFlag := flag.Bool("t", false, "Test configuration and exit")
	testLongFlag := flag.Bool("test", false, "Test configuration and exit")
	jsonFlag := flag.Bool("json", false, "Output test results as JSON")
	configFlag := flag.String("config", "", "Path to configuration file")
	envFlag := flag.String("env", "", "Path to .env file with service credentials")
	walletFlag := flag.String("wallet", "", "Wallet address to watch without signing in")
	dbFlag := flag.String("db", "", "Path to the local database")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	serverFlag := flag.Bool("server", false, "Run in headless server mode")
	portFlag := flag.Int("port", 8080, "Port for API server")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("solsync version %s\n", Version)
		os.Exit(0)
	}

	cfgInput := *configFlag
	if cfgInput == "" && len(flag.Args()) > 0 {
		cfgInput = flag.Args()[0]
	}
	path, err := config.GetConfigPath(cfgInput)
	if err != nil {
		fmt.Printf("Error determining config path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		fmt.Printf("Error loading config from %s: %v\n", path, err)
		os.Exit(1)
	}
	cfg.Secrets = config.LoadSecrets(*envFlag)
	if *walletFlag != "" {
		cfg.Wallet = *walletFlag
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}

	if *testFlag || *testLongFlag {
		report := runChecks(context.Background(), path, cfg, *jsonFlag)
		printReport(os.Stdout, report, *jsonFlag)
		if !report.ValidStructure {
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration in %s: %v\n", path, err)
		os.Exit(1)
	}

	if err := run(cfg, *serverFlag, *portFlag); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the sync layer and blocks until the console exits or, in server
// mode, until the process is signalled.
func run(cfg config.Config, serverMode bool, port int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, closeLog, err := newLogger(cfg.Logging, !serverMode)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	kv, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	hc := &http.Client{Timeout: 20 * time.Second}
	var backend *rpc.BackendClient
	var remote store.AddressBookRemote
	if cfg.Endpoints.Backend != "" && cfg.Secrets.BackendToken != "" {
		backend = rpc.NewBackendClient(cfg.Endpoints.Backend, cfg.Secrets.BackendToken, hc)
		remote = backend
	}

	stores := store.New(kv, remote, logger)
	if err := stores.Hydrate(ctx); err != nil {
		logger.Warn("hydrate_incomplete", "error", err)
	}

	market := rpc.NewMarketClient(cfg.Endpoints.Market, cfg.Secrets.BirdEyeAPIKey, hc)
	ds := &watcher.RemoteDataSource{
		Market:  market,
		Indexer: rpc.NewIndexerClient(cfg.Endpoints.Indexer, hc),
		Backend: backend,
	}
	swap := rpc.NewSwapClient(cfg.Endpoints.Swap, cfg.Endpoints.SolanaRPC, hc)

	mon := netmon.NewMonitor(probeSource(cfg.Network), logger)
	defer mon.Initialize(ctx)()

	reconciler := auth.NewReconciler(identityProvider(cfg, hc), stores.Auth, stores.ClearUserData, logger)
	defer reconciler.Start(ctx)()

	w := watcher.NewWatcher(stores, ds, mon, watcherConfig(cfg), logger)
	if cfg.Wallet != "" {
		w.SetWallet(ctx, cfg.Wallet)
	}
	w.Start(ctx)
	defer w.Stop()

	srv := server.NewServer(w, server.Options{
		Book:   stores.AddressBook,
		Charts: market,
		Swap:   swap,
		Logout: reconciler.Logout,
		Logger: logger,
	})
	go func() {
		if err := srv.Start(ctx, port); err != nil {
			logger.Error("server_failed", "port", port, "error", err)
		}
	}()

	logger.Info("started", "version", Version, "wallet", cfg.Wallet, "port", port, "server_mode", serverMode)
	if serverMode {
		fmt.Printf("Running in server mode on port %d...\n", port)
		<-ctx.Done()
		return nil
	}
	return tui.Start(w, Version)
}

// newLogger builds the process logger. The console owns the terminal, so in
// console mode records go to the configured file or are discarded.
func newLogger(cfg config.LoggingConfig, console bool) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, errors.Wrapf(err, "log level %q", cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	switch {
	case cfg.File != "":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open log file")
		}
		out = f
		closeFn = func() { _ = f.Close() }
	case console:
		out = io.Discard
	}
	return slog.New(slog.NewTextHandler(out, opts)), closeFn, nil
}

func probeSource(cfg config.NetworkConfig) *netmon.ProbeSource {
	return netmon.NewProbeSource(
		cfg.ProbeURLs,
		time.Duration(cfg.ProbeIntervalSeconds)*time.Second,
		time.Duration(cfg.ProbeTimeoutSeconds)*time.Second,
	)
}

// identityProvider returns the Privy provider when an app id is configured. A
// host without one runs with a provider that is ready and signed out, so the
// persisted session and the -wallet flag decide what is watched.
func identityProvider(cfg config.Config, hc *http.Client) auth.Provider {
	if cfg.Secrets.PrivyAppID == "" {
		return auth.NewStaticProvider(auth.ProviderState{Ready: true})
	}
	return auth.NewPrivyProvider(
		cfg.Endpoints.Privy,
		cfg.Secrets.PrivyAppID,
		cfg.Secrets.PrivyAccessToken,
		time.Duration(cfg.Network.ProbeIntervalSeconds)*time.Second,
		hc,
	)
}

// watcherConfig applies the sync section of the config file over the watcher
// defaults.
func watcherConfig(cfg config.Config) watcher.Config {
	wc := watcher.DefaultConfig()
	policy := retry.DefaultPolicy()
	if cfg.Sync.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.Sync.RetryAttempts
	}
	for _, r := range []struct {
		opts *watcher.Options
		rc   config.ResourceConfig
	}{
		{&wc.Portfolio, cfg.Sync.Portfolio},
		{&wc.Trending, cfg.Sync.Trending},
		{&wc.Assets, cfg.Sync.Assets},
		{&wc.Transactions, cfg.Sync.Transactions},
		{&wc.Overview, cfg.Sync.Overview},
		{&wc.Profile, cfg.Sync.Profile},
		{&wc.AddressBook, cfg.Sync.AddressBook},
	} {
		r.rc.Apply(&r.opts.StaleTime, &r.opts.RefetchInterval)
		r.opts.Retry = policy
	}
	if cfg.Sync.TrendingPageSize > 0 {
		wc.TrendingPageSize = cfg.Sync.TrendingPageSize
	}
	if cfg.Sync.AssetsPageSize > 0 {
		wc.AssetsPageSize = cfg.Sync.AssetsPageSize
	}
	return wc
}

// runChecks validates cfg and probes every configured service concurrently.
// Services are only contacted when the structure is valid.
func runChecks(ctx context.Context, path string, cfg config.Config, quiet bool) models.TestReport {
	report := models.TestReport{ConfigPath: path, ValidStructure: true, Wallet: cfg.Wallet}
	if !quiet {
		fmt.Printf("Testing configuration at: %s\n", path)
	}
	if err := cfg.Validate(); err != nil {
		report.ValidStructure = false
		report.StructureErrors = append(report.StructureErrors, err.Error())
		return report
	}

	market := rpc.NewMarketClient(cfg.Endpoints.Market, cfg.Secrets.BirdEyeAPIKey, nil)
	backendHeader := http.Header{}
	if cfg.Secrets.BackendToken != "" {
		backendHeader.Set("Authorization", "Bearer "+cfg.Secrets.BackendToken)
	}
	privyHeader := http.Header{}
	if cfg.Secrets.PrivyAppID != "" {
		privyHeader.Set("privy-app-id", cfg.Secrets.PrivyAppID)
	}

	checks := []func(context.Context) models.ServiceResult{
		func(ctx context.Context) models.ServiceResult {
			return rpc.CheckHTTP(ctx, "market", strings.TrimRight(market.BaseURL(), "/")+"/defi/networks", market.Header(), cfg.Secrets.BirdEyeAPIKey != "")
		},
		func(ctx context.Context) models.ServiceResult {
			return rpc.CheckRPC(ctx, "indexer", cfg.Endpoints.Indexer)
		},
		func(ctx context.Context) models.ServiceResult {
			return rpc.CheckRPC(ctx, "solana_rpc", cfg.Endpoints.SolanaRPC)
		},
		func(ctx context.Context) models.ServiceResult {
			return rpc.CheckHTTP(ctx, "swap", cfg.Endpoints.Swap, nil, true)
		},
		func(ctx context.Context) models.ServiceResult {
			return rpc.CheckHTTP(ctx, "backend", cfg.Endpoints.Backend, backendHeader, cfg.Secrets.BackendToken != "")
		},
		func(ctx context.Context) models.ServiceResult {
			return rpc.CheckHTTP(ctx, "privy", cfg.Endpoints.Privy, privyHeader, cfg.Secrets.PrivyAppID != "")
		},
	}

	report.Services = make([]models.ServiceResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			report.Services[i] = check(gctx)
			return nil
		})
	}
	var st models.NetworkState
	g.Go(func() error {
		st, _ = probeSource(cfg.Network).Fetch(gctx)
		return nil
	})
	_ = g.Wait()
	report.Online = st.IsOnline == models.True
	return report
}

func printReport(out io.Writer, report models.TestReport, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}
	if !report.ValidStructure {
		for _, e := range report.StructureErrors {
			fmt.Fprintf(out, "Error: %s\n", e)
		}
		return
	}
	if report.Wallet != "" {
		fmt.Fprintf(out, "Wallet: %s\n", report.Wallet)
	}
	for _, s := range report.Services {
		switch s.Status {
		case "ok":
			fmt.Fprintf(out, "  %-11s %s ... OK (%s)\n", s.Name, s.URL, s.Latency.Round(time.Millisecond))
		case "skipped":
			fmt.Fprintf(out, "  %-11s skipped (not configured)\n", s.Name)
		default:
			fmt.Fprintf(out, "  %-11s %s ... Failed: %s\n", s.Name, s.URL, s.Error)
		}
		if s.Status == "ok" && !s.Configured {
			fmt.Fprintf(out, "  %-11s WARNING: no credentials configured\n", "")
		}
	}
	if report.Online {
		fmt.Fprintln(out, "Network: online")
	} else {
		fmt.Fprintln(out, "Network: offline or unknown")
	}
}
