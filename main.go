package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nexaview/pkg/config"
	"nexaview/pkg/logging"
	"nexaview/pkg/metrics"
	"nexaview/pkg/models"
	"nexaview/pkg/realtime"
	"nexaview/pkg/rpc"
	"nexaview/pkg/server"
	"nexaview/pkg/store"
	"nexaview/pkg/tui"
	"nexaview/pkg/watcher"
)

// Version should be set during build
var Version = "dev"

type testOptions struct {
	JSON   bool
	DryRun bool
	// Dialer overrides the websocket dialer used to probe the node.
	Dialer realtime.Dialer
}

func main() {
	testFlag := flag.Bool("t", false, "Test configuration and exit")
	testLongFlag := flag.Bool("test", false, "Test configuration and exit")
	jsonFlag := flag.Bool("json", false, "Output test results as JSON")
	dryRunFlag := flag.Bool("dry-run", false, "Perform a trial run with no changes made")
	configFlag := flag.String("config", "", "Path to configuration file")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	serverFlag := flag.Bool("server", false, "Run in headless server mode")
	portFlag := flag.Int("port", 0, "Port for API server (overrides server_port)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("nexaview version %s\n", Version)
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
	if *portFlag > 0 {
		applyPort(&cfg, *portFlag)
	}

	kv, err := store.NewFileKV(cfg.StoragePath(path))
	if err != nil {
		fmt.Printf("Error opening wallet storage: %v\n", err)
		os.Exit(1)
	}

	if *testFlag || *testLongFlag {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		report := runConfigTest(ctx, cfg, path, store.New(kv, nil), testOptions{JSON: *jsonFlag, DryRun: *dryRunFlag}, os.Stdout)
		cancel()
		if !report.ValidStructure {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// stdout belongs to the terminal UI unless running headless.
	logFile := cfg.LogFile
	if logFile == "" && !*serverFlag {
		logFile = filepath.Join(cfg.StoragePath(path), "nexaview.log")
	}
	logger, err := logging.New(cfg.LogLevel, logFile)
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New()
	st := store.New(kv, logger.Named("store"))
	w := watcher.NewWatcher(cfg, st, watcher.Options{Logger: logger, Metrics: m})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(w, rpc.NewUpstream(cfg.Fetcher.UpstreamAPIURL, cfg.Fetcher.Timeout()), m, logger.Named("server"))
	go func() {
		if err := srv.Start(cfg.ServerPort); err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	w.Start(ctx)
	defer w.Stop()

	if *serverFlag {
		fmt.Printf("Running in server mode on port %d...\n", cfg.ServerPort)
		<-ctx.Done()
		return
	}

	tui.Start(w, cfg, Version)
}

// applyPort moves the API server and, when it still points at the built-in
// proxy, the balance endpoint to port.
func applyPort(cfg *config.Config, port int) {
	if cfg.Fetcher.BalanceAPIURL == config.Default().Fetcher.BalanceAPIURL {
		cfg.Fetcher.BalanceAPIURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	}
	cfg.ServerPort = port
}

func checkStructure(cfg config.Config) []string {
	var errs []string
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if u, err := url.Parse(cfg.Realtime.NodeURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Sprintf("realtime.node_url %q is not a ws:// or wss:// URL", cfg.Realtime.NodeURL))
	}
	if u, err := url.Parse(cfg.Fetcher.UpstreamAPIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("fetcher.upstream_api_url %q is not an http(s) URL", cfg.Fetcher.UpstreamAPIURL))
	}
	if cfg.DonationAddress != "" && !models.ValidAddress(cfg.DonationAddress) {
		errs = append(errs, fmt.Sprintf("donation_address %q is not a Nexa address", cfg.DonationAddress))
	}
	return errs
}

// runConfigTest probes the node and the balance API for every stored wallet.
// Unless dry-running, fetched balances are written back and a missing config
// file is created from the defaults.
func runConfigTest(ctx context.Context, cfg config.Config, path string, st *store.Store, opts testOptions, out io.Writer) models.TestReport {
	say := func(format string, args ...interface{}) {
		if !opts.JSON {
			fmt.Fprintf(out, format, args...)
		}
	}
	report := models.TestReport{ConfigPath: path, ValidStructure: true, DryRun: opts.DryRun}
	defer func() {
		if opts.JSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)
		}
	}()

	say("Testing configuration at: %s\n", path)

	if errs := checkStructure(cfg); len(errs) > 0 {
		report.ValidStructure = false
		report.StructureErrors = errs
		for _, e := range errs {
			say("Error: %s\n", e)
		}
		return report
	}

	wallets := st.All()
	report.WalletCount = len(wallets)
	say("Found %d tracked wallets.\n", len(wallets))

	report.Node = models.EndpointResult{URL: cfg.Realtime.NodeURL}
	say("Node: %s ... ", cfg.Realtime.NodeURL)
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Realtime.DialTimeout())
	latency, err := realtime.Probe(probeCtx, cfg.Realtime.NodeURL, opts.Dialer)
	cancel()
	if err != nil {
		report.Node.Status = "error"
		report.Node.Error = err.Error()
		say("Failed: %v\n", err)
	} else {
		report.Node.Status = "ok"
		report.Node.Latency = latency.Round(time.Millisecond).String()
		say("OK (%s)\n", report.Node.Latency)
	}

	upstream := rpc.NewUpstream(cfg.Fetcher.UpstreamAPIURL, cfg.Fetcher.Timeout())
	report.BalanceAPI = models.EndpointResult{URL: cfg.Fetcher.UpstreamAPIURL}
	say("Balance API: %s ... ", cfg.Fetcher.UpstreamAPIURL)
	probeAddr := cfg.DonationAddress
	if probeAddr == "" && len(wallets) > 0 {
		probeAddr = wallets[0].Address
	}
	start := time.Now()
	if probeAddr == "" {
		report.BalanceAPI.Status = "skipped"
		say("Skipped (no address to query)\n")
	} else if _, err := upstream.Balance(ctx, probeAddr); err != nil {
		report.BalanceAPI.Status = "error"
		report.BalanceAPI.Error = err.Error()
		say("Failed: %v\n", err)
	} else {
		report.BalanceAPI.Status = "ok"
		report.BalanceAPI.Latency = time.Since(start).Round(time.Millisecond).String()
		say("OK (%s)\n", report.BalanceAPI.Latency)
	}

	for _, w := range wallets {
		res := models.WalletResult{Address: w.Address, Name: w.Name, Valid: models.ValidAddress(w.Address)}
		say("  %s (%s) ... ", w.Name, w.Address)
		bal, err := upstream.Balance(ctx, w.Address)
		if err != nil {
			res.Error = err.Error()
			say("Failed: %v\n", err)
			report.Wallets = append(report.Wallets, res)
			continue
		}
		total := bal.Total()
		res.Balance = &total
		say("%d", total)
		if total != w.Balance {
			res.Updated = true
			if opts.DryRun {
				say(" - CHANGED (DRY RUN)")
			} else if _, err := st.UpdateBalance(w.Address, total); err != nil {
				res.Error = err.Error()
				say(" - save failed: %v", err)
			} else {
				say(" - UPDATED")
			}
		}
		say("\n")
		report.Wallets = append(report.Wallets, res)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		report.ConfigUpdated = true
		say("\nNo configuration file found, writing defaults...\n")
		if opts.DryRun {
			say("Dry run enabled: Configuration NOT saved.\n")
		} else if err := config.SaveConfig(cfg, path); err != nil {
			report.SaveError = err.Error()
			say("Failed to save config: %v\n", err)
		} else {
			say("Configuration saved successfully.\n")
		}
	}
	return report
}
