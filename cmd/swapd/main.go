// Package main provides the swapd daemon - a hash- and time-locked swap
// coordinator over hosted asset ledgers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/klingon-exchange/klingon-swap/internal/access"
	"github.com/klingon-exchange/klingon-swap/internal/audit"
	"github.com/klingon-exchange/klingon-swap/internal/commitment"
	"github.com/klingon-exchange/klingon-swap/internal/config"
	"github.com/klingon-exchange/klingon-swap/internal/custody"
	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/registry"
	"github.com/klingon-exchange/klingon-swap/internal/rpc"
	"github.com/klingon-exchange/klingon-swap/internal/storage"
	"github.com/klingon-exchange/klingon-swap/internal/swap"
	"github.com/klingon-exchange/klingon-swap/internal/txn"
	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.klingon-swap", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		backendName = flag.String("backend", "", "Storage backend (sqlite, memory), overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		logFile     = flag.String("log-file", "", "Log file path, overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("swapd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load or create config file
	cfgDir := *dataDir
	if *configFile != "" {
		cfgDir = filepath.Dir(*configFile)
	}
	cfg, err := config.LoadConfig(cfgDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *backendName != "" {
		cfg.Storage.Backend = *backendName
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "error", err)
	}

	// Update logging with config level and output
	logCfg := &logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	}
	if cfg.Logging.File != "" {
		out, closeLog, err := logging.OpenFile(config.ExpandPath(cfg.Logging.File))
		if err != nil {
			log.Fatal("Failed to open log file", "error", err)
		}
		defer closeLog()
		logCfg.Output = out
	}
	log = logging.New(logCfg)
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(cfgDir))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the host: storage, registry and ledgers share one atomic scope
	h, err := newHost(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer h.close()
	log.Info("Storage initialized", "backend", cfg.Storage.Backend, "path", h.path)

	adapter, err := custody.New(custody.Config{Account: cfg.Swap.CustodyAccount, Runner: h.runner})
	if err != nil {
		log.Fatal("Failed to initialize custody", "error", err)
	}
	for _, lc := range cfg.Ledgers {
		l, err := h.ledger(lc, cfg.Swap.CustodyAccount, log)
		if err != nil {
			log.Fatal("Failed to initialize ledger", "ledger", lc.Name, "error", err)
		}
		if err := adapter.Register(l); err != nil {
			log.Fatal("Failed to register ledger", "ledger", lc.Name, "error", err)
		}
		if err := seed(ctx, l, lc.Seed, log); err != nil {
			log.Fatal("Failed to seed ledger", "ledger", lc.Name, "error", err)
		}
	}
	log.Info("Ledgers registered", "ledgers", adapter.Ledgers(), "custody", adapter.Account())

	// Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := swap.NewMetrics(promReg)
	if err != nil {
		log.Fatal("Failed to register metrics", "error", err)
	}

	// Audit sinks: log, sqlite trail, WebSocket stream
	sinks := audit.Multi{audit.NewLogSink(log)}
	var trail rpc.TrailSource
	if h.store != nil {
		storeSink := audit.NewStoreSink(h.store)
		sinks = append(sinks, storeSink)
		trail = storeSink
	}
	var hub *rpc.WSHub
	if cfg.RPC.EnableWS {
		hub = rpc.NewWSHub()
		sinks = append(sinks, hub)
	}
	auditSink := audit.NewAsync(sinks, cfg.Swap.AuditQueue, log)
	defer auditSink.Close()

	// Initialize swap coordinator
	coordinator, err := swap.NewCoordinator(&swap.CoordinatorConfig{
		Registry:             h.registry,
		Custody:              adapter,
		Runner:               h.runner,
		Policy:               cfg.TimeoutPolicy(),
		Access:               access.NewList(cfg.Access.Allow, cfg.Access.Deny),
		Audit:                auditSink,
		Metrics:              metrics,
		Logger:               log,
		IDScheme:             swap.IDScheme(cfg.Swap.IDScheme),
		DefaultScheme:        commitment.Scheme(cfg.Swap.DefaultScheme),
		StrictCompleteWindow: cfg.Swap.StrictCompleteWindow,
	})
	if err != nil {
		log.Fatal("Failed to create coordinator", "error", err)
	}
	if err := coordinator.SyncOpenGauge(ctx); err != nil {
		log.Warn("Failed to count open swaps", "error", err)
	}
	log.Info("Swap coordinator initialized", "id_scheme", coordinator.IDScheme(), "default_scheme", coordinator.DefaultScheme())

	// Start expiry monitor
	monitor := swap.NewMonitor(&swap.MonitorConfig{
		Coordinator: coordinator,
		Registry:    h.registry,
		Interval:    cfg.Swap.MonitorInterval,
		AutoRefund:  cfg.Swap.AutoRefund,
		Operator:    cfg.Swap.OperatorAccount,
		Logger:      log,
	})
	monitor.Start()

	// Start RPC server
	var gatherer prometheus.Gatherer
	if cfg.RPC.EnableMetrics {
		gatherer = promReg
	}
	rpcServer, err := rpc.NewServer(&rpc.Config{
		Coordinator: coordinator,
		Trail:       trail,
		Hub:         hub,
		Gatherer:    gatherer,
		DataDir:     h.path,
		Backend:     cfg.Storage.Backend,
		Logger:      log,
	})
	if err != nil {
		log.Fatal("Failed to create RPC server", "error", err)
	}
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, adapter)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	// Graceful shutdown
	cancel()
	monitor.Stop()
	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if n := auditSink.Dropped(); n > 0 {
		log.Warn("Audit events dropped", "count", n)
	}

	log.Info("Goodbye!")
}

// host bundles the storage backend behind the coordinator.
type host struct {
	runner   txn.Runner
	registry registry.Registry
	store    *storage.Storage // nil for the memory backend
	journal  *txn.Journal     // nil for the sqlite backend
	path     string
}

func newHost(cfg *config.Config, log *logging.Logger) (*host, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		log.Warn("Using the memory backend, state is lost on exit")
		j := txn.NewJournal()
		reg := registry.NewMemory()
		j.Add(reg)
		return &host{runner: j, registry: reg, journal: j}, nil
	}

	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		return nil, err
	}
	return &host{runner: store, registry: registry.NewSQL(store), store: store, path: store.Path()}, nil
}

func (h *host) ledger(lc config.LedgerConfig, custodian string, log *logging.Logger) (*ledger.Ledger, error) {
	kind, err := ledger.ParseKind(lc.Kind)
	if err != nil {
		return nil, err
	}
	lcfg := ledger.Config{
		Name:      lc.Name,
		Kind:      kind,
		Custodian: custodian,
		AllowMint: lc.AllowMint,
		Decimals:  lc.Decimals,
		Logger:    log,
	}
	if h.store != nil {
		return ledger.NewSQL(lcfg, h.store)
	}
	l, err := ledger.NewMemory(lcfg, h.journal)
	if err != nil {
		return nil, err
	}
	h.journal.Add(l)
	return l, nil
}

func (h *host) close() {
	if h.store != nil {
		h.store.Close()
	}
}

// seed mints the configured initial balances once.
func seed(ctx context.Context, l *ledger.Ledger, seeds []config.SeedConfig, log *logging.Logger) error {
	for _, s := range seeds {
		seeded, err := l.Seed(ctx, s.Account, s.Asset, s.Quantity)
		if err != nil {
			return fmt.Errorf("seed %s/%s: %w", s.Account, s.Asset, err)
		}
		if seeded {
			log.Info("Seeded balance", "ledger", l.Name(), "account", s.Account, "asset", s.Asset, "quantity", s.Quantity)
		}
	}
	return nil
}

func printBanner(log *logging.Logger, cfg *config.Config, adapter *custody.Adapter) {
	addr := cfg.RPC.Listen

	log.Info("")
	log.Info("=================================================")
	log.Info("  Klingon Swap Coordinator")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", addr)
	if cfg.RPC.EnableWS {
		log.Infof("  WS:  ws://%s/ws", addr)
	}
	if cfg.RPC.EnableMetrics {
		log.Infof("  Metrics: http://%s/metrics", addr)
	}
	log.Info("")
	log.Infof("  Custody: %s | Ledgers: %v", adapter.Account(), adapter.Ledgers())
	log.Infof("  Backend: %s | Data dir: %s", cfg.Storage.Backend, config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
