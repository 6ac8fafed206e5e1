// Package main is the entry point for the trading runtime supervisor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hoangson/trading-runtime/internal/alerting"
	"github.com/hoangson/trading-runtime/internal/config"
	"github.com/hoangson/trading-runtime/internal/connector"
	"github.com/hoangson/trading-runtime/internal/connector/binancews"
	"github.com/hoangson/trading-runtime/internal/connector/paper"
	"github.com/hoangson/trading-runtime/internal/credentials"
	"github.com/hoangson/trading-runtime/internal/executor"
	"github.com/hoangson/trading-runtime/internal/executor/strategies"
	"github.com/hoangson/trading-runtime/internal/metrics"
	"github.com/hoangson/trading-runtime/internal/persistence"
	"github.com/hoangson/trading-runtime/internal/trading"
	"github.com/hoangson/trading-runtime/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Trading Runtime - Multi-Account Executor Supervisor

Usage:
  trading-runtime <command> [options]

Commands:
  run        Start the runtime supervisor
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  trading-runtime run --config config.yaml
  trading-runtime run --config config.yaml --executors bootstrap.yaml
  trading-runtime validate --config config.yaml

Use "trading-runtime <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("trading-runtime version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Exchanges: %d\n", len(cfg.Connector.Exchanges))
	for _, ex := range cfg.Connector.Exchanges {
		mode := "live"
		if ex.Paper {
			mode = "paper"
		}
		fmt.Printf("    %s (%s, %s)\n", ex.Name, ex.Kind, mode)
	}
	fmt.Printf("  Control interval: %s\n", cfg.ControlInterval())
	fmt.Printf("  Persistence: %v\n", cfg.Persistence.Enabled)
	fmt.Printf("  Metrics: %v (port %d)\n", cfg.Metrics.Enabled, cfg.Metrics.Port)
}

// bootstrapSpec is one executor to start at boot, loaded from --executors.
type bootstrapSpec struct {
	Account string         `yaml:"account"`
	Spec    map[string]any `yaml:"spec"`
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	executorsPath := fs.String("executors", "", "Optional YAML file of executors to start at boot")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("trading runtime starting",
		"version", Version,
		"exchanges", len(cfg.Connector.Exchanges),
		"control_interval", cfg.ControlInterval(),
	)

	creds, err := loadCredentials(cfg)
	if err != nil {
		slog.Error("failed to load credentials", "err", err)
		os.Exit(1)
	}

	var repo persistence.Repository
	var orderStore connector.OpenOrderStore
	if cfg.Persistence.Enabled {
		sqlRepo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			slog.Error("failed to open repository", "path", cfg.Persistence.Path, "err", err)
			os.Exit(1)
		}
		repo = sqlRepo
		orderStore = sqlRepo
		slog.Info("persistence ready", "path", cfg.Persistence.Path)
	}

	var alerter *alerting.MultiAlerter
	if cfg.Alerting.Enabled {
		alerter = alerting.NewMultiAlerter(logger)
		for _, ch := range cfg.Alerting.Channels {
			if ch == "console" {
				alerter.AddAlerter(alerting.NewConsoleAlerter(logger))
			}
		}
	}

	rec := metrics.NewRecorder()
	registry := connector.NewRegistry(cfg, creds, adapterFactories(cfg, logger), orderStore, rec, logger)
	facades := trading.NewService(registry, logger)

	typeReg := executor.NewTypeRegistry()
	strategies.Register(typeReg)

	execSvc := executor.NewService(typeReg, facades, repo, rec, alerter,
		cfg.ControlInterval(), cfg.BookReadyTimeout(), logger)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
		}, logger)
		metricsSrv.RegisterHealthCheck("sessions", func() metrics.Check {
			return metrics.Check{
				Status:  "healthy",
				Message: fmt.Sprintf("%d sessions", len(registry.Sessions())),
			}
		})
		metricsSrv.RegisterHealthCheck("executors", func() metrics.Check {
			sum := execSvc.Summarize()
			return metrics.Check{
				Status:  "healthy",
				Message: fmt.Sprintf("%d active", sum.ActiveTotal),
			}
		})
		metricsSrv.Start()
	}

	// Startup recovery runs before the control loop accepts work.
	if repo != nil {
		if n, err := execSvc.CleanupOrphans(ctx); err != nil {
			slog.Error("orphan cleanup failed", "err", err)
		} else if n > 0 {
			slog.Info("cleaned up orphaned executor records", "count", n)
		}
		if n, err := execSvc.RecoverPositions(ctx); err != nil {
			slog.Error("position recovery failed", "err", err)
		} else if n > 0 {
			slog.Info("recovered held positions", "count", n)
		}
	}

	execSvc.Start(ctx)

	if alerter != nil {
		alerter.AlertEvent(ctx, alerting.EventRuntimeStarted,
			"trading runtime started", "version", Version)
	}

	if *executorsPath != "" {
		if err := startBootstrapExecutors(ctx, execSvc, *executorsPath); err != nil {
			slog.Error("bootstrap executors failed", "err", err)
		}
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	shutdown(shutdownCtx, cfg, execSvc, registry, repo, metricsSrv, alerter)
	slog.Info("trading runtime shutdown complete")
}

// loadCredentials loads the credential store, or falls back to a static
// paper account when no file is configured and every exchange is simulated.
func loadCredentials(cfg *config.Config) (credentials.Provider, error) {
	if cfg.Credentials.Path != "" {
		return credentials.LoadFile(cfg.Credentials.Path)
	}

	for _, ex := range cfg.Connector.Exchanges {
		if !ex.Paper {
			return nil, fmt.Errorf("credentials.path is required when exchange %q is not paper", ex.Name)
		}
	}

	keys := make(map[string]credentials.Keys, len(cfg.Connector.Exchanges))
	for _, ex := range cfg.Connector.Exchanges {
		keys[ex.Name] = credentials.Keys{APIKey: "paper", APISecret: "paper"}
	}
	return credentials.Static(map[string]map[string]credentials.Keys{
		"paper": keys,
	}), nil
}

func adapterFactories(cfg *config.Config, logger *slog.Logger) map[string]connector.AdapterFactory {
	factories := make(map[string]connector.AdapterFactory, len(cfg.Connector.Exchanges))
	for _, ex := range cfg.Connector.Exchanges {
		switch {
		case ex.Paper:
			factories[ex.Name] = func(exCfg config.ExchangeConfig) (connector.Adapter, error) {
				pc := paper.DefaultConfig(exCfg.Name)
				pc.Derivative = exCfg.Kind == "perpetual"
				return paper.New(pc, logger), nil
			}
		case ex.Name == "binance":
			factories[ex.Name] = func(exCfg config.ExchangeConfig) (connector.Adapter, error) {
				return binancews.New(binancews.Config{
					RESTHost:       exCfg.RESTHost,
					WSHost:         exCfg.WSHost,
					ReconnectDelay: cfg.FeedReconnectDelay(),
					RatePerSec:     exCfg.RatePerSec,
				}, logger), nil
			}
		default:
			name := ex.Name
			factories[name] = func(config.ExchangeConfig) (connector.Adapter, error) {
				return nil, fmt.Errorf("no adapter available for exchange %q", name)
			}
		}
	}
	return factories
}

func startBootstrapExecutors(ctx context.Context, svc *executor.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read executors file: %w", err)
	}

	var specs []bootstrapSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("parse executors file: %w", err)
	}

	for i, spec := range specs {
		if spec.Account == "" {
			slog.Warn("skipping bootstrap executor without account", "index", i)
			continue
		}
		info, err := svc.CreateExecutor(ctx, spec.Account, spec.Spec)
		if err != nil {
			slog.Error("failed to start bootstrap executor", "index", i, "err", err)
			continue
		}
		slog.Info("started bootstrap executor",
			"id", info.ID,
			"type", info.Type,
			"account", spec.Account,
		)
	}
	return nil
}

func shutdown(
	ctx context.Context,
	cfg *config.Config,
	execSvc *executor.Service,
	registry *connector.Registry,
	repo persistence.Repository,
	metricsSrv *metrics.Server,
	alerter *alerting.MultiAlerter,
) {
	slog.Info("starting graceful shutdown", "timeout", cfg.ShutdownTimeout())

	if alerter != nil {
		alerter.AlertEvent(ctx, alerting.EventRuntimeStopped, "trading runtime stopping")
	}

	// Ask executors to wind down and wait briefly for them to close.
	// Stop runs a final completion scan, so everything closed by then
	// gets a terminal record instead of surfacing as an orphan on the
	// next boot.
	execSvc.StopAllExecutors(false)
	deadline := time.Now().Add(cfg.ControlInterval() + 200*time.Millisecond)
	for time.Now().Before(deadline) {
		if allExecutorsClosed(execSvc) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	execSvc.Stop()

	registry.StopAll()

	if repo != nil {
		if err := repo.Close(); err != nil {
			slog.Warn("failed to close repository", "err", err)
		}
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
}

func allExecutorsClosed(execSvc *executor.Service) bool {
	for _, info := range execSvc.ListActive() {
		if info.Status != types.RunStatusTerminated {
			return false
		}
	}
	return true
}
