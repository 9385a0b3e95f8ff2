// Command snapguardd monitors a PostgreSQL server's logical decoding
// snapshot directory and drops replication slots that force the directory
// over its retention quotas.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/snapguard-io/snapguard/internal/config"
	"github.com/snapguard-io/snapguard/internal/logging"
	"github.com/snapguard-io/snapguard/internal/metrics"
	"github.com/snapguard-io/snapguard/internal/monitor"
	"github.com/snapguard-io/snapguard/internal/registry/pg"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// restartDelay spaces out monitor restarts after an unexpected exit.
const restartDelay = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runMonitor(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "version", "--version", "-version":
		fmt.Printf("snapguardd version %s (built %s)\n", version, buildTime)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: snapguardd <command> [options]

Commands:
  run         Run the retention monitor until terminated
  check       Run a single retention cycle and exit
  version     Print version information

Run 'snapguardd <command> --help' for more information on a command.`)
}

// flagOverrides returns the override applying command-line flags on top of a
// loaded config. The same function is registered on the config Manager so a
// SIGHUP reload cannot revert a flag, most importantly --dry-run.
func flagOverrides(dir, dsn string, dryRun bool) func(*config.Config) error {
	return func(cfg *config.Config) error {
		if dir != "" {
			cfg.Snapshots.Dir = dir
		}
		if dsn != "" {
			cfg.Postgres.DSN = dsn
		}
		if dryRun {
			cfg.Monitor.DryRun = true
		}
		return cfg.Validate()
	}
}

// loadConfig loads configuration from the given path (or defaults plus
// environment) and applies flag overrides.
func loadConfig(configPath, dir, dsn string, dryRun bool) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := flagOverrides(dir, dsn, dryRun)(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMonitor(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dir := fs.String("dir", "", "Override snapshot directory")
	dsn := fs.String("dsn", "", "Override Postgres connection string")
	dryRun := fs.Bool("dry-run", false, "Log would-be drops without dropping")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath, *dir, *dsn, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	logger.Infof("starting snapguardd", map[string]any{
		"version":      version,
		"snapshotDir":  cfg.Snapshots.Dir,
		"maxSnapFiles": cfg.Snapshots.MaxSnapFiles,
		"maxDirSizeKB": cfg.Snapshots.MaxDirSizeKB,
		"dryRun":       cfg.Monitor.DryRun,
	})

	ctx := context.Background()
	registry, err := pg.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Errorf("failed to connect to postgres", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer registry.Close()

	mgr := config.NewManager(*configPath, cfg)
	mgr.SetOverride(flagOverrides(*dir, *dsn, *dryRun))
	monitorMetrics := metrics.NewMonitorMetrics()

	metricsServer := metrics.NewServer(cfg.Observability.MetricsAddr)
	if err := metricsServer.Start(); err != nil {
		logger.Errorf("failed to start metrics server", map[string]any{
			"addr":  cfg.Observability.MetricsAddr,
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Stop(shutdownCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	// Supervise the monitor: SIGHUP reloads config, SIGTERM/SIGINT stop,
	// and an unexpected exit restarts the loop after a short delay.
	for {
		mon := monitor.New(monitor.Options{
			Config:   mgr,
			Registry: registry,
			Signaler: registry,
			Metrics:  monitorMetrics,
			Logger:   logger,
		})
		mon.Start()

		restart := false
		for !restart {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					logger.Info("received SIGHUP, reloading configuration")
					mgr.MarkReloadPending()
					mon.Wake()
					continue
				}
				logger.Infof("shutting down", map[string]any{"signal": sig.String()})
				mon.Stop()
				return
			case <-mon.Done():
				logger.Error("monitor exited unexpectedly, restarting")
				mon.Stop()
				time.Sleep(restartDelay)
				restart = true
			}
		}
	}
}

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dir := fs.String("dir", "", "Override snapshot directory")
	dsn := fs.String("dsn", "", "Override Postgres connection string")
	drop := fs.Bool("drop", false, "Actually drop lagging slots (default is report-only)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath, *dir, *dsn, !*drop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	ctx := context.Background()
	registry, err := pg.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Errorf("failed to connect to postgres", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer registry.Close()

	mon := monitor.New(monitor.Options{
		Config:   config.NewManager(*configPath, cfg),
		Registry: registry,
		Signaler: registry,
		Logger:   logger,
	})

	cycleLog := logger.With(map[string]any{"cycleId": uuid.NewString()})
	if err := mon.Cycle(logging.WithLoggerCtx(ctx, cycleLog), cfg); err != nil {
		cycleLog.Errorf("check cycle failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
