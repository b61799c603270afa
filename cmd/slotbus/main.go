// Package main runs a slotbus host: it loads a configuration file, creates the
// configured services, wires their connections and proxy channels, optionally
// bridges signals over NATS and serves metrics and health until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/slotbus/app"
	"github.com/c360/slotbus/config"
	"github.com/c360/slotbus/demo"
	"github.com/c360/slotbus/metric"
	"github.com/c360/slotbus/natsbridge"
	"github.com/c360/slotbus/pkg/retry"
	"github.com/c360/slotbus/service"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "slotbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	slog.Info("Starting slotbus",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"services", len(cfg.Services))

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}
	safeCfg := config.NewSafeConfig(cfg)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	metricsRegistry := metric.NewMetricsRegistry()
	registry := service.NewRegistry()
	if err := demo.Register(registry); err != nil {
		return fmt.Errorf("register services: %w", err)
	}
	slog.Info("service factories registered", "types", registry.Types())

	host := app.New(context.Background(),
		app.WithName(appName),
		app.WithLogger(logger),
		app.WithMetricsRegistry(metricsRegistry),
		app.WithServiceRegistry(registry),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := host.Close(shutdownCtx, cliCfg.ShutdownTimeout); err != nil {
			slog.Error("Error closing application", "error", err)
		}
	}()

	if err := host.Load(signalCtx, cfg); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cfg.NATS.URL != "" {
		stop, err := startBridge(signalCtx, host, cfg.NATS, logger, metricsRegistry)
		if err != nil {
			return err
		}
		defer stop()
	}

	if cfg.Metrics.Enabled {
		stop := startMetricsServer(host, cfg.Metrics, metricsRegistry)
		defer stop()
	}

	return runUntilSignal(signalCtx, host, cliCfg, safeCfg)
}

// loadConfig loads the file and applies the command line overrides
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
	if cliCfg.MetricsPort != 0 {
		cfg.Metrics.Port = cliCfg.MetricsPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// startBridge connects to NATS and applies the configured routes
func startBridge(
	ctx context.Context,
	host *app.App,
	cfg config.NATSConfig,
	logger *slog.Logger,
	metricsRegistry *metric.MetricsRegistry,
) (func(), error) {
	client, err := natsbridge.NewClient(cfg.URL,
		natsbridge.WithClientName(appName),
		natsbridge.WithClientLogger(logger),
		natsbridge.WithClientMetrics(metricsRegistry.CoreMetrics()),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.URL)
	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	retryCfg := retry.Quick()
	retryCfg.OnRetry = func(attempt int, err error) {
		slog.Warn("NATS connection failed, retrying", "attempt", attempt, "error", err)
	}
	if err := retry.Do(connCtx, retryCfg, func() error { return client.Connect(connCtx) }); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	codec, err := natsbridge.CodecByName(cfg.Codec)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, err
	}
	worker, err := host.Workers().GetOrCreate("natsbridge")
	if err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("create bridge worker: %w", err)
	}
	bridge, err := natsbridge.New(client,
		natsbridge.WithSubjectPrefix(cfg.SubjectPrefix),
		natsbridge.WithCodec(codec),
		natsbridge.WithRateLimit(cfg.PublishRate, cfg.PublishBurst),
		natsbridge.WithLogger(logger),
		natsbridge.WithMetrics(metricsRegistry.CoreMetrics()),
		natsbridge.WithWorker(worker),
	)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("create bridge: %w", err)
	}

	stop := func() {
		if err := bridge.Close(); err != nil {
			slog.Warn("Error closing bridge", "error", err)
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			slog.Warn("Error closing NATS client", "error", err)
		}
	}
	if err := host.Bridge(bridge, cfg); err != nil {
		stop()
		return nil, fmt.Errorf("apply bridge routes: %w", err)
	}
	slog.Info("NATS bridge ready", "routes", len(bridge.Routes()))
	return stop, nil
}

// startMetricsServer serves Prometheus metrics and the aggregated health
func startMetricsServer(host *app.App, cfg config.MetricsConfig, metricsRegistry *metric.MetricsRegistry) func() {
	server := metric.NewServer(cfg.Port, cfg.Path, metricsRegistry)
	server.SetHealthFunc(host.Health)

	go func() {
		if err := server.Start(); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	slog.Info("Metrics server started", "address", server.Address())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			slog.Warn("Error stopping metrics server", "error", err)
		}
	}
}

// runUntilSignal starts every service and blocks until ctx ends. SIGHUP reloads
// the configuration file.
func runUntilSignal(ctx context.Context, host *app.App, cliCfg *CLIConfig, safeCfg *config.SafeConfig) error {
	slog.Info("About to start all services")
	if err := host.StartAll(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("slotbus started successfully")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Received shutdown signal")
			return nil
		case <-hup:
			if err := reloadConfig(ctx, host, cliCfg, safeCfg); err != nil {
				slog.Error("Configuration reload failed", "error", err)
				continue
			}
			slog.Info("Configuration reloaded", "config_path", cliCfg.ConfigPath)
		}
	}
}

// reloadConfig re-reads the configuration file and reconfigures the running
// services. The file is kept as the current configuration only when every
// service accepted it.
func reloadConfig(ctx context.Context, host *app.App, cliCfg *CLIConfig, safeCfg *config.SafeConfig) error {
	next, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}
	if err := host.Reconfigure(ctx, next); err != nil {
		return err
	}
	return safeCfg.Update(next)
}
