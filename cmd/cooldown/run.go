package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/cooldown/pkg/cli"
	"mercator-hq/cooldown/pkg/config"
	"mercator-hq/cooldown/pkg/limits"
	"mercator-hq/cooldown/pkg/limits/policy"
	"mercator-hq/cooldown/pkg/server"
	"mercator-hq/cooldown/pkg/telemetry/health"
	"mercator-hq/cooldown/pkg/telemetry/logging"
	"mercator-hq/cooldown/pkg/telemetry/metrics"
	"mercator-hq/cooldown/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the limit engine and admin API",
	Long: `Start the limit engine with the specified configuration.

The engine loads persisted usage, expires cooldowns that ran out while it
was stopped and serves the admin API. SIGHUP reloads the policy file and
validates the configuration file, whose other changes apply on restart;
SIGCONT reconciles cooldowns after the host resumes from suspend.

Examples:
  # Start with default config
  cooldown run

  # Start with custom config
  cooldown run --config /etc/cooldown/config.yaml

  # Override the admin listen address
  cooldown run --listen 0.0.0.0:9090

  # Validate configuration without starting
  cooldown run --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.listenAddress, "listen", "", "admin listen address (overrides config)")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate configuration without starting")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Admin.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, signals := cli.SetupSignalHandler(cmd.Context())
	defer signals.Stop()

	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)

	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to open storage: %w", err))
	}
	defer backend.Close()

	engine, policies, err := newEngine(cfg, backend, engineDeps{
		logger:  logging.Component(logger, "limits"),
		metrics: limits.NewMetrics(collector.Namespace(), collector.Registry()),
		tracer:  tracer.Tracer("mercator-hq/cooldown/pkg/limits"),
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			logger.Error("engine close failed", "error", err)
		}
	}()
	engine.OnExpired(limits.NewLogSubscriber(logging.Component(logger, "events")))

	if err := engine.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	if cfg.Policies.Watch {
		go func() {
			if err := policies.Watch(ctx, cfg.Policies.Debounce); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("policy watcher stopped", "error", err)
			}
		}()
	}

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.Register("storage", health.PingCheck(backend))
	checker.Register("engine", health.RunningCheck("engine", engine.Running))
	checker.RegisterOptional("policies", health.PolicyCheck(policies))

	opts := server.Options{
		Limiter:   engine,
		Logger:    logging.Component(logger, "admin"),
		Health:    checker,
		Tracer:    tracer.Tracer("mercator-hq/cooldown/pkg/server"),
		Reload:    func(context.Context) error { return policies.Reload() },
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	}
	if cfg.Telemetry.Metrics.Enabled {
		opts.Metrics = collector
		opts.MetricsPath = cfg.Telemetry.Metrics.Path
	}
	srv, err := server.New(cfg.Admin, opts)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	printBanner(cmd, cfg, policies)

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return cli.NewCommandError("run", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Stopped")
			return nil

		case <-signals.Resume:
			resumeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, err := engine.Resume(resumeCtx); err != nil {
				logger.Error("resume reconciliation failed", "error", err)
			}
			cancel()

		case <-signals.Reload:
			reload(logger, policies)
		}
	}
}

// reload re-reads the policy file and validates the configuration file.
// Only policies change live; other configuration applies on restart.
func reload(logger *slog.Logger, policies *policy.FileProvider) {
	if err := policies.Reload(); err != nil {
		logger.Error("policy reload failed, keeping previous policies", "error", err)
	} else {
		logger.Info("policies reloaded", "features", len(policies.Features()))
	}
	if _, err := config.LoadConfigWithEnvOverrides(cfgFile); err != nil {
		logger.Error("configuration file invalid", "error", err)
		return
	}
	logger.Info("configuration validated, changes apply on restart")
}

func printBanner(cmd *cobra.Command, cfg *config.Config, policies *policy.FileProvider) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cooldown v%s\n", Version)
	fmt.Fprintf(out, "✓ Configuration loaded from %s\n", cfgFile)
	fmt.Fprintf(out, "✓ Storage: %s\n", cfg.Storage.Backend)
	if _, err := policies.Status(); err == nil {
		fmt.Fprintf(out, "✓ Policies loaded (%d features)\n", len(policies.Features()))
	} else {
		fmt.Fprintf(out, "! Policies not loaded, using default policy: %v\n", err)
	}
	fmt.Fprintf(out, "✓ Admin API: http://%s\n", cfg.Admin.ListenAddress)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
