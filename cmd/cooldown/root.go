package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/cooldown/pkg/cli"
	"mercator-hq/cooldown/pkg/config"
	"mercator-hq/cooldown/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile  string
	envFiles []string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "cooldown",
	Short: "Cooldown - tiered usage limits with cooldowns",
	Long: `Cooldown limits how often a feature can be used per cycle.

Each feature has a policy: a use count, a cooldown duration and the minimum
subscription tier that skips the limit. Once the limit is reached the
cooldown starts the first time the caller is prompted, and usage resets
when it runs out.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return cli.NewConfigError("env-file", err.Error())
		}
		return nil
	},
}

// Execute runs the root command and exits with a status derived from the
// returned error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before configuration (missing files are skipped)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig initializes the process-wide configuration and returns this
// command's copy of it, with flag overrides applied.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := *config.GetConfig()
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return &cfg, nil
}

// quietLogger is the console logger for one-shot commands: warnings only,
// unless --verbose is set.
func quietLogger() *slog.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "console", Writer: os.Stderr})
	if err != nil {
		return slog.Default()
	}
	return logger
}
