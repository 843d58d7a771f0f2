package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/cooldown/pkg/cli"
	"mercator-hq/cooldown/pkg/config"
	"mercator-hq/cooldown/pkg/limits"
	"mercator-hq/cooldown/pkg/limits/storage"
)

var usageFlags struct {
	output string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect and reset stored usage",
	Long: `Inspect and reset usage records in the configured storage backend.

Examples:
  # List every stored record
  cooldown usage list

  # Show the current decision for a feature
  cooldown usage show refresh
  cooldown usage show refresh partner-42 -o json

  # Reset a key
  cooldown usage reset refresh global`,
}

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored usage records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUsageConfig(cmd, func(ctx context.Context, cfg *config.Config, f cli.Formatter) error {
			return listUsage(ctx, cfg, f, cmd.OutOrStdout())
		})
	},
}

var usageShowCmd = &cobra.Command{
	Use:   "show FEATURE [SCOPE]",
	Short: "Show the limit decision and usage for a key",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		feature, scope := keyArgs(args)
		return withUsageConfig(cmd, func(ctx context.Context, cfg *config.Config, f cli.Formatter) error {
			return showUsage(ctx, cfg, f, cmd.OutOrStdout(), feature, scope)
		})
	},
}

var usageResetCmd = &cobra.Command{
	Use:   "reset FEATURE [SCOPE]",
	Short: "Reset the counter and cooldown of a key",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		feature, scope := keyArgs(args)
		return withUsageConfig(cmd, func(ctx context.Context, cfg *config.Config, _ cli.Formatter) error {
			if err := resetUsage(ctx, cfg, feature, scope); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Reset %s:%s\n", feature, scope)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageListCmd, usageShowCmd, usageResetCmd)

	usageCmd.PersistentFlags().StringVarP(&usageFlags.output, "output", "o", "text", "output format: text, json, csv")
}

func keyArgs(args []string) (string, string) {
	if len(args) == 2 {
		return args[0], args[1]
	}
	return args[0], limits.GlobalScope
}

func withUsageConfig(cmd *cobra.Command, fn func(context.Context, *config.Config, cli.Formatter) error) error {
	format, err := cli.ParseOutputFormat(usageFlags.output)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fn(ctx, cfg, cli.NewFormatter(format)); err != nil {
		return cli.NewCommandError("usage "+cmd.Name(), err)
	}
	return nil
}

// recordTable renders usage records.
type recordTable []*storage.UsageRecord

func (t recordTable) Header() []string {
	return []string{"FEATURE", "SCOPE", "COUNT", "COOLDOWN_START", "UPDATED"}
}

func (t recordTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		start := "-"
		if r.CooldownStartAt != nil {
			start = r.CooldownStartAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			r.FeatureID,
			r.ScopeKey,
			strconv.Itoa(r.Count),
			start,
			r.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func listUsage(ctx context.Context, cfg *config.Config, f cli.Formatter, out io.Writer) error {
	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	records, err := backend.List(ctx)
	if err != nil {
		return err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key().String() < records[j].Key().String()
	})
	return f.FormatTo(out, recordTable(records))
}

// keyStatus is the output of usage show.
type keyStatus struct {
	Feature string              `json:"feature"`
	Scope   string              `json:"scope"`
	Check   limits.CheckResult  `json:"check"`
	Usage   *limits.UsageRecord `json:"usage,omitempty"`
}

func (s keyStatus) Header() []string {
	return []string{"FIELD", "VALUE"}
}

func (s keyStatus) Rows() [][]string {
	rows := [][]string{
		{"feature", s.Feature},
		{"scope", s.Scope},
		{"can_proceed", strconv.FormatBool(s.Check.CanProceed)},
		{"requires_prompt", strconv.FormatBool(s.Check.RequiresPrompt)},
		{"bypassed", strconv.FormatBool(s.Check.Bypassed)},
		{"usage", fmt.Sprintf("%d/%d", s.Check.CurrentUsage, s.Check.Limit)},
		{"remaining_cooldown", s.Check.RemainingCooldown.Round(time.Second).String()},
	}
	if s.Usage != nil && s.Usage.CooldownStartAt != nil {
		rows = append(rows, []string{"cooldown_start", s.Usage.CooldownStartAt.UTC().Format(time.RFC3339)})
	}
	return rows
}

func showUsage(ctx context.Context, cfg *config.Config, f cli.Formatter, out io.Writer, feature, scope string) error {
	return withOfflineEngine(ctx, cfg, func(engine *limits.Engine) error {
		res, err := engine.Check(ctx, feature, scope)
		if err != nil {
			return err
		}
		status := keyStatus{Feature: feature, Scope: scope, Check: res}
		if rec, ok, err := engine.Usage(ctx, feature, scope); err == nil && ok {
			status.Usage = &rec
		}
		return f.FormatTo(out, status)
	})
}

func resetUsage(ctx context.Context, cfg *config.Config, feature, scope string) error {
	return withOfflineEngine(ctx, cfg, func(engine *limits.Engine) error {
		return engine.Reset(ctx, feature, scope)
	})
}

// withOfflineEngine runs fn against an engine that is never started: no
// sweep runs, and writes reach storage before the backend is closed.
func withOfflineEngine(ctx context.Context, cfg *config.Config, fn func(*limits.Engine) error) error {
	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	offline := *cfg
	offline.Engine.FlushInterval = 0

	engine, _, err := newEngine(&offline, backend, engineDeps{logger: quietLogger()})
	if err != nil {
		return err
	}
	fnErr := fn(engine)
	if err := engine.Close(ctx); err != nil && fnErr == nil {
		fnErr = err
	}
	return fnErr
}
