package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"mercator-hq/cooldown/pkg/cli"
	"mercator-hq/cooldown/pkg/limits/policy"
)

var validateFlags struct {
	policyFile string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and policy files",
	Long: `Load the configuration with environment overrides and parse the policy
file, reporting every problem found.

Examples:
  # Validate the default files
  cooldown validate

  # Validate a different policy file against the same configuration
  cooldown validate --policies staging-policies.yaml`,
	RunE: validateFiles,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.policyFile, "policies", "", "policy file (overrides config)")
}

func validateFiles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid (%s)\n", cfgFile)

	path := cfg.Policies.FilePath
	if validateFlags.policyFile != "" {
		path = validateFlags.policyFile
	}
	return reportPolicies(out, path)
}

// reportPolicies parses the policy file at path and lists its features.
func reportPolicies(out io.Writer, path string) error {
	policies, err := policy.LoadFile(path)
	if err != nil {
		return cli.NewConfigError("policies.file_path", err.Error())
	}

	ids := make([]string, 0, len(policies))
	for id := range policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(out, "✓ Policy file valid (%s, %d features)\n", path, len(ids))
	for _, id := range ids {
		p := policies[id]
		fmt.Fprintf(out, "  %-16s limit=%d cooldown=%s min_tier=%s\n", id, p.Limit, p.CooldownDuration, p.MinTier)
	}
	return nil
}
