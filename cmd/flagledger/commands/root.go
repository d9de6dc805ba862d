package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagledger/internal/cli"
	"github.com/TimurManjosov/flagledger/internal/client"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flagledger",
	Short: "CLI tool for managing feature flags",
	Long: `flagledger is a command-line tool for the flagledger decision service.

It manages flags, runs evaluations and reads decision analytics.

Examples:
  flagledger list --active
  flagledger create new_checkout --type percentage --percentage 25 --enabled
  flagledger evaluate new_checkout --user-id u1
  flagledger stats new_checkout --hours 48
  flagledger export -o flags.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the flagledger API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Admin API key")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment from the config file")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

// newAPIClient resolves the target environment and returns a client for it.
func newAPIClient(cmd *cobra.Command) (*client.Client, error) {
	envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Using environment '%s' (%s)\n", effectiveEnv, envCfg.BaseURL)
	}
	return client.NewClient(envCfg.BaseURL, envCfg.APIKey), nil
}

func outputFormat() (cli.OutputFormat, error) {
	return cli.ParseFormat(format)
}

// printf writes a status line unless --quiet is set.
func printf(cmd *cobra.Command, msg string, args ...any) {
	if quiet {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), msg, args...)
}
