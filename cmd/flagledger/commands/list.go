package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagledger/internal/cli"
)

var listActive bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List feature flags",
	Long: `List all feature flags, or only enabled ones with --active.

Examples:
  flagledger list
  flagledger list --active --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormat()
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		flags, err := c.ListFlags(cmd.Context(), listActive)
		if err != nil {
			return fmt.Errorf("failed to list flags: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintFlags(cmd.OutOrStdout(), flags, f)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listActive, "active", false, "Only list enabled flags")
}
