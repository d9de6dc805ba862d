package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagledger/internal/cli"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a feature flag",
	Long: `Show a single feature flag.

Examples:
  flagledger get new_checkout
  flagledger get new_checkout --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormat()
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		flag, err := c.GetFlag(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get flag: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintFlag(cmd.OutOrStdout(), flag, f)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
