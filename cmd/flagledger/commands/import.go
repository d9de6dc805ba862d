package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagledger/internal/cli"
)

var (
	importDryRun bool
	importForce  bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import flags from a file",
	Long: `Import flags from a YAML or JSON file written by export. Existing flags with the
same key are replaced.

Examples:
  flagledger import flags.yaml
  flagledger import flags.yaml --dry-run
  flagledger import flags.yaml --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		inputs, err := cli.ReadImport(data)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if verbose {
			fmt.Fprintf(out, "Found %d flag(s) to import\n", len(inputs))
		}

		if importDryRun {
			fmt.Fprintln(out, "Dry run mode - the following flags would be imported:")
			for _, in := range inputs {
				fmt.Fprintf(out, "  - %s (enabled: %v, rollout: %s)\n", in.Key, in.Enabled, in.RolloutType)
			}
			return nil
		}

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		successCount, errorCount := 0, 0
		for _, in := range inputs {
			if verbose {
				fmt.Fprintf(out, "Importing flag: %s\n", in.Key)
			}
			if _, err := c.CreateFlag(cmd.Context(), in); err != nil {
				errorCount++
				fmt.Fprintf(cmd.ErrOrStderr(), "Failed to import flag '%s': %v\n", in.Key, err)
				if !importForce {
					return errors.New("import failed, use --force to continue on errors")
				}
				continue
			}
			successCount++
		}

		printf(cmd, "Import complete: %d succeeded, %d failed\n", successCount, errorCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate without importing")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Continue on errors")
}
