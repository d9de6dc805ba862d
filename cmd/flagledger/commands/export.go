package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagledger/internal/cli"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export flags to a file",
	Long: `Export all flags to a YAML or JSON file. YAML is used unless --format json is given.

Examples:
  flagledger export --output flags.yaml
  flagledger export --output flags.json --format json
  flagledger export > backup.yaml`,
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

		flags, err := c.ListFlags(cmd.Context(), false)
		if err != nil {
			return fmt.Errorf("failed to list flags: %w", err)
		}

		var out io.Writer = cmd.OutOrStdout()
		toFile := exportOutput != "" && exportOutput != "-"
		if toFile {
			file, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer file.Close()
			out = file
		}

		if err := cli.WriteExport(out, flags, f); err != nil {
			return fmt.Errorf("failed to export flags: %w", err)
		}

		if toFile && !quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "Successfully exported %d flag(s) to %s\n", len(flags), exportOutput)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}
