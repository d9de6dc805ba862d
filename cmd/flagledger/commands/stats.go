package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagledger/internal/cli"
)

var (
	statsHours     int
	historyUserID  string
	historySession string
	historyLimit   int
)

var statsCmd = &cobra.Command{
	Use:   "stats <key>",
	Short: "Show decision statistics for a flag",
	Long: `Show how often a flag was enabled over the last hours.

Examples:
  flagledger stats new_checkout
  flagledger stats new_checkout --hours 168 --format json`,
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

		stats, err := c.FlagStats(cmd.Context(), args[0], statsHours)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintStats(cmd.OutOrStdout(), stats, f)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent decisions for a user or session",
	Long: `Show the newest recorded decisions for a user_id or session_id.

Examples:
  flagledger history --user-id u1
  flagledger history --session-id s-9 --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyUserID == "" && historySession == "" {
			return errors.New("either --user-id or --session-id is required")
		}
		f, err := outputFormat()
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		decisions, err := c.History(cmd.Context(), historyUserID, historySession, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to get history: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintHistory(cmd.OutOrStdout(), decisions, f)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)

	statsCmd.Flags().IntVar(&statsHours, "hours", 24, "Look-back window in hours")

	historyCmd.Flags().StringVar(&historyUserID, "user-id", "", "User identifier")
	historyCmd.Flags().StringVar(&historySession, "session-id", "", "Session identifier")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum decisions to show")
}
