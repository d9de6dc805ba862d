package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagledger/internal/cli"
	"github.com/TimurManjosov/flagledger/internal/client"
)

var (
	evalUserID    string
	evalSessionID string
	evalAttrs     []string
	evalCheck     bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <key>",
	Short: "Evaluate a flag for a context",
	Long: `Evaluate a flag and print the decision. The evaluation is recorded for analytics
unless --check is given.

Attribute values are parsed as JSON when possible, so --attr age=42 sends a number
and --attr country=DE sends a string.

Examples:
  flagledger evaluate new_checkout --user-id u1
  flagledger evaluate new_checkout --session-id s-9 --attr country=DE
  flagledger evaluate new_checkout --user-id u1 --check`,
	Aliases: []string{"eval"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		f, err := outputFormat()
		if err != nil {
			return err
		}
		evalCtx, err := buildContext(evalUserID, evalSessionID, evalAttrs)
		if err != nil {
			return err
		}

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		var res client.Evaluation
		if evalCheck {
			enabled, err := c.Check(cmd.Context(), key, evalCtx)
			if err != nil {
				return fmt.Errorf("failed to check flag: %w", err)
			}
			res = client.Evaluation{Key: key, Enabled: enabled}
		} else {
			res, err = c.Evaluate(cmd.Context(), key, evalCtx)
			if err != nil {
				return fmt.Errorf("failed to evaluate flag: %w", err)
			}
		}

		if quiet {
			return nil
		}
		return cli.PrintEvaluation(cmd.OutOrStdout(), res, f)
	},
}

func buildContext(userID, sessionID string, attrs []string) (map[string]any, error) {
	ctx := map[string]any{}
	for _, attr := range attrs {
		name, raw, ok := strings.Cut(attr, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --attr %q: expected key=value", attr)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		ctx[name] = v
	}
	if userID != "" {
		ctx["user_id"] = userID
	}
	if sessionID != "" {
		ctx["session_id"] = sessionID
	}
	return ctx, nil
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evalUserID, "user-id", "", "user_id in the evaluation context")
	evaluateCmd.Flags().StringVar(&evalSessionID, "session-id", "", "session_id in the evaluation context")
	evaluateCmd.Flags().StringArrayVar(&evalAttrs, "attr", nil, "Extra context attribute as key=value (repeatable)")
	evaluateCmd.Flags().BoolVar(&evalCheck, "check", false, "Only report enabled, without recording a decision")
}
