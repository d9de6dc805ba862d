package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var updateOpts flagOptions

var updateCmd = &cobra.Command{
	Use:   "update <key>",
	Short: "Update a feature flag",
	Long: `Change selected fields of an existing flag. Fields whose options are not given
keep their stored value.

Examples:
  flagledger update new_checkout --enabled=false
  flagledger update new_checkout --percentage 50
  flagledger update summer_sale --ends-at none`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := updateFields(cmd)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return errors.New("nothing to update, pass at least one option")
		}

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		flag, err := c.UpdateFlag(cmd.Context(), args[0], fields)
		if err != nil {
			return fmt.Errorf("failed to update flag: %w", err)
		}

		printf(cmd, "Successfully updated flag '%s'\n", flag.Key)
		return nil
	},
}

// updateFields turns the options the user actually passed into a partial update body.
func updateFields(cmd *cobra.Command) (map[string]any, error) {
	fs := cmd.Flags()
	fields := map[string]any{}

	if fs.Changed("name") {
		fields["name"] = updateOpts.name
	}
	if fs.Changed("description") {
		fields["description"] = updateOpts.description
	}
	if fs.Changed("enabled") {
		fields["is_enabled"] = updateOpts.enabled
	}

	rolloutType := updateOpts.rolloutType
	if fs.Changed("type") {
		fields["rollout_type"] = rolloutType
	}
	if fs.Changed("percentage") || fs.Changed("user-ids") {
		if !fs.Changed("type") {
			// infer the payload shape from whichever option was given
			rolloutType = "percentage"
			if fs.Changed("user-ids") {
				rolloutType = "user_list"
			}
		}
		value, err := updateOpts.rolloutValue(rolloutType)
		if err != nil {
			return nil, err
		}
		fields["rollout_value"] = value
	}

	for _, bound := range []struct {
		option, field string
		value         string
	}{
		{"starts-at", "starts_at", updateOpts.startsAt},
		{"ends-at", "ends_at", updateOpts.endsAt},
	} {
		if !fs.Changed(bound.option) {
			continue
		}
		t, err := parseTime(bound.option, bound.value)
		if err != nil {
			return nil, err
		}
		fields[bound.field] = t
	}
	return fields, nil
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateOpts.register(updateCmd.Flags(), "")
}
