package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagledger/internal/service"
)

var createOpts flagOptions

var createCmd = &cobra.Command{
	Use:   "create <key>",
	Short: "Create a new feature flag",
	Long: `Create a feature flag, replacing any flag with the same key.

Examples:
  flagledger create dark_mode --enabled
  flagledger create new_checkout --enabled --type percentage --percentage 25
  flagledger create beta_testers --enabled --type user_list --user-ids u1,u2
  flagledger create summer_sale --enabled --type scheduled --starts-at 2024-06-01T00:00:00Z --ends-at 2024-09-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		in := service.FlagInput{
			Key:         key,
			Name:        createOpts.name,
			Description: createOpts.description,
			Enabled:     createOpts.enabled,
			RolloutType: createOpts.rolloutType,
		}
		if in.Name == "" {
			in.Name = key
		}

		var err error
		if in.RolloutValue, err = createOpts.rolloutValue(in.RolloutType); err != nil {
			return err
		}
		if in.StartsAt, err = parseTime("starts-at", createOpts.startsAt); err != nil {
			return err
		}
		if in.EndsAt, err = parseTime("ends-at", createOpts.endsAt); err != nil {
			return err
		}

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		flag, err := c.CreateFlag(cmd.Context(), in)
		if err != nil {
			return fmt.Errorf("failed to create flag: %w", err)
		}

		printf(cmd, "Successfully created flag '%s' (%s)\n", flag.Key, flag.RolloutType())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createOpts.register(createCmd.Flags(), "boolean")
}
