package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// flagOptions are the flag definition options shared by create and update.
type flagOptions struct {
	name        string
	description string
	enabled     bool
	rolloutType string
	percentage  int
	userIDs     string
	startsAt    string
	endsAt      string
}

func (o *flagOptions) register(fs *pflag.FlagSet, defaultType string) {
	fs.StringVar(&o.name, "name", "", "Display name")
	fs.StringVar(&o.description, "description", "", "Flag description")
	fs.BoolVar(&o.enabled, "enabled", false, "Master switch")
	fs.StringVar(&o.rolloutType, "type", defaultType, "Rollout type (boolean, percentage, scheduled, user_list)")
	fs.IntVar(&o.percentage, "percentage", 0, "Rollout percentage for --type percentage (0-100)")
	fs.StringVar(&o.userIDs, "user-ids", "", "Comma-separated identifiers for --type user_list")
	fs.StringVar(&o.startsAt, "starts-at", "", "Window start (RFC 3339, \"none\" clears)")
	fs.StringVar(&o.endsAt, "ends-at", "", "Window end (RFC 3339, \"none\" clears)")
}

// rolloutValue builds the payload for rolloutType from the percentage and user-ids
// options. Types without a payload return nil.
func (o *flagOptions) rolloutValue(rolloutType string) (json.RawMessage, error) {
	switch rolloutType {
	case "percentage":
		return json.Marshal(map[string]int{"percentage": o.percentage})
	case "user_list":
		ids := splitIDs(o.userIDs)
		return json.Marshal(map[string][]string{"user_ids": ids})
	default:
		return nil, nil
	}
}

func splitIDs(s string) []string {
	ids := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

// parseTime parses a window bound. Empty and "none" mean no bound.
func parseTime(name, value string) (*time.Time, error) {
	if value == "" || strings.EqualFold(value, "none") {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: expected RFC 3339 time like 2024-06-01T12:00:00Z", name)
	}
	return &t, nil
}
