package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagledger/internal/analytics"
	"github.com/TimurManjosov/flagledger/internal/client"
	"github.com/TimurManjosov/flagledger/internal/decision"
	"github.com/TimurManjosov/flagledger/internal/engine"
	"github.com/TimurManjosov/flagledger/internal/rollout"
	"github.com/TimurManjosov/flagledger/internal/store"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s (use table, json or yaml)", s)
	}
}

const timeLayout = "2006-01-02 15:04"

// PrintFlags outputs flags in the specified format
func PrintFlags(w io.Writer, flags []store.Flag, format OutputFormat) error {
	return render(w, format, map[string][]store.Flag{"flags": flags}, func(t *tablewriter.Table) {
		t.Header("Key", "Name", "Enabled", "Rollout", "Window", "Updated At")
		for _, f := range flags {
			t.Append(f.Key, f.Name, strconv.FormatBool(f.Enabled), describeRollout(f.Rollout), describeWindow(f.StartsAt, f.EndsAt), f.UpdatedAt.Format(timeLayout))
		}
	})
}

// PrintFlag outputs a single flag in the specified format
func PrintFlag(w io.Writer, flag *store.Flag, format OutputFormat) error {
	return render(w, format, flag, func(t *tablewriter.Table) {
		t.Header("Field", "Value")
		t.Append("Key", flag.Key)
		t.Append("Name", flag.Name)
		t.Append("Description", truncate(flag.Description, 60))
		t.Append("Enabled", strconv.FormatBool(flag.Enabled))
		t.Append("Rollout", describeRollout(flag.Rollout))
		t.Append("Window", describeWindow(flag.StartsAt, flag.EndsAt))
		t.Append("Created At", flag.CreatedAt.Format(timeLayout))
		t.Append("Updated At", flag.UpdatedAt.Format(timeLayout))
	})
}

// PrintEvaluation outputs an evaluation result.
func PrintEvaluation(w io.Writer, res client.Evaluation, format OutputFormat) error {
	return render(w, format, res, func(t *tablewriter.Table) {
		t.Header("Key", "Enabled", "Code", "Reason")
		t.Append(res.Key, strconv.FormatBool(res.Enabled), res.Code, res.Reason)
	})
}

// PrintStats outputs analytics for one flag with reasons sorted by count.
func PrintStats(w io.Writer, stats analytics.FlagStats, format OutputFormat) error {
	return render(w, format, stats, func(t *tablewriter.Table) {
		t.Header("Metric", "Value")
		t.Append("Flag", stats.FlagKey)
		t.Append("Period", fmt.Sprintf("%dh", stats.PeriodHours))
		t.Append("Total", strconv.FormatInt(stats.Total, 10))
		t.Append("Enabled", strconv.FormatInt(stats.EnabledCount, 10))
		t.Append("Disabled", strconv.FormatInt(stats.DisabledCount, 10))
		t.Append("Enabled %", strconv.FormatFloat(stats.EnabledPercentage, 'f', 1, 64))
		for _, r := range sortedReasons(stats.Reasons) {
			t.Append("Reason "+string(r), strconv.FormatInt(stats.Reasons[r], 10))
		}
	})
}

// PrintHistory outputs decisions newest first, as returned by the server.
func PrintHistory(w io.Writer, decisions []decision.Decision, format OutputFormat) error {
	return render(w, format, map[string][]decision.Decision{"decisions": decisions}, func(t *tablewriter.Table) {
		t.Header("Evaluated At", "Flag", "Enabled", "Reason", "User", "Session")
		for _, d := range decisions {
			t.Append(d.EvaluatedAt.Format(time.RFC3339), d.FlagKey, strconv.FormatBool(d.Enabled), string(d.Reason), deref(d.UserID), deref(d.SessionID))
		}
	})
}

func render(w io.Writer, format OutputFormat, data any, fill func(*tablewriter.Table)) error {
	switch format {
	case FormatJSON:
		return printJSON(w, data)
	case FormatYAML:
		return printYAML(w, data)
	case FormatTable, "":
		table := tablewriter.NewWriter(w)
		fill(table)
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printYAML goes through JSON first so YAML keys match the API field names.
func printYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(generic)
}

func describeRollout(s rollout.Strategy) string {
	switch v := s.(type) {
	case rollout.Percentage:
		return fmt.Sprintf("percentage %d%%", v.Percent)
	case rollout.UserList:
		return fmt.Sprintf("user_list (%d)", v.Len())
	case nil:
		return string(rollout.TypeBoolean)
	default:
		return string(v.Type())
	}
}

func describeWindow(start, end *time.Time) string {
	if start == nil && end == nil {
		return "-"
	}
	from, to := "…", "…"
	if start != nil {
		from = start.UTC().Format(timeLayout)
	}
	if end != nil {
		to = end.UTC().Format(timeLayout)
	}
	return from + " → " + to
}

func sortedReasons(counts map[engine.Reason]int64) []engine.Reason {
	reasons := make([]engine.Reason, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if counts[reasons[i]] != counts[reasons[j]] {
			return counts[reasons[i]] > counts[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})
	return reasons
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
