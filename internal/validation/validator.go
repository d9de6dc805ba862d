// Package validation provides validation rules for flag input and request parameters.
package validation

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TimurManjosov/flagledger/internal/rollout"
)

const (
	// MaxKeyLength is the maximum length for flag keys
	MaxKeyLength = 64
	// MaxNameLength is the maximum length for flag display names
	MaxNameLength = 255
	// MaxDescriptionLength is the maximum length for flag descriptions
	MaxDescriptionLength = 500
	// MaxUserListSize bounds user_list rollouts
	MaxUserListSize = 10000
)

// keyPattern matches alphanumeric characters, underscores, and hyphens
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// reservedKeys collide with static routes under /flags and could never be fetched by key.
var reservedKeys = map[string]struct{}{
	"active":  {},
	"history": {},
}

// Result holds field errors collected during validation.
type Result struct {
	Valid  bool
	Errors map[string]string
}

func NewResult() *Result {
	return &Result{Valid: true, Errors: make(map[string]string)}
}

// AddError adds a field error and marks the result as invalid.
// The first error recorded for a field wins.
func (v *Result) AddError(field, message string) {
	v.Valid = false
	if _, exists := v.Errors[field]; !exists {
		v.Errors[field] = message
	}
}

// Merge combines another result into this one.
func (v *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	for field, message := range other.Errors {
		v.AddError(field, message)
	}
}

// Err returns the collected errors as FieldErrors, or nil when the result is valid.
func (v *Result) Err() error {
	if v == nil || v.Valid {
		return nil
	}
	fields := make(FieldErrors, len(v.Errors))
	for field, message := range v.Errors {
		fields[field] = message
	}
	return fields
}

// FieldErrors maps request fields to the problem found with each.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + e[field]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FlagParams is the full writable shape of a flag as received from a client, after any
// partial update has been merged onto the stored flag.
type FlagParams struct {
	Key          string
	Name         string
	Description  string
	RolloutType  string
	RolloutValue json.RawMessage
	StartsAt     *time.Time
	EndsAt       *time.Time
}

// ValidateFlag checks every field and, when they are valid, returns the parsed rollout.
func ValidateFlag(params FlagParams) (rollout.Strategy, *Result) {
	result := NewResult()
	result.Merge(ValidateKey(params.Key))
	result.Merge(ValidateName(params.Name))
	result.Merge(ValidateDescription(params.Description))
	result.Merge(ValidateWindow(params.StartsAt, params.EndsAt))

	strategy, rolloutResult := ValidateRollout(params.RolloutType, params.RolloutValue)
	result.Merge(rolloutResult)

	if !result.Valid {
		return nil, result
	}
	return strategy, result
}

// ValidateKey validates a flag key
func ValidateKey(key string) *Result {
	result := NewResult()
	key = strings.TrimSpace(key)

	if key == "" {
		result.AddError("key", "Key is required")
		return result
	}

	if utf8.RuneCountInString(key) > MaxKeyLength {
		result.AddError("key", "Key must not exceed 64 characters")
		return result
	}

	if !keyPattern.MatchString(key) {
		result.AddError("key", "Key must contain only alphanumeric characters, underscores, and hyphens")
		return result
	}

	if _, reserved := reservedKeys[key]; reserved {
		result.AddError("key", "Key '"+key+"' is reserved")
	}
	return result
}

func ValidateName(name string) *Result {
	result := NewResult()
	if strings.TrimSpace(name) == "" {
		result.AddError("name", "Name is required")
	} else if utf8.RuneCountInString(name) > MaxNameLength {
		result.AddError("name", "Name must not exceed 255 characters")
	}
	return result
}

// ValidateDescription validates a flag description
func ValidateDescription(description string) *Result {
	result := NewResult()
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		result.AddError("description", "Description must not exceed 500 characters")
	}
	return result
}

// ValidateWindow checks that an activation window is not inverted. Equal bounds are a
// valid single-instant window.
func ValidateWindow(startsAt, endsAt *time.Time) *Result {
	result := NewResult()
	if startsAt != nil && endsAt != nil && startsAt.After(*endsAt) {
		result.AddError("ends_at", "Ends at must not be before starts at")
	}
	return result
}

// ValidateRollout parses a rollout type and its payload, mapping parse failures onto
// the field the client has to fix.
func ValidateRollout(rolloutType string, value json.RawMessage) (rollout.Strategy, *Result) {
	result := NewResult()

	t := rollout.Type(strings.TrimSpace(rolloutType))
	if t == "" {
		result.AddError("rollout_type", "Rollout type is required")
		return nil, result
	}
	if !t.Valid() {
		result.AddError("rollout_type", "Rollout type must be boolean, percentage, scheduled, or user_list")
		return nil, result
	}

	strategy, err := rollout.Parse(t, value)
	switch {
	case errors.Is(err, rollout.ErrInvalidRollout):
		result.AddError("rollout_value", "Percentage must be an integer between 0 and 100")
	case err != nil:
		result.AddError("rollout_value", capitalize(err.Error()))
	default:
		if list, ok := strategy.(rollout.UserList); ok && list.Len() > MaxUserListSize {
			result.AddError("rollout_value", "User list must not exceed 10000 entries")
		}
	}
	if !result.Valid {
		return nil, result
	}
	return strategy, result
}

// ValidateWindowHours checks the analytics window parameter.
func ValidateWindowHours(hours int) *Result {
	result := NewResult()
	if hours < 1 {
		result.AddError("hours", "Hours must be at least 1")
	}
	return result
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
