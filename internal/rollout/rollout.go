// Package rollout provides deterministic user bucketing for feature flag rollouts.
// It defines the closed set of rollout strategies a flag can carry and the
// consistent hashing used to place identifiers into percentage buckets:
//   - Same identifier always gets same result for a flag (deterministic)
//   - Even distribution across buckets (uses xxHash algorithm)
//   - Safe progressive rollouts (increasing from 10% to 20% only adds users, never removes)
package rollout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Type names a rollout strategy.
type Type string

const (
	TypeBoolean    Type = "boolean"
	TypePercentage Type = "percentage"
	TypeScheduled  Type = "scheduled"
	TypeUserList   Type = "user_list"
)

// Types lists every supported rollout type.
var Types = []Type{TypeBoolean, TypePercentage, TypeScheduled, TypeUserList}

// Valid reports whether t is a supported rollout type.
func (t Type) Valid() bool {
	switch t {
	case TypeBoolean, TypePercentage, TypeScheduled, TypeUserList:
		return true
	}
	return false
}

var (
	// ErrUnknownType is returned when a rollout type is not one of Types.
	ErrUnknownType = errors.New("unknown rollout type")
	// ErrInvalidPayload is returned when rollout_value does not match the rollout type.
	ErrInvalidPayload = errors.New("invalid rollout value")
	// ErrInvalidRollout is returned when the rollout percentage is not in the valid range (0-100).
	ErrInvalidRollout = errors.New("rollout must be between 0 and 100")
)

// Strategy is a rollout strategy together with its payload.
// The set of implementations is closed: Boolean, Percentage, Scheduled and UserList.
type Strategy interface {
	Type() Type
	// Payload returns the rollout_value representation, nil when the strategy has none.
	Payload() map[string]any
	sealed()
}

// Boolean enables the flag for everyone while it is enabled and inside its window.
type Boolean struct{}

func (Boolean) Type() Type              { return TypeBoolean }
func (Boolean) Payload() map[string]any { return nil }
func (Boolean) sealed()                 {}

// Scheduled enables the flag for everyone inside its starts_at/ends_at window.
type Scheduled struct{}

func (Scheduled) Type() Type              { return TypeScheduled }
func (Scheduled) Payload() map[string]any { return nil }
func (Scheduled) sealed()                 {}

// Percentage enables the flag for a stable share of identifiers.
type Percentage struct {
	Percent int
}

// NewPercentage returns a Percentage strategy, rejecting values outside 0-100.
func NewPercentage(percent int) (Percentage, error) {
	if percent < 0 || percent > 100 {
		return Percentage{}, ErrInvalidRollout
	}
	return Percentage{Percent: percent}, nil
}

func (Percentage) Type() Type { return TypePercentage }
func (p Percentage) Payload() map[string]any {
	return map[string]any{"percentage": p.Percent}
}
func (Percentage) sealed() {}

// Includes determines if an identifier is inside the rollout.
//
// Special cases:
//   - Percent=0: always false
//   - identifier="": false at every percentage (no stable identity means no bucket)
//   - Percent=100: true for every identifier
//
// Increasing Percent never removes an identifier that was already included.
func (p Percentage) Includes(flagKey, identifier, salt string) bool {
	switch {
	case p.Percent <= 0, identifier == "":
		return false
	case p.Percent >= 100:
		return true
	}
	return Bucket(flagKey, identifier, salt) < p.Percent
}

// UserList enables the flag for an explicit set of identifiers.
type UserList struct {
	ids map[string]struct{}
}

// NewUserList builds a UserList from ids. Blank ids are ignored and duplicates collapse.
func NewUserList(ids ...string) UserList {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return UserList{ids: set}
}

func (UserList) Type() Type { return TypeUserList }
func (u UserList) Payload() map[string]any {
	return map[string]any{"user_ids": u.IDs()}
}
func (UserList) sealed() {}

// Contains reports whether identifier is listed.
func (u UserList) Contains(identifier string) bool {
	if identifier == "" {
		return false
	}
	_, ok := u.ids[identifier]
	return ok
}

// IDs returns the listed identifiers in sorted order.
func (u UserList) IDs() []string {
	out := make([]string, 0, len(u.ids))
	for id := range u.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of listed identifiers.
func (u UserList) Len() int { return len(u.ids) }

// Parse builds a Strategy from a rollout type and its raw rollout_value JSON.
// The payload must match the type exactly; mismatches are reported as ErrInvalidPayload
// so they surface at write time rather than during evaluation.
func Parse(t Type, raw json.RawMessage) (Strategy, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeBoolean:
		if err := expectNoFields(t, fields); err != nil {
			return nil, err
		}
		return Boolean{}, nil
	case TypeScheduled:
		if err := expectNoFields(t, fields); err != nil {
			return nil, err
		}
		return Scheduled{}, nil
	case TypePercentage:
		return parsePercentage(fields)
	case TypeUserList:
		return parseUserList(fields)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// MustParse is Parse for static values; it panics on error.
func MustParse(t Type, raw string) Strategy {
	s, err := Parse(t, json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// MarshalPayload encodes the strategy payload as rollout_value JSON ("null" when empty).
func MarshalPayload(s Strategy) (json.RawMessage, error) {
	if s == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(s.Payload())
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: must be a JSON object", ErrInvalidPayload)
	}
	return fields, nil
}

func expectNoFields(t Type, fields map[string]json.RawMessage) error {
	if names := fieldNames(fields); len(names) > 0 {
		return fmt.Errorf("%w: %s rollout takes no value, got field %q", ErrInvalidPayload, t, names[0])
	}
	return nil
}

func fieldNames(fields map[string]json.RawMessage) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parsePercentage(fields map[string]json.RawMessage) (Strategy, error) {
	raw, ok := fields["percentage"]
	if !ok {
		return nil, fmt.Errorf("%w: percentage rollout requires a \"percentage\" field", ErrInvalidPayload)
	}
	for _, name := range fieldNames(fields) {
		if name != "percentage" {
			return nil, fmt.Errorf("%w: unexpected field %q for percentage rollout", ErrInvalidPayload, name)
		}
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: percentage must be a number", ErrInvalidPayload)
	}
	v, err := n.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: percentage must be an integer", ErrInvalidPayload)
	}
	if v < 0 || v > 100 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, ErrInvalidRollout)
	}
	return Percentage{Percent: int(v)}, nil
}

func parseUserList(fields map[string]json.RawMessage) (Strategy, error) {
	raw, ok := fields["user_ids"]
	if !ok {
		return nil, fmt.Errorf("%w: user_list rollout requires a \"user_ids\" field", ErrInvalidPayload)
	}
	for _, name := range fieldNames(fields) {
		if name != "user_ids" {
			return nil, fmt.Errorf("%w: unexpected field %q for user_list rollout", ErrInvalidPayload, name)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: user_ids must be an array", ErrInvalidPayload)
	}

	ids := make([]string, 0, len(items))
	for i, item := range items {
		id, err := identifierString(item)
		if err != nil {
			return nil, fmt.Errorf("%w: user_ids[%d] %v", ErrInvalidPayload, i, err)
		}
		ids = append(ids, id)
	}
	return NewUserList(ids...), nil
}

func identifierString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return "", errors.New("must not be empty")
		}
		return strings.TrimSpace(val), nil
	case json.Number:
		if _, err := val.Int64(); err != nil {
			return "", errors.New("must be a string or integer")
		}
		return val.String(), nil
	default:
		return "", errors.New("must be a string or integer")
	}
}
