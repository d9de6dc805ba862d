package service

import (
	"bytes"
	"encoding/json"
	"time"
)

// FlagInput is the full definition of a flag sent on create.
type FlagInput struct {
	Key          string          `json:"key"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Enabled      bool            `json:"is_enabled"`
	RolloutType  string          `json:"rollout_type"`
	RolloutValue json.RawMessage `json:"rollout_value"`
	StartsAt     *time.Time      `json:"starts_at"`
	EndsAt       *time.Time      `json:"ends_at"`
}

// FlagPatch is a partial update. Absent fields keep their stored value.
// Changing rollout_type without a rollout_value re-parses an empty value, so moving to
// percentage or user_list requires sending the payload.
type FlagPatch struct {
	Name         *string         `json:"name"`
	Description  *string         `json:"description"`
	Enabled      *bool           `json:"is_enabled"`
	RolloutType  *string         `json:"rollout_type"`
	RolloutValue json.RawMessage `json:"rollout_value"`
	StartsAt     NullableTime    `json:"starts_at"`
	EndsAt       NullableTime    `json:"ends_at"`
}

// NullableTime distinguishes an absent JSON field from an explicit null, which clears
// the stored bound.
type NullableTime struct {
	Set   bool
	Value *time.Time
}

func (n *NullableTime) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	n.Value = &t
	return nil
}

// SetTo returns a NullableTime that sets the bound to t (nil clears it).
func SetTo(t *time.Time) NullableTime {
	return NullableTime{Set: true, Value: t}
}
