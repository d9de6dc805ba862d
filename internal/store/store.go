package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TimurManjosov/flagledger/internal/rollout"
)

var (
	// ErrNotFound is returned when a flag key does not exist.
	ErrNotFound = errors.New("flag not found")
	// ErrUnavailable wraps infrastructure failures (database unreachable, timeouts).
	ErrUnavailable = errors.New("flag store unavailable")
)

// ValidationError reports a flag that violates the data model (bad rollout payload,
// inverted window, missing key).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Store defines the interface for flag persistence operations.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// GetFlagByKey retrieves a single flag by its key.
	// Returns ErrNotFound if the flag does not exist.
	GetFlagByKey(ctx context.Context, key string) (*Flag, error)

	// GetFlagsByKeys retrieves the flags for keys in request order.
	// Unknown keys are silently omitted.
	GetFlagsByKeys(ctx context.Context, keys []string) ([]Flag, error)

	// ListFlags returns every flag ordered by key.
	ListFlags(ctx context.Context) ([]Flag, error)

	// ListEnabledFlags returns flags whose master switch is on, ordered by key.
	ListEnabledFlags(ctx context.Context) ([]Flag, error)

	// UpsertFlag creates or replaces the flag identified by params.Key.
	// created_at is preserved on replace.
	UpsertFlag(ctx context.Context, params UpsertParams) (*Flag, error)

	// UpdateFlag applies mutate to the current state of key and writes the result.
	// The read-modify-write is atomic for that key. Returns ErrNotFound if key is absent.
	UpdateFlag(ctx context.Context, key string, mutate func(*UpsertParams) error) (*Flag, error)

	// DeleteFlag removes a flag. Returns false if it did not exist.
	DeleteFlag(ctx context.Context, key string) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}

// Flag represents a feature flag with all its attributes.
type Flag struct {
	Key         string
	Name        string
	Description string
	Enabled     bool
	Rollout     rollout.Strategy
	StartsAt    *time.Time
	EndsAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RolloutType returns the flag's rollout type, boolean when unset.
func (f Flag) RolloutType() rollout.Type {
	if f.Rollout == nil {
		return rollout.TypeBoolean
	}
	return f.Rollout.Type()
}

// Params returns the writable fields of f.
func (f Flag) Params() UpsertParams {
	return UpsertParams{
		Key:         f.Key,
		Name:        f.Name,
		Description: f.Description,
		Enabled:     f.Enabled,
		Rollout:     f.Rollout,
		StartsAt:    copyTime(f.StartsAt),
		EndsAt:      copyTime(f.EndsAt),
	}
}

// NextTransition returns the first starts_at/ends_at boundary strictly after now at
// which evaluation of f can change, or false if there is none.
func (f Flag) NextTransition(now time.Time) (time.Time, bool) {
	if f.StartsAt != nil && f.StartsAt.After(now) {
		return *f.StartsAt, true
	}
	if f.EndsAt != nil && !now.After(*f.EndsAt) {
		// The window stays open through ends_at inclusive; the first instant it is
		// closed is just after it.
		return f.EndsAt.Add(time.Nanosecond), true
	}
	return time.Time{}, false
}

type flagJSON struct {
	Key          string          `json:"key"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	IsEnabled    bool            `json:"is_enabled"`
	RolloutType  rollout.Type    `json:"rollout_type"`
	RolloutValue json.RawMessage `json:"rollout_value"`
	StartsAt     *time.Time      `json:"starts_at"`
	EndsAt       *time.Time      `json:"ends_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (f Flag) MarshalJSON() ([]byte, error) {
	value, err := rollout.MarshalPayload(f.Rollout)
	if err != nil {
		return nil, err
	}
	return json.Marshal(flagJSON{
		Key:          f.Key,
		Name:         f.Name,
		Description:  f.Description,
		IsEnabled:    f.Enabled,
		RolloutType:  f.RolloutType(),
		RolloutValue: value,
		StartsAt:     f.StartsAt,
		EndsAt:       f.EndsAt,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	})
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	var raw flagJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.RolloutType == "" {
		raw.RolloutType = rollout.TypeBoolean
	}
	strategy, err := rollout.Parse(raw.RolloutType, raw.RolloutValue)
	if err != nil {
		return err
	}
	*f = Flag{
		Key:         raw.Key,
		Name:        raw.Name,
		Description: raw.Description,
		Enabled:     raw.IsEnabled,
		Rollout:     strategy,
		StartsAt:    raw.StartsAt,
		EndsAt:      raw.EndsAt,
		CreatedAt:   raw.CreatedAt,
		UpdatedAt:   raw.UpdatedAt,
	}
	return nil
}

// UpsertParams contains the writable fields of a flag.
type UpsertParams struct {
	Key         string
	Name        string
	Description string
	Enabled     bool
	Rollout     rollout.Strategy
	StartsAt    *time.Time
	EndsAt      *time.Time
}

// Validate checks the data-model invariants every backend relies on.
func (p UpsertParams) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return &ValidationError{Field: "key", Message: "is required"}
	}
	if p.Rollout == nil {
		return &ValidationError{Field: "rollout_type", Message: "is required"}
	}
	if p.StartsAt != nil && p.EndsAt != nil && p.StartsAt.After(*p.EndsAt) {
		return &ValidationError{Field: "ends_at", Message: "must not be before starts_at"}
	}
	return nil
}

func (p UpsertParams) flag(createdAt, updatedAt time.Time) Flag {
	return Flag{
		Key:         p.Key,
		Name:        p.Name,
		Description: p.Description,
		Enabled:     p.Enabled,
		Rollout:     p.Rollout,
		StartsAt:    utcTime(p.StartsAt),
		EndsAt:      utcTime(p.EndsAt),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// applyMutation runs mutate against current and enforces that the key is unchanged.
func applyMutation(current Flag, mutate func(*UpsertParams) error) (UpsertParams, error) {
	params := current.Params()
	if err := mutate(&params); err != nil {
		return UpsertParams{}, err
	}
	if params.Key != current.Key {
		return UpsertParams{}, &ValidationError{Field: "key", Message: "cannot be changed"}
	}
	if err := params.Validate(); err != nil {
		return UpsertParams{}, err
	}
	return params, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// TimePrecision is the resolution every backend keeps timestamps at. SQLite stores
// Unix milliseconds, so the other backends truncate to match.
const TimePrecision = time.Millisecond

func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimePrecision)
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := storedTime(*t)
	return &c
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
