// Package decision records the immutable trail of flag evaluations and answers the
// read queries analytics needs. The log is append-only: no interface here exposes an
// update or delete.
package decision

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/TimurManjosov/flagledger/internal/engine"
)

var (
	// ErrBackpressure is returned by an async recorder when its queue stayed full until
	// the caller's context ended. The decision was not accepted.
	ErrBackpressure = errors.New("decision queue full")
	// ErrClosed is returned when recording after the recorder was closed.
	ErrClosed = errors.New("decision recorder closed")
)

// Decision is one evaluation outcome.
type Decision struct {
	ID          string         `json:"id"`
	FlagKey     string         `json:"flag_key"`
	Enabled     bool           `json:"enabled"`
	Reason      engine.Reason  `json:"reason"`
	Context     map[string]any `json:"context"`
	UserID      *string        `json:"user_id"`
	SessionID   *string        `json:"session_id"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

// New builds a Decision for flagKey from an engine result, extracting identifiers
// from ctx. ID and EvaluatedAt are filled in by the recorder.
func New(flagKey string, result engine.Result, ctx engine.Context) Decision {
	d := Decision{
		FlagKey: flagKey,
		Enabled: result.Enabled,
		Reason:  result.Reason,
		Context: maps.Clone(map[string]any(ctx)),
	}
	if id := ctx.UserID(); id != "" {
		d.UserID = &id
	}
	if id := ctx.SessionID(); id != "" {
		d.SessionID = &id
	}
	if d.Context == nil {
		d.Context = map[string]any{}
	}
	return d
}

// ReasonCount is one row of a per-flag aggregation.
type ReasonCount struct {
	Reason  engine.Reason
	Enabled bool
	Count   int64
}

// HistoryQuery selects decisions for one identity. UserID takes precedence over
// SessionID when both are set.
type HistoryQuery struct {
	UserID    string
	SessionID string
	Limit     int
}

// Log is an append-only decision store.
type Log interface {
	Append(ctx context.Context, d Decision) error
	AppendBatch(ctx context.Context, ds []Decision) error
	// CountByReason aggregates decisions for flagKey with evaluated_at >= since.
	CountByReason(ctx context.Context, flagKey string, since time.Time) ([]ReasonCount, error)
	// History returns decisions for the identity, newest first, at most q.Limit.
	History(ctx context.Context, q HistoryQuery) ([]Decision, error)
}

// Recorder accepts decisions from the evaluation path.
type Recorder interface {
	Record(ctx context.Context, d Decision) error
	Close(ctx context.Context) error
}
