// Package analytics derives per-flag statistics and identity history from the
// decision log. It never writes.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TimurManjosov/flagledger/internal/clock"
	"github.com/TimurManjosov/flagledger/internal/decision"
	"github.com/TimurManjosov/flagledger/internal/engine"
)

const (
	DefaultWindowHours  = 24
	MaxWindowHours      = 24 * 365
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

var (
	// ErrInvalidWindow is returned for a window shorter than one hour.
	ErrInvalidWindow = errors.New("hours must be at least 1")
	// ErrMissingIdentity is returned when a history query names neither user nor session.
	ErrMissingIdentity = errors.New("user_id or session_id is required")
)

// FlagStats summarizes decisions for one flag over a trailing window.
type FlagStats struct {
	FlagKey           string                  `json:"flag_key"`
	PeriodHours       int                     `json:"period_hours"`
	Total             int64                   `json:"total"`
	EnabledCount      int64                   `json:"enabled_count"`
	DisabledCount     int64                   `json:"disabled_count"`
	EnabledPercentage float64                 `json:"enabled_percentage"`
	Reasons           map[engine.Reason]int64 `json:"reasons"`
}

// Identity selects whose history to read. UserID wins when both are set.
type Identity struct {
	UserID    string
	SessionID string
}

// Aggregator answers analytics queries over a decision log.
type Aggregator struct {
	log   decision.Log
	clock clock.Clock
}

func NewAggregator(log decision.Log, c clock.Clock) *Aggregator {
	if c == nil {
		c = clock.System{}
	}
	return &Aggregator{log: log, clock: c}
}

// FlagStats counts decisions for flagKey with evaluated_at >= now - windowHours.
// windowHours must be at least 1 and is capped at MaxWindowHours.
func (a *Aggregator) FlagStats(ctx context.Context, flagKey string, windowHours int) (FlagStats, error) {
	if windowHours < 1 {
		return FlagStats{}, ErrInvalidWindow
	}
	if windowHours > MaxWindowHours {
		windowHours = MaxWindowHours
	}

	since := a.clock.Now().Add(-time.Duration(windowHours) * time.Hour)
	rows, err := a.log.CountByReason(ctx, flagKey, since)
	if err != nil {
		return FlagStats{}, fmt.Errorf("count decisions for %s: %w", flagKey, err)
	}
	return Summarize(flagKey, windowHours, rows), nil
}

// IdentityHistory returns the newest decisions for id. A limit <= 0 means
// DefaultHistoryLimit; limits above MaxHistoryLimit are capped.
func (a *Aggregator) IdentityHistory(ctx context.Context, id Identity, limit int) ([]decision.Decision, error) {
	if id.UserID == "" && id.SessionID == "" {
		return nil, ErrMissingIdentity
	}
	limit = ClampLimit(limit)

	history, err := a.log.History(ctx, decision.HistoryQuery{
		UserID:    id.UserID,
		SessionID: id.SessionID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("read decision history: %w", err)
	}
	if len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

// ClampLimit applies the history limit default and cap.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// Summarize turns grouped counts into FlagStats. enabled_percentage is rounded to two
// decimal places and is 0 when there are no decisions.
func Summarize(flagKey string, windowHours int, rows []decision.ReasonCount) FlagStats {
	stats := FlagStats{
		FlagKey:     flagKey,
		PeriodHours: windowHours,
		Reasons:     make(map[engine.Reason]int64),
	}
	for _, row := range rows {
		if row.Count <= 0 {
			continue
		}
		stats.Total += row.Count
		if row.Enabled {
			stats.EnabledCount += row.Count
		}
		stats.Reasons[row.Reason] += row.Count
	}
	stats.DisabledCount = stats.Total - stats.EnabledCount
	if stats.Total > 0 {
		pct := float64(stats.EnabledCount) / float64(stats.Total) * 100
		stats.EnabledPercentage = math.Round(pct*100) / 100
	}
	return stats
}
