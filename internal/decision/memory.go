package decision

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TimurManjosov/flagledger/internal/engine"
)

// MemoryLog keeps decisions in a slice. Suitable for tests and single-instance dev.
type MemoryLog struct {
	mu        sync.RWMutex
	decisions []Decision
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(ctx context.Context, d Decision) error {
	m.mu.Lock()
	m.decisions = append(m.decisions, d)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLog) AppendBatch(ctx context.Context, ds []Decision) error {
	m.mu.Lock()
	m.decisions = append(m.decisions, ds...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLog) CountByReason(ctx context.Context, flagKey string, since time.Time) ([]ReasonCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type group struct {
		reason  engine.Reason
		enabled bool
	}
	counts := make(map[group]int64)
	for _, d := range m.decisions {
		if d.FlagKey != flagKey || d.EvaluatedAt.Before(since) {
			continue
		}
		counts[group{d.Reason, d.Enabled}]++
	}

	out := make([]ReasonCount, 0, len(counts))
	for g, n := range counts {
		out = append(out, ReasonCount{Reason: g.reason, Enabled: g.enabled, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reason != out[j].Reason {
			return out[i].Reason < out[j].Reason
		}
		return !out[i].Enabled && out[j].Enabled
	})
	return out, nil
}

func (m *MemoryLog) History(ctx context.Context, q HistoryQuery) ([]Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]Decision, 0)
	for _, d := range m.decisions {
		if matchesIdentity(d, q) {
			matched = append(matched, d)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].EvaluatedAt.After(matched[j].EvaluatedAt)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Len returns the number of stored decisions.
func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.decisions)
}

func matchesIdentity(d Decision, q HistoryQuery) bool {
	switch {
	case q.UserID != "":
		return d.UserID != nil && *d.UserID == q.UserID
	case q.SessionID != "":
		return d.SessionID != nil && *d.SessionID == q.SessionID
	default:
		return false
	}
}

var _ Log = (*MemoryLog)(nil)
