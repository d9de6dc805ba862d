package store

import (
	"context"
	"sort"
	"sync"

	"github.com/TimurManjosov/flagledger/internal/clock"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It uses a map for storage and RWMutex for thread-safe concurrent access.
// This implementation is suitable for development, testing, or single-instance deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string]Flag // key -> Flag
	clock clock.Clock
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clock.System{})
}

// NewMemoryStoreWithClock creates an in-memory store that stamps timestamps from c.
func NewMemoryStoreWithClock(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		flags: make(map[string]Flag),
		clock: c,
	}
}

// GetFlagByKey retrieves a single flag by its key.
func (m *MemoryStore) GetFlagByKey(ctx context.Context, key string) (*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[key]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneFlag(flag), nil
}

// GetFlagsByKeys retrieves the flags for keys, skipping unknown and repeated keys.
func (m *MemoryStore) GetFlagsByKeys(ctx context.Context, keys []string) ([]Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Flag, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if flag, ok := m.flags[key]; ok {
			result = append(result, *cloneFlag(flag))
		}
	}
	return result, nil
}

// ListFlags returns all flags ordered by key.
func (m *MemoryStore) ListFlags(ctx context.Context) ([]Flag, error) {
	return m.list(func(Flag) bool { return true }), nil
}

// ListEnabledFlags returns flags whose master switch is on.
func (m *MemoryStore) ListEnabledFlags(ctx context.Context) ([]Flag, error) {
	return m.list(func(f Flag) bool { return f.Enabled }), nil
}

func (m *MemoryStore) list(keep func(Flag) bool) []Flag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Flag, 0, len(m.flags))
	for _, flag := range m.flags {
		if keep(flag) {
			result = append(result, *cloneFlag(flag))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// UpsertFlag creates or replaces a flag in memory.
func (m *MemoryStore) UpsertFlag(ctx context.Context, params UpsertParams) (*Flag, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writeLocked(params), nil
}

// UpdateFlag performs a read-modify-write of key under the write lock.
func (m *MemoryStore) UpdateFlag(ctx context.Context, key string, mutate func(*UpsertParams) error) (*Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.flags[key]
	if !exists {
		return nil, ErrNotFound
	}
	params, err := applyMutation(*cloneFlag(current), mutate)
	if err != nil {
		return nil, err
	}
	return m.writeLocked(params), nil
}

func (m *MemoryStore) writeLocked(params UpsertParams) *Flag {
	now := storedTime(m.clock.Now())
	createdAt := now
	if existing, ok := m.flags[params.Key]; ok {
		createdAt = existing.CreatedAt
	}
	flag := params.flag(createdAt, now)
	m.flags[params.Key] = flag
	return cloneFlag(flag)
}

// DeleteFlag removes a flag from memory.
func (m *MemoryStore) DeleteFlag(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.flags[key]; !exists {
		return false, nil
	}
	delete(m.flags, key)
	return true, nil
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}

// cloneFlag copies the mutable pointer fields so callers cannot alias stored state.
// Strategies are immutable values and are shared.
func cloneFlag(f Flag) *Flag {
	c := f
	c.StartsAt = copyTime(f.StartsAt)
	c.EndsAt = copyTime(f.EndsAt)
	return &c
}

var _ Store = (*MemoryStore)(nil)
