package cache

import (
	"context"
	"sync"
	"time"

	"github.com/TimurManjosov/flagledger/internal/clock"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is an in-process Cache for single-instance deployments and tests.
type Memory struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	indexes     map[string]map[string]struct{}
	generations map[string]int64
	clock       clock.Clock
}

func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.System{}
	}
	return &Memory{
		entries:     map[string]memoryEntry{},
		indexes:     map[string]map[string]struct{}{},
		generations: map[string]int64{},
		clock:       c,
	}
}

func (m *Memory) Generation(_ context.Context, scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations[scope], nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.clock.Now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.payload...), true, nil
}

func (m *Memory) Set(_ context.Context, scope, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{payload: append([]byte(nil), value...), expiresAt: m.clock.Now().Add(ttl)}
	idx, ok := m.indexes[scope]
	if !ok {
		idx = map[string]struct{}{}
		m.indexes[scope] = idx
	}
	idx[key] = struct{}{}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, scopes ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, scope := range scopes {
		m.generations[scope]++
		for key := range m.indexes[scope] {
			delete(m.entries, key)
		}
		delete(m.indexes, scope)
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Cache = (*Memory)(nil)
