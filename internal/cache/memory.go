package cache

import (
	"context"
	"sync"
)

// DefaultMaxEntries caps a MemoryBackend when no size is given.
const DefaultMaxEntries = 500

// MemoryBackend is a bounded in-process map. When full, the oldest half of
// the entries is evicted in insertion order.
type MemoryBackend struct {
	mu    sync.Mutex
	max   int
	items map[string][]byte
	order []string
}

// NewMemoryBackend returns a backend holding at most maxEntries results.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryBackend{max: maxEntries, items: make(map[string][]byte)}
}

// Name returns the backend identifier.
func (m *MemoryBackend) Name() string { return "memory" }

// Get returns the entry for key.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

// Set stores value, evicting the oldest half first when at capacity.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; ok {
		m.items[key] = value
		return nil
	}
	if len(m.items) >= m.max {
		n := len(m.order) / 2
		if n == 0 {
			n = len(m.order)
		}
		for _, k := range m.order[:n] {
			delete(m.items, k)
		}
		m.order = append([]string(nil), m.order[n:]...)
	}
	m.items[key] = value
	m.order = append(m.order, key)
	return nil
}

// Clear drops every entry.
func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.items)
	m.order = m.order[:0]
	return nil
}

// Len returns the number of entries held.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
