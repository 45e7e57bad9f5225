package pipeline

import (
	"sync"
)

// memo is a bounded, mutex-guarded map keyed by exact input identity.
// When full, the oldest entry is evicted. A nil or zero-capacity memo stores
// nothing.
type memo[V any] struct {
	mu      sync.Mutex
	max     int
	entries map[string]V
	order   []string
}

func newMemo[V any](capacity int) *memo[V] {
	return &memo[V]{
		max:     capacity,
		entries: make(map[string]V),
	}
}

func (m *memo[V]) get(key string) (V, bool) {
	var zero V
	if m == nil || m.max == 0 {
		return zero, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.entries[key]
	return v, ok
}

func (m *memo[V]) put(key string, v V) {
	if m == nil || m.max == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = v
	for len(m.order) > m.max {
		delete(m.entries, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *memo[V]) len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
