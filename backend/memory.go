package backend

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory implements Backend with an in-process map. Contents are lost when
// the process exits.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get retrieves a copy of the value at key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(val), nil
}

// Put stores a copy of value at key.
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = cloneValue(value)
	return nil
}

// PutBatch stores all entries under one lock acquisition.
func (m *Memory) PutBatch(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Key == "" {
			return ErrInvalidKey
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.data[e.Key] = cloneValue(e.Value)
	}
	return nil
}

// Delete removes the value at key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Has checks if a key exists.
func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

// List returns all keys with the given prefix in ascending order.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	slices.Sort(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// cloneValue copies v, keeping empty values non-nil.
func cloneValue(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// Compile-time interface checks
var (
	_ Backend = (*Memory)(nil)
	_ Batcher = (*Memory)(nil)
	_ Lister  = (*Memory)(nil)
)
