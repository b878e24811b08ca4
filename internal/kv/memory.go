package kv

import (
	"context"
	"sync"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
)

// MemoryStore is an in-process store for tests and ephemeral runs
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

// NewMemory creates an empty in-memory store
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get returns the value stored at key
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, apperrors.ErrStoreClosed
	}
	value, ok := m.data[key]
	return value, ok, nil
}

// Set stores value at key, overwriting any previous value
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.ErrStoreClosed
	}
	m.data[key] = value
	return nil
}

// Remove deletes key; removing an absent key is not an error
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.ErrStoreClosed
	}
	delete(m.data, key)
	return nil
}

// Keys lists every stored key
func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, apperrors.ErrStoreClosed
	}
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	return keys, nil
}

// Close marks the store closed; later calls fail with ErrStoreClosed
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Corrupt overwrites the raw value at key without going through the
// storage layer. Test hook for tamper scenarios.
func (m *MemoryStore) Corrupt(key string, mutate func(string) string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return false
	}
	m.data[key] = mutate(value)
	return true
}
