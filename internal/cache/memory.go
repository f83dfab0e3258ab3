// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package cache

import "sync"

// MemoryBackend is a process-local cache: one shared mutable table for
// the process lifetime, no network failure modes.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBackend returns an empty in-process cache.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

// Get returns the cached value, or nil when absent.
func (m *MemoryBackend) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	// Return a copy so callers can't mutate the cached value.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of the value.
func (m *MemoryBackend) Set(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.entries[key] = cp
	m.mu.Unlock()
	return nil
}

// Del removes one entry.
func (m *MemoryBackend) Del(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Flush clears all entries.
func (m *MemoryBackend) Flush() error {
	m.mu.Lock()
	m.entries = make(map[string][]byte)
	m.mu.Unlock()
	return nil
}
