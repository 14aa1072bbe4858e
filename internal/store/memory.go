package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	doc       Document
	updatedAt time.Time
}

// MemoryStore is a process-local Backend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	closed  bool
	now     func() time.Time
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Load returns a copy of the stored document.
func (m *MemoryStore) Load(_ context.Context, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, unavailable("load session", errClosed)
	}
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.doc.Clone(), nil
}

// Update applies fn under the store lock.
func (m *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return unavailable("update session", errClosed)
	}
	next, err := fn(m.entries[id].doc.Clone())
	if err != nil {
		return err
	}
	m.entries[id] = memoryEntry{doc: next.Clone(), updatedAt: m.now()}
	return nil
}

// DeleteExpired removes entries idle for longer than ttl.
func (m *MemoryStore) DeleteExpired(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := m.now().Add(-ttl)
	var n int64
	for id, entry := range m.entries {
		if entry.updatedAt.Before(threshold) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Ping fails once the store is closed.
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return unavailable("ping", errClosed)
	}
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
