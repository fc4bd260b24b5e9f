package session

import (
	"context"
	"sync"

	"github.com/hupe1980/agentgrid/core"
)

// MemoryStore is a volatile Store keeping thread histories in a process
// local map. Safe for concurrent access; best suited for tests and demos.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]core.Message
	closed  bool
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]core.Message)}
}

// History implements Store.
func (m *MemoryStore) History(_ context.Context, threadID string) ([]core.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	msgs := m.threads[threadID]
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, threadID string, msgs ...core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.threads[threadID] = append(m.threads[threadID], msgs...)
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, threadID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}
	_, ok := m.threads[threadID]
	delete(m.threads, threadID)
	return ok, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.threads = nil
	return nil
}
