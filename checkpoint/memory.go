package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for tests and single-process
// runs. Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]Tuple // threadID/namespace -> tuples in insertion order
	closed bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Tuple)}
}

func key(threadID, namespace string) string { return threadID + "\x00" + namespace }

// PutTuple implements Store.
func (m *MemoryStore) PutTuple(_ context.Context, threadID, namespace string, cp Checkpoint, md Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if cp.Counters != nil {
		counters := make(map[string]int, len(cp.Counters))
		for k, v := range cp.Counters {
			counters[k] = v
		}
		cp.Counters = counters
	}
	state := make([]byte, len(cp.State))
	copy(state, cp.State)
	cp.State = state

	k := key(threadID, namespace)
	m.data[k] = append(m.data[k], Tuple{
		ThreadID:   threadID,
		Namespace:  namespace,
		Checkpoint: cp,
		Metadata:   md,
	})
	return nil
}

// GetTuple implements Store.
func (m *MemoryStore) GetTuple(_ context.Context, threadID, namespace, checkpointID string) (*Tuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	tuples := m.data[key(threadID, namespace)]
	if len(tuples) == 0 {
		return nil, ErrNotFound
	}
	if checkpointID == "" {
		t := tuples[len(tuples)-1]
		return &t, nil
	}
	for i := len(tuples) - 1; i >= 0; i-- {
		if tuples[i].Checkpoint.ID == checkpointID {
			t := tuples[i]
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, threadID, namespace string, opts ListOptions) ([]Tuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	tuples := m.data[key(threadID, namespace)]

	end := len(tuples)
	if opts.Before != "" {
		end = 0
		for i, t := range tuples {
			if t.Checkpoint.ID == opts.Before {
				end = i
				break
			}
		}
	}

	out := make([]Tuple, 0, end)
	for i := end - 1; i >= 0; i-- {
		out = append(out, tuples[i])
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of tuples across all keys. Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, tuples := range m.data {
		count += len(tuples)
	}
	return count
}
