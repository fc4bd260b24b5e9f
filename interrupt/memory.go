package interrupt

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory interrupt store for tests and single-process
// runs.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]Interrupt
	closed bool
}

// NewMemoryStore creates a new in-memory interrupt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Interrupt)}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, in Interrupt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	m.data[in.ExecutionID] = clone(in)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, executionID string) (*Interrupt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	in, ok := m.data[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(in)
	return &out, nil
}

// Resolve implements Store.
func (m *MemoryStore) Resolve(_ context.Context, executionID string, resp Response) (*Interrupt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	in, ok := m.data[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	in.Status = resp.Status
	in.ResolvedAt = time.Now().UTC()
	r := resp
	in.Response = &r
	m.data[executionID] = in

	out := clone(in)
	return &out, nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context, executionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}
	_, ok := m.data[executionID]
	delete(m.data, executionID)
	return ok, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

// clone deep-copies the maps so callers cannot mutate stored state.
func clone(in Interrupt) Interrupt {
	if in.Request.Args != nil {
		args := make(map[string]any, len(in.Request.Args))
		for k, v := range in.Request.Args {
			args[k] = v
		}
		in.Request.Args = args
	}
	if in.Response != nil {
		resp := *in.Response
		if resp.EditedArgs != nil {
			edited := make(map[string]any, len(resp.EditedArgs))
			for k, v := range resp.EditedArgs {
				edited[k] = v
			}
			resp.EditedArgs = edited
		}
		in.Response = &resp
	}
	return in
}
