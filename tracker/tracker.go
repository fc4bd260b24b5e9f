// Package tracker keeps executions addressable while they run and for a
// grace period after they finish, so late status queries and delegation
// callbacks still find them.
package tracker

import (
	"sync"
	"time"

	"github.com/hupe1980/agentgrid/core"
)

// DefaultGracePeriod is how long a finished execution stays queryable.
const DefaultGracePeriod = 60 * time.Second

// Tracker indexes live executions by id.
type Tracker struct {
	mu         sync.Mutex
	executions map[string]*core.Execution
	timers     map[string]*time.Timer
	grace      time.Duration
	closed     bool
}

// New creates a tracker. A non-positive grace period falls back to the
// default.
func New(grace time.Duration) *Tracker {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Tracker{
		executions: make(map[string]*core.Execution),
		timers:     make(map[string]*time.Timer),
		grace:      grace,
	}
}

// Track registers a running execution. Tracking the same id again cancels a
// pending eviction, which covers resumed executions.
func (t *Tracker) Track(exec *core.Execution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if timer, ok := t.timers[exec.ID]; ok {
		timer.Stop()
		delete(t.timers, exec.ID)
	}
	t.executions[exec.ID] = exec
}

// Get returns the execution for the id if it is live or within its grace
// period.
func (t *Tracker) Get(id string) (*core.Execution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exec, ok := t.executions[id]
	return exec, ok
}

// Complete marks the execution finished and schedules its eviction after the
// grace period. Completing an unknown id is a no-op.
func (t *Tracker) Complete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, ok := t.executions[id]; !ok {
		return
	}
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
	}
	t.timers[id] = time.AfterFunc(t.grace, func() { t.evict(id) })
}

func (t *Tracker) evict(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.executions, id)
	delete(t.timers, id)
}

// Len reports the number of tracked executions, finished ones included.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.executions)
}

// Shutdown stops all eviction timers and drops every tracked execution.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.executions = make(map[string]*core.Execution)
}
