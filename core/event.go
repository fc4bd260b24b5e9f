package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventName identifies a lifecycle event. Names are dot-scoped by subsystem.
type EventName string

const (
	EventExecutionStarted   EventName = "execution.started"
	EventExecutionCompleted EventName = "execution.completed"
	EventExecutionFailed    EventName = "execution.failed"
	EventExecutionCancelled EventName = "execution.cancelled"

	EventDelegationRequested EventName = "delegation.requested"
	EventDelegationProgress  EventName = "delegation.progress"
	EventDelegationCompleted EventName = "delegation.completed"
	EventDelegationFailed    EventName = "delegation.failed"
	EventDelegationSkipped   EventName = "delegation.skipped"

	EventNodeEntered   EventName = "node.entered"
	EventNodeCompleted EventName = "node.completed"
)

// Event is a lifecycle notification. Data holds event-specific payload and
// must be treated as read-only by listeners.
type Event struct {
	ID          string         `json:"id"`
	Name        EventName      `json:"name"`
	ExecutionID string         `json:"execution_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// Listener receives events synchronously on the emitting goroutine. Slow
// listeners slow the orchestrator; offload heavy work to your own goroutine.
type Listener func(Event)

// Emitter fans lifecycle events out to registered listeners. Emission is
// fire-and-forget: listener panics are swallowed and never reach the
// execution path.
type Emitter struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter { return &Emitter{} }

// Subscribe registers a listener for all subsequent events.
func (e *Emitter) Subscribe(l Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Emit delivers an event to every listener.
func (e *Emitter) Emit(name EventName, executionID string, data map[string]any) {
	e.mu.RLock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	if len(listeners) == 0 {
		return
	}
	ev := Event{
		ID:          uuid.NewString(),
		Name:        name,
		ExecutionID: executionID,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}
	for _, l := range listeners {
		deliver(l, ev)
	}
}

func deliver(l Listener, ev Event) {
	defer func() { _ = recover() }()
	l(ev)
}

// Reset detaches all listeners. Used on shutdown.
func (e *Emitter) Reset() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}
