package fault

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call without running it.
var ErrCircuitOpen = errors.New("circuit breaker open")

const (
	// DefaultBreakerThreshold is the consecutive failure count that opens
	// a breaker.
	DefaultBreakerThreshold = 5
	// DefaultBreakerReset is how long an open breaker waits before
	// allowing a single trial call.
	DefaultBreakerReset = 60 * time.Second
)

// breaker tracks consecutive failures for one context key.
type breaker struct {
	failures int
	open     bool
	openedAt time.Time
	trial    bool
}

// BreakerRegistry holds one circuit breaker per context key (for example
// "agent_execution_researcher"). A breaker opens after threshold consecutive
// failures, rejects calls while open, and allows a single trial call once the
// reset timeout has elapsed. A successful call closes the breaker and resets
// its failure count; a failed trial re-opens it and restarts the timer.
type BreakerRegistry struct {
	mu           sync.Mutex
	breakers     map[string]*breaker
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
}

// NewBreakerRegistry creates a registry. Non-positive arguments fall back to
// the defaults.
func NewBreakerRegistry(threshold int, resetTimeout time.Duration) *BreakerRegistry {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultBreakerReset
	}
	return &BreakerRegistry{
		breakers:     make(map[string]*breaker),
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether a call for key may proceed. While open and inside the
// reset window it returns false; after the window it admits one trial call
// and stays open until the trial's outcome is recorded.
func (r *BreakerRegistry) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok || !b.open {
		return true
	}
	if r.now().Sub(b.openedAt) < r.resetTimeout {
		return false
	}
	if b.trial {
		// A trial is already in flight; keep rejecting until it resolves.
		return false
	}
	b.trial = true
	return true
}

// RecordSuccess closes the breaker for key and resets its failure count.
func (r *BreakerRegistry) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		b.failures = 0
		b.open = false
		b.trial = false
	}
}

// RecordFailure counts a failure for key, opening the breaker when the
// consecutive failure threshold is reached. A failure during the half-open
// trial re-opens the breaker and restarts the reset timer.
func (r *BreakerRegistry) RecordFailure(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = &breaker{}
		r.breakers[key] = b
	}
	b.failures++
	if b.trial || b.failures >= r.threshold {
		b.open = true
		b.trial = false
		b.openedAt = r.now()
	}
}

// State reports (open, consecutive failures) for key. Mainly for tests and
// diagnostics.
func (r *BreakerRegistry) State(key string) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		return false, 0
	}
	return b.open, b.failures
}
