package fault

import (
	"sync"
	"time"
)

// CategoryStats aggregates failures observed for one category.
type CategoryStats struct {
	Count          int       `json:"count"`
	LastOccurred   time.Time `json:"last_occurred"`
	AvgRecoveryMs  float64   `json:"avg_recovery_ms"`
	RetrySuccesses int       `json:"retry_successes"`
	RetryFailures  int       `json:"retry_failures"`
}

// Metrics tracks failure counts, retry outcomes and recovery latency per
// category. It is an in-process aggregate meant for snapshots at shutdown
// or on demand; export to a metrics backend happens elsewhere.
type Metrics struct {
	mu    sync.Mutex
	stats map[Category]*CategoryStats
}

// NewMetrics creates an empty metrics aggregate.
func NewMetrics() *Metrics {
	return &Metrics{stats: make(map[Category]*CategoryStats)}
}

func (m *Metrics) get(c Category) *CategoryStats {
	s, ok := m.stats[c]
	if !ok {
		s = &CategoryStats{}
		m.stats[c] = s
	}
	return s
}

// RecordFailure counts one failure in category c.
func (m *Metrics) RecordFailure(c Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(c)
	s.Count++
	s.LastOccurred = time.Now().UTC()
}

// RecordRecovery folds a successful recovery duration into the running
// average. The average is a halving blend, avg = (avg + new) / 2, which
// weights recent recoveries more heavily than a true mean.
func (m *Metrics) RecordRecovery(c Category, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(c)
	ms := float64(d.Milliseconds())
	if s.AvgRecoveryMs == 0 {
		s.AvgRecoveryMs = ms
		return
	}
	s.AvgRecoveryMs = (s.AvgRecoveryMs + ms) / 2
}

// RecordRetryOutcome counts whether a retried operation eventually succeeded.
func (m *Metrics) RecordRetryOutcome(c Category, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(c)
	if success {
		s.RetrySuccesses++
	} else {
		s.RetryFailures++
	}
}

// Snapshot copies the aggregate for reporting.
func (m *Metrics) Snapshot() map[Category]CategoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Category]CategoryStats, len(m.stats))
	for c, s := range m.stats {
		out[c] = *s
	}
	return out
}
