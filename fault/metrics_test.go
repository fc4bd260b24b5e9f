package fault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordFailure(t *testing.T) {
	m := NewMetrics()

	m.RecordFailure(CategoryNetwork)
	m.RecordFailure(CategoryNetwork)
	m.RecordFailure(CategoryModel)

	snap := m.Snapshot()
	assert.Equal(t, 2, snap[CategoryNetwork].Count)
	assert.Equal(t, 1, snap[CategoryModel].Count)
	assert.False(t, snap[CategoryNetwork].LastOccurred.IsZero())
}

func TestMetricsRecoveryAverage(t *testing.T) {
	m := NewMetrics()

	m.RecordRecovery(CategoryNetwork, 100*time.Millisecond)
	assert.Equal(t, 100.0, m.Snapshot()[CategoryNetwork].AvgRecoveryMs)

	// Halving blend: (100 + 300) / 2 = 200.
	m.RecordRecovery(CategoryNetwork, 300*time.Millisecond)
	assert.Equal(t, 200.0, m.Snapshot()[CategoryNetwork].AvgRecoveryMs)

	// (200 + 100) / 2 = 150.
	m.RecordRecovery(CategoryNetwork, 100*time.Millisecond)
	assert.Equal(t, 150.0, m.Snapshot()[CategoryNetwork].AvgRecoveryMs)
}

func TestMetricsRetryOutcomes(t *testing.T) {
	m := NewMetrics()

	m.RecordRetryOutcome(CategoryRateLimit, true)
	m.RecordRetryOutcome(CategoryRateLimit, true)
	m.RecordRetryOutcome(CategoryRateLimit, false)

	stats := m.Snapshot()[CategoryRateLimit]
	assert.Equal(t, 2, stats.RetrySuccesses)
	assert.Equal(t, 1, stats.RetryFailures)
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMetrics()
	m.RecordFailure(CategoryTool)

	snap := m.Snapshot()
	entry := snap[CategoryTool]
	entry.Count = 99
	snap[CategoryTool] = entry

	assert.Equal(t, 1, m.Snapshot()[CategoryTool].Count)
}
