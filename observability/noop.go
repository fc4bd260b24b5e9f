package observability

import (
	"context"
	"time"
)

// NoopRecorder is a Recorder that does nothing. Use when metrics are
// disabled to avoid overhead.
type NoopRecorder struct{}

// Compile-time interface check.
var _ Recorder = NoopRecorder{}

// RecordExecution does nothing.
func (NoopRecorder) RecordExecution(_ context.Context, _, _ string, _ time.Duration) {}

// RecordModelCall does nothing.
func (NoopRecorder) RecordModelCall(_ context.Context, _ string, _ int64) {}

// RecordToolCall does nothing.
func (NoopRecorder) RecordToolCall(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordDelegation does nothing.
func (NoopRecorder) RecordDelegation(_ context.Context, _, _ string, _ bool) {}

// RecordInterrupt does nothing.
func (NoopRecorder) RecordInterrupt(_ context.Context, _, _ string, _ time.Duration) {}
