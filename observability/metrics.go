// Package observability records orchestration metrics through OpenTelemetry.
// Use NewRecorder for OTel-backed metrics or NoopRecorder{} when disabled.
package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder records orchestration metrics.
type Recorder interface {
	// RecordExecution records a finished execution with its terminal status.
	RecordExecution(ctx context.Context, agentID, status string, duration time.Duration)

	// RecordModelCall records one model call and its token usage.
	RecordModelCall(ctx context.Context, agentID string, tokens int64)

	// RecordToolCall records a tool invocation with its duration and error
	// status.
	RecordToolCall(ctx context.Context, toolName string, duration time.Duration, err error)

	// RecordDelegation records a delegation attempt between two agents.
	RecordDelegation(ctx context.Context, sourceID, targetID string, success bool)

	// RecordInterrupt records a resolved or expired approval interrupt and
	// how long it waited.
	RecordInterrupt(ctx context.Context, agentID, resolution string, wait time.Duration)
}

type otelRecorder struct {
	executions       metric.Int64Counter
	executionLatency metric.Float64Histogram
	modelCalls       metric.Int64Counter
	modelTokens      metric.Int64Counter
	toolCalls        metric.Int64Counter
	toolLatency      metric.Float64Histogram
	toolErrors       metric.Int64Counter
	delegations      metric.Int64Counter
	interrupts       metric.Int64Counter
	interruptWait    metric.Float64Histogram
}

var (
	defaultRecorder     *otelRecorder
	defaultRecorderOnce sync.Once
	defaultRecorderErr  error
)

func getDefaultRecorder() (*otelRecorder, error) {
	defaultRecorderOnce.Do(func() {
		defaultRecorder, defaultRecorderErr = newOtelRecorder()
	})
	return defaultRecorder, defaultRecorderErr
}

func newOtelRecorder() (*otelRecorder, error) {
	meter := otel.Meter("agentgrid")

	executions, err := meter.Int64Counter("agentgrid.execution.count",
		metric.WithDescription("Number of finished executions"),
	)
	if err != nil {
		return nil, err
	}

	executionLatency, err := meter.Float64Histogram("agentgrid.execution.latency_ms",
		metric.WithDescription("Execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	modelCalls, err := meter.Int64Counter("agentgrid.model.calls",
		metric.WithDescription("Number of model calls"),
	)
	if err != nil {
		return nil, err
	}

	modelTokens, err := meter.Int64Counter("agentgrid.model.tokens",
		metric.WithDescription("Tokens consumed by model calls"),
	)
	if err != nil {
		return nil, err
	}

	toolCalls, err := meter.Int64Counter("agentgrid.tool.calls",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}

	toolLatency, err := meter.Float64Histogram("agentgrid.tool.latency_ms",
		metric.WithDescription("Tool invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	toolErrors, err := meter.Int64Counter("agentgrid.tool.errors",
		metric.WithDescription("Number of failed tool invocations"),
	)
	if err != nil {
		return nil, err
	}

	delegations, err := meter.Int64Counter("agentgrid.delegation.count",
		metric.WithDescription("Number of delegation attempts"),
	)
	if err != nil {
		return nil, err
	}

	interrupts, err := meter.Int64Counter("agentgrid.interrupt.count",
		metric.WithDescription("Number of resolved or expired approval interrupts"),
	)
	if err != nil {
		return nil, err
	}

	interruptWait, err := meter.Float64Histogram("agentgrid.interrupt.wait_ms",
		metric.WithDescription("Time interrupts waited for a decision in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{
		executions:       executions,
		executionLatency: executionLatency,
		modelCalls:       modelCalls,
		modelTokens:      modelTokens,
		toolCalls:        toolCalls,
		toolLatency:      toolLatency,
		toolErrors:       toolErrors,
		delegations:      delegations,
		interrupts:       interrupts,
		interruptWait:    interruptWait,
	}, nil
}

// NewRecorder returns a Recorder backed by OpenTelemetry. If initialization
// fails it falls back to a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewRecorder() Recorder {
	r, err := getDefaultRecorder()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopRecorder{}
	}
	return r
}

// RecordExecution records a finished execution.
func (r *otelRecorder) RecordExecution(ctx context.Context, agentID, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("agent_id", agentID),
		attribute.String("status", status),
	}
	r.executions.Add(ctx, 1, metric.WithAttributes(attrs...))
	r.executionLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordModelCall records one model call.
func (r *otelRecorder) RecordModelCall(ctx context.Context, agentID string, tokens int64) {
	attrs := []attribute.KeyValue{
		attribute.String("agent_id", agentID),
	}
	r.modelCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	if tokens > 0 {
		r.modelTokens.Add(ctx, tokens, metric.WithAttributes(attrs...))
	}
}

// RecordToolCall records a tool invocation.
func (r *otelRecorder) RecordToolCall(ctx context.Context, toolName string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("tool", toolName),
	}
	r.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	r.toolLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		r.toolErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDelegation records a delegation attempt.
func (r *otelRecorder) RecordDelegation(ctx context.Context, sourceID, targetID string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("source", sourceID),
		attribute.String("target", targetID),
		attribute.Bool("success", success),
	}
	r.delegations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInterrupt records a resolved or expired approval interrupt.
func (r *otelRecorder) RecordInterrupt(ctx context.Context, agentID, resolution string, wait time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("agent_id", agentID),
		attribute.String("resolution", resolution),
	}
	r.interrupts.Add(ctx, 1, metric.WithAttributes(attrs...))
	r.interruptWait.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(attrs...))
}
