// Package engine drives a compiled agent graph to completion: it streams the
// run, persists approval interrupts, waits for human decisions and resumes,
// and enforces the execution timeout while excluding approval wait time from
// it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentgrid/checkpoint"
	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/fault"
	"github.com/hupe1980/agentgrid/graph"
	"github.com/hupe1980/agentgrid/interrupt"
	"github.com/hupe1980/agentgrid/logging"
	"github.com/hupe1980/agentgrid/observability"
)

// ErrApprovalExpired indicates an interrupt waited past the approval timeout
// without a decision. The interrupt stays pending so a late decision can
// still resume the execution.
var ErrApprovalExpired = errors.New("approval wait expired")

// Config wires one execution run.
type Config struct {
	Graph       *graph.CompiledGraph
	Checkpoints checkpoint.Store
	Interrupts  interrupt.Store

	// Namespace scopes checkpoints, normally the agent id.
	Namespace string

	MaxIterations    int
	ExecutionTimeout time.Duration
	ApprovalTimeout  time.Duration
	ApprovalPoll     time.Duration

	Logger   logging.Logger
	Recorder observability.Recorder

	// OnToken receives incremental output deltas. Optional.
	OnToken func(delta string)
	// OnNode receives node lifecycle notifications. Optional.
	OnNode func(node string, phase graph.NodePhase)
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = logging.NoOpLogger{}
	}
	if c.Recorder == nil {
		c.Recorder = observability.NoopRecorder{}
	}
	if c.ApprovalPoll <= 0 {
		c.ApprovalPoll = 500 * time.Millisecond
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 5 * time.Minute
	}
}

// Run drives the graph for the execution until it completes, fails or the
// approval wait expires. Interrupt pauses are handled inline: the pending
// interrupt is persisted, the store is polled for a decision, and the run
// resumes from the checkpoint with the decision injected. Time spent waiting
// for approval does not count against the execution timeout.
//
// resume seeds the first stream call with a decision, for executions paused
// in an earlier process. The returned state is the latest one observed, also
// on error.
func Run(ctx context.Context, cfg Config, exec *core.Execution, initial graph.State, resume *graph.ResumeValue) (graph.State, error) {
	cfg.defaults()

	budget := cfg.ExecutionTimeout
	latest := initial

	for {
		runCtx := ctx
		var cancel context.CancelFunc
		if cfg.ExecutionTimeout > 0 {
			if budget <= 0 {
				return latest, fault.WithCategory(fault.CategoryTimeout, fmt.Errorf("execution timeout of %s exhausted", cfg.ExecutionTimeout))
			}
			runCtx, cancel = context.WithTimeout(ctx, budget)
		}

		start := time.Now()
		events, errCh := cfg.Graph.Stream(runCtx, exec.ThreadID, initial, func(o *graph.RunOptions) {
			o.Checkpoints = cfg.Checkpoints
			o.Namespace = cfg.Namespace
			o.Logger = cfg.Logger
			o.Resume = resume
			if cfg.MaxIterations > 0 {
				o.MaxIterations = cfg.MaxIterations
			}
		})

		var (
			interrupted bool
			payload     map[string]any
		)
		for ev := range events {
			switch ev.Type {
			case graph.EventToken:
				if cfg.OnToken != nil {
					cfg.OnToken(ev.Token)
				}
			case graph.EventNode:
				if cfg.OnNode != nil {
					cfg.OnNode(ev.Node, ev.Phase)
				}
			case graph.EventState:
				latest = *ev.State
			case graph.EventInterrupt:
				interrupted = true
				payload = normalizeInterrupt(ev.Interrupt)
			}
		}
		err := <-errCh
		if cancel != nil {
			cancel()
		}
		budget -= time.Since(start)

		if err != nil {
			return latest, err
		}
		if !interrupted {
			if cfg.Interrupts != nil {
				if _, clearErr := cfg.Interrupts.Clear(ctx, exec.ID); clearErr != nil {
					cfg.Logger.Warn("failed to clear resolved interrupt", "execution_id", exec.ID, "error", clearErr)
				}
			}
			return latest, nil
		}

		resp, waited, err := awaitDecision(ctx, cfg, exec, payload)
		cfg.Recorder.RecordInterrupt(ctx, exec.AgentID, interruptResolution(resp, err), waited)
		if err != nil {
			return latest, err
		}
		cfg.Logger.Info("interrupt resolved, resuming",
			"execution_id", exec.ID,
			"decision", string(resp.Status),
			"waited_ms", waited.Milliseconds(),
		)
		resume = &graph.ResumeValue{
			Decision:   string(resp.Status),
			EditedArgs: resp.EditedArgs,
			Note:       resp.Note,
		}
	}
}

// awaitDecision persists the pending interrupt and polls the store until a
// decision arrives or the approval timeout passes. An expired wait leaves the
// interrupt pending and returns a permanent ErrApprovalExpired, so outer
// retry handling does not rerun the wait.
func awaitDecision(ctx context.Context, cfg Config, exec *core.Execution, payload map[string]any) (interrupt.Response, time.Duration, error) {
	if cfg.Interrupts == nil {
		return interrupt.Response{}, 0, fmt.Errorf("interrupt raised but no interrupt store configured")
	}

	action, args, description, err := interruptRequest(payload)
	if err != nil {
		return interrupt.Response{}, 0, err
	}
	record := interrupt.Interrupt{
		ExecutionID: exec.ID,
		ThreadID:    exec.ThreadID,
		AgentID:     exec.AgentID,
		UserID:      exec.UserID,
		Request:     interrupt.ActionRequest{Action: action, Args: args},
		Description: description,
		Status:      interrupt.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := cfg.Interrupts.Put(ctx, record); err != nil {
		return interrupt.Response{}, 0, fmt.Errorf("persist interrupt: %w", err)
	}

	exec.AppendStep(core.ActionInterrupt, description, 0, map[string]any{
		"action": action,
		"args":   args,
	})
	cfg.Logger.Info("execution paused for approval",
		"execution_id", exec.ID,
		"action", action,
	)

	start := time.Now()
	deadline := start.Add(cfg.ApprovalTimeout)
	ticker := time.NewTicker(cfg.ApprovalPoll)
	defer ticker.Stop()

	for {
		rec, err := cfg.Interrupts.Get(ctx, exec.ID)
		if err == nil && rec.Status.Resolved() {
			resp := interrupt.Response{Status: rec.Status}
			if rec.Response != nil {
				resp = *rec.Response
			}
			return resp, time.Since(start), nil
		}
		if err != nil && !errors.Is(err, interrupt.ErrNotFound) {
			return interrupt.Response{}, time.Since(start), fmt.Errorf("poll interrupt: %w", err)
		}

		if time.Now().After(deadline) {
			return interrupt.Response{}, time.Since(start),
				fault.Permanent(fmt.Errorf("%w after %s", ErrApprovalExpired, cfg.ApprovalTimeout))
		}
		select {
		case <-ctx.Done():
			return interrupt.Response{}, time.Since(start), ctx.Err()
		case <-ticker.C:
		}
	}
}

// normalizeInterrupt unwraps payloads that arrive as a {"value": {...}}
// envelope and returns the bare action descriptor.
func normalizeInterrupt(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	if len(payload) == 1 {
		if inner, ok := payload["value"].(map[string]any); ok {
			return inner
		}
	}
	return payload
}

// interruptRequest validates the normalized payload and extracts the action
// descriptor. A payload without an action cannot be approved meaningfully and
// fails the run rather than parking it on an unanswerable interrupt.
func interruptRequest(payload map[string]any) (action string, args map[string]any, description string, err error) {
	action, _ = payload["action"].(string)
	if action == "" {
		return "", nil, "", fault.WithCategory(fault.CategoryValidation,
			fmt.Errorf("interrupt payload has no action: %v", payload))
	}
	args, _ = payload["args"].(map[string]any)
	description, _ = payload["description"].(string)
	if description == "" {
		description = fmt.Sprintf("Approval required for %s", action)
	}
	return action, args, description, nil
}

func interruptResolution(resp interrupt.Response, err error) string {
	if err == nil {
		return string(resp.Status)
	}
	if errors.Is(err, ErrApprovalExpired) {
		return "expired"
	}
	return "aborted"
}
