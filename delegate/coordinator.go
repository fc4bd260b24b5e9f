// Package delegate coordinates handoffs between agents. The coordinator
// resolves the target, runs it as a child execution on a fresh thread, and
// reports progress back onto the source execution in fixed stages.
package delegate

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/internal/util"
	"github.com/hupe1980/agentgrid/logging"
	"github.com/hupe1980/agentgrid/observability"
	"github.com/hupe1980/agentgrid/registry"
	"github.com/hupe1980/agentgrid/tracker"
)

// Stage progression reported on the source execution while a delegation runs.
var stages = []struct {
	Name     string
	Progress int
}{
	{"initializing", 0},
	{"analyzing", 10},
	{"processing", 25},
	{"synthesizing", 70},
	{"finalizing", 90},
	{"completed", 100},
}

// ExecuteFunc runs the target agent with the delegated task on the given
// thread and returns the child execution and its result text. Wired by the
// orchestrator to avoid a dependency cycle.
type ExecuteFunc func(ctx context.Context, agent core.AgentConfig, req core.DelegationRequest, threadID string) (*core.Execution, string, error)

// Options configure a Coordinator.
type Options struct {
	// ExecutionTimeout bounds specialist and worker delegations.
	ExecutionTimeout time.Duration
	// SupervisorTimeout bounds delegations to supervisors, which fan out
	// further and need more room.
	SupervisorTimeout time.Duration
	// MaxParallel bounds concurrently running delegations.
	MaxParallel int
	// UserID is the ambient user attributed to delegations that carry no
	// user of their own.
	UserID string

	Logger   logging.Logger
	Recorder observability.Recorder
}

// Coordinator routes delegation requests between agents.
type Coordinator struct {
	registry registry.AgentRegistry
	tracker  *tracker.Tracker
	emitter  *core.Emitter
	execute  ExecuteFunc

	executionTimeout  time.Duration
	supervisorTimeout time.Duration
	ambientUserID     string
	sem               chan struct{}

	logger   logging.Logger
	recorder observability.Recorder
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(reg registry.AgentRegistry, tr *tracker.Tracker, emitter *core.Emitter, execute ExecuteFunc, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		ExecutionTimeout:  5 * time.Minute,
		SupervisorTimeout: 10 * time.Minute,
		MaxParallel:       3,
		Logger:            logging.NoOpLogger{},
		Recorder:          observability.NoopRecorder{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}

	return &Coordinator{
		registry:          reg,
		tracker:           tr,
		emitter:           emitter,
		execute:           execute,
		executionTimeout:  opts.ExecutionTimeout,
		supervisorTimeout: opts.SupervisorTimeout,
		ambientUserID:     opts.UserID,
		sem:               make(chan struct{}, opts.MaxParallel),
		logger:            opts.Logger,
		recorder:          opts.Recorder,
	}
}

// Delegate resolves the target agent and runs the task as a child execution,
// blocking until it finishes. Failures are reported through events and the
// returned error; the caller decides whether they abort anything. The source
// execution is never failed by a delegation.
func (c *Coordinator) Delegate(ctx context.Context, source *core.Execution, req core.DelegationRequest) (string, error) {
	start := time.Now()

	c.stage(source, req, 0) // initializing

	targetID, ok := c.registry.ResolveCanonicalID(req.SourceAgentID, req.TargetAgentID)
	if !ok {
		err := fmt.Errorf("agent not found: %s", req.TargetAgentID)
		c.fail(ctx, source, req, err)
		return "", err
	}
	target, ok := c.registry.GetByID(targetID)
	if !ok {
		err := fmt.Errorf("agent not found: %s", targetID)
		c.fail(ctx, source, req, err)
		return "", err
	}
	req.TargetAgentID = targetID

	c.emitter.Emit(core.EventDelegationRequested, source.ID, map[string]any{
		"source_agent": req.SourceAgentID,
		"target_agent": targetID,
		"task":         req.Task,
		"priority":     string(req.Priority),
	})
	c.stage(source, req, 1) // analyzing

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		err := ctx.Err()
		c.fail(ctx, source, req, err)
		return "", err
	}

	if req.UserID == "" {
		req.UserID = source.UserID
	}
	if req.UserID == "" {
		req.UserID = c.ambientUserID
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout := c.timeoutFor(target); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.stage(source, req, 2) // processing

	// Delegations always start a fresh conversation thread.
	child, result, err := c.execute(runCtx, target, req, util.NewThreadID())
	if err != nil {
		c.fail(ctx, source, req, err)
		c.logger.Error("delegation failed",
			"source_agent", req.SourceAgentID,
			"target_agent", targetID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return "", err
	}

	c.stage(source, req, 3) // synthesizing

	if child != nil {
		source.MarkDelegation(child.ID)
		source.AddMetrics(child.Snapshot().Metrics)
	}

	c.stage(source, req, 4) // finalizing
	c.stage(source, req, 5) // completed

	c.emitter.Emit(core.EventDelegationCompleted, source.ID, map[string]any{
		"source_agent": req.SourceAgentID,
		"target_agent": targetID,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
	c.recorder.RecordDelegation(ctx, req.SourceAgentID, targetID, true)
	c.logger.Info("delegation completed",
		"source_agent", req.SourceAgentID,
		"target_agent", targetID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// timeoutFor scopes the delegation timeout by the target's role: supervisors
// include their own delegations in their run time.
func (c *Coordinator) timeoutFor(target core.AgentConfig) time.Duration {
	if target.Role == core.RoleSupervisor {
		return c.supervisorTimeout
	}
	return c.executionTimeout
}

func (c *Coordinator) stage(source *core.Execution, req core.DelegationRequest, idx int) {
	s := stages[idx]
	content := fmt.Sprintf("Delegating to %s: %s", req.TargetAgentID, s.Name)
	source.AppendStep(core.ActionDelegating, content, s.Progress, map[string]any{
		"stage":        s.Name,
		"target_agent": req.TargetAgentID,
	})
	c.emitter.Emit(core.EventDelegationProgress, source.ID, map[string]any{
		"stage":        s.Name,
		"progress":     s.Progress,
		"target_agent": req.TargetAgentID,
	})
}

// fail reports a delegation failure without touching the source execution's
// status.
func (c *Coordinator) fail(ctx context.Context, source *core.Execution, req core.DelegationRequest, err error) {
	c.emitter.Emit(core.EventDelegationFailed, source.ID, map[string]any{
		"source_agent": req.SourceAgentID,
		"target_agent": req.TargetAgentID,
		"error":        err.Error(),
	})
	c.recorder.RecordDelegation(ctx, req.SourceAgentID, req.TargetAgentID, false)
}
