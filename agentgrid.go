// Package agentgrid provides a high-level façade over the orchestration
// engine: agent registration, synchronous execution with streaming output,
// human-in-the-loop approval, delegation between agents and lifecycle
// events. Most applications interact with this package by:
//  1. Creating an Orchestrator via New() (optionally overriding the default
//     in-memory stores)
//  2. Registering agents and tools
//  3. Running agents with ExecuteAgent and resolving approval interrupts
//     with ResumeExecution
//
// All defaults are safe for local development and testing; production
// deployments typically supply the SQLite-backed stores and a structured
// logger.
package agentgrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentgrid/checkpoint"
	"github.com/hupe1980/agentgrid/config"
	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/delegate"
	"github.com/hupe1980/agentgrid/engine"
	"github.com/hupe1980/agentgrid/fault"
	"github.com/hupe1980/agentgrid/graph"
	"github.com/hupe1980/agentgrid/internal/util"
	"github.com/hupe1980/agentgrid/interrupt"
	"github.com/hupe1980/agentgrid/logging"
	"github.com/hupe1980/agentgrid/model"
	"github.com/hupe1980/agentgrid/observability"
	"github.com/hupe1980/agentgrid/registry"
	"github.com/hupe1980/agentgrid/session"
	"github.com/hupe1980/agentgrid/tool"
	"github.com/hupe1980/agentgrid/tracker"
)

// execIDKey carries the current execution id through the graph run so the
// delegation handler can attribute requests to their source execution.
type execIDKey struct{}

// Options configures an Orchestrator.
type Options struct {
	// Provider generates model responses for all agents.
	Provider model.Provider

	// Orchestrator tunables (timeouts, polling, parallelism).
	Config config.OrchestratorConfig

	// Checkpoints persists run state for interrupt/resume. Defaults to an
	// in-memory store.
	Checkpoints checkpoint.Store
	// Interrupts persists approval pause points. Defaults to an in-memory
	// store.
	Interrupts interrupt.Store
	// Sessions persists thread histories across executions. Defaults to an
	// in-memory store.
	Sessions session.Store

	// UserID is the ambient user attributed to executions that carry none.
	UserID string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
	// Recorder records metrics. Defaults to the OpenTelemetry recorder
	// against the global meter provider, which is inert until one is
	// installed.
	Recorder observability.Recorder
}

// Orchestrator is the high-level façade aggregating the registry, graph
// cache, delegation coordinator and fault handling.
type Orchestrator struct {
	opts Options
	cfg  config.OrchestratorConfig

	provider model.Provider
	agents   *registry.InMemoryRegistry
	tools    *tool.Registry
	cache    *graph.Cache
	tracker  *tracker.Tracker
	emitter  *core.Emitter
	handler  *fault.Handler

	coordinator *delegate.Coordinator

	mu     sync.Mutex
	active map[string]context.CancelFunc
	closed bool
}

// New creates an Orchestrator. Any unset store is initialized with an
// in-memory implementation.
func New(optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Config:   config.DefaultOrchestratorConfig(),
		Logger:   logging.NoOpLogger{},
		Recorder: observability.NewRecorder(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Recorder == nil {
		opts.Recorder = observability.NewRecorder()
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewMemoryStore()
	}
	if opts.Interrupts == nil {
		opts.Interrupts = interrupt.NewMemoryStore()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewMemoryStore()
	}

	o := &Orchestrator{
		opts:     opts,
		cfg:      opts.Config,
		provider: opts.Provider,
		agents:   registry.NewInMemoryRegistry(),
		tools:    tool.NewRegistry(),
		cache:    graph.NewCache(),
		tracker:  tracker.New(opts.Config.CompletedGrace),
		emitter:  core.NewEmitter(),
		handler:  fault.NewHandler(func(h *fault.HandlerOptions) { h.Logger = opts.Logger }),
		active:   make(map[string]context.CancelFunc),
	}

	o.coordinator = delegate.NewCoordinator(o.agents, o.tracker, o.emitter, o.executeDelegation,
		func(co *delegate.Options) {
			co.ExecutionTimeout = o.cfg.ExecutionTimeout
			co.SupervisorTimeout = o.cfg.SupervisorTimeout
			co.MaxParallel = o.cfg.MaxParallelSubtasks
			co.UserID = opts.UserID
			co.Logger = opts.Logger
			co.Recorder = opts.Recorder
		})
	return o
}

// RegisterAgent adds an agent configuration. Registering invalidates the
// cached graphs of the agent and its parent, since delegation targets are
// baked into the compiled loop.
func (o *Orchestrator) RegisterAgent(cfg core.AgentConfig) error {
	if err := o.agents.Register(cfg); err != nil {
		return err
	}
	o.cache.Invalidate(cfg.ID)
	if cfg.ParentID != "" {
		o.cache.Invalidate(cfg.ParentID)
	}
	return nil
}

// RegisterTool adds a tool to the shared runtime.
func (o *Orchestrator) RegisterTool(t tool.Tool) error {
	return o.tools.Register(t)
}

// Subscribe registers a listener for lifecycle events.
func (o *Orchestrator) Subscribe(l core.Listener) {
	o.emitter.Subscribe(l)
}

// ExecuteOptions configure one ExecuteAgent call.
type ExecuteOptions struct {
	// ThreadID continues an existing conversation thread. A fresh thread id
	// is generated when empty.
	ThreadID string
	// UserID attributes the execution to a user; falls back to the
	// orchestrator's ambient user.
	UserID string
	// History seeds the conversation with prior messages.
	History []core.Message
	// OnToken receives incremental output deltas.
	OnToken func(delta string)
}

// ExecuteAgent runs the agent synchronously until it completes, fails, gets
// cancelled or its approval wait expires. The returned execution is terminal
// and queryable via GetExecution for the configured grace period.
func (o *Orchestrator) ExecuteAgent(ctx context.Context, agentID, input string, optFns ...func(eo *ExecuteOptions)) (*core.Execution, error) {
	eo := ExecuteOptions{}
	for _, fn := range optFns {
		fn(&eo)
	}
	if eo.ThreadID == "" {
		eo.ThreadID = util.NewThreadID()
	}
	if eo.UserID == "" {
		eo.UserID = o.opts.UserID
	}

	agent, ok := o.agents.GetByID(agentID)
	if !ok {
		return nil, fmt.Errorf("agent not found: %s", agentID)
	}

	history := eo.History
	if history == nil {
		stored, herr := o.opts.Sessions.History(ctx, eo.ThreadID)
		if herr != nil {
			o.opts.Logger.Warn("failed to load thread history", "thread_id", eo.ThreadID, "error", herr)
		}
		history = stored
	}

	exec, _, err := o.runAgent(ctx, agent, input, eo.ThreadID, eo.UserID, history, eo.OnToken, nil)
	return exec, err
}

// DeleteThread removes a stored conversation thread.
func (o *Orchestrator) DeleteThread(ctx context.Context, threadID string) (bool, error) {
	return o.opts.Sessions.Delete(ctx, threadID)
}

// ResumeExecution attaches a human decision to the pending interrupt of an
// execution. The paused engine observes the decision on its next poll and
// resumes from the checkpoint.
func (o *Orchestrator) ResumeExecution(ctx context.Context, executionID string, resp interrupt.Response) error {
	if !resp.Status.Resolved() {
		return fmt.Errorf("resume requires a decision, got %q", resp.Status)
	}
	_, err := o.opts.Interrupts.Resolve(ctx, executionID, resp)
	return err
}

// PendingInterrupt returns the interrupt record for an execution, or
// interrupt.ErrNotFound.
func (o *Orchestrator) PendingInterrupt(ctx context.Context, executionID string) (*interrupt.Interrupt, error) {
	return o.opts.Interrupts.Get(ctx, executionID)
}

// GetExecution returns a snapshot of a live or recently finished execution.
func (o *Orchestrator) GetExecution(executionID string) (core.Snapshot, bool) {
	exec, ok := o.tracker.Get(executionID)
	if !ok {
		return core.Snapshot{}, false
	}
	return exec.Snapshot(), true
}

// CancelExecution cancels a running execution. Cancelling an unknown or
// already finished execution is not an error.
func (o *Orchestrator) CancelExecution(executionID string) {
	o.mu.Lock()
	cancel, ok := o.active[executionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// FaultMetrics exposes the failure aggregate for inspection.
func (o *Orchestrator) FaultMetrics() *fault.Metrics {
	return o.handler.Metrics()
}

// Shutdown cancels all running executions and releases resources. The
// orchestrator must not be used afterwards.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	cancels := make([]context.CancelFunc, 0, len(o.active))
	for _, cancel := range o.active {
		cancels = append(cancels, cancel)
	}
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	o.cache.Clear()
	o.tracker.Shutdown()
	o.emitter.Reset()
	if err := o.opts.Checkpoints.Close(); err != nil {
		o.opts.Logger.Warn("failed to close checkpoint store", "error", err)
	}
	if err := o.opts.Interrupts.Close(); err != nil {
		o.opts.Logger.Warn("failed to close interrupt store", "error", err)
	}
	if err := o.opts.Sessions.Close(); err != nil {
		o.opts.Logger.Warn("failed to close session store", "error", err)
	}
}

// executeDelegation is the coordinator's ExecuteFunc: it runs the target
// agent as a child execution linked to its source.
func (o *Orchestrator) executeDelegation(ctx context.Context, agent core.AgentConfig, req core.DelegationRequest, threadID string) (*core.Execution, string, error) {
	input := req.Task
	if req.Context != "" {
		input = fmt.Sprintf("%s\n\nContext: %s", req.Task, req.Context)
	}
	history := []core.Message{core.SystemMessage{
		Text: fmt.Sprintf("You received this task by delegation from agent %s. Complete it and report back.", req.SourceAgentID),
	}}
	var parent *core.Execution
	if req.SourceExecutionID != "" {
		parent, _ = o.tracker.Get(req.SourceExecutionID)
	}
	return o.runAgent(ctx, agent, input, threadID, req.UserID, history, nil, parent)
}

func (o *Orchestrator) runAgent(
	ctx context.Context,
	agent core.AgentConfig,
	input, threadID, userID string,
	history []core.Message,
	onToken func(string),
	parent *core.Execution,
) (*core.Execution, string, error) {
	if o.provider == nil {
		return nil, "", fmt.Errorf("no model provider configured")
	}

	exec := core.NewExecution(agent.ID, threadID, userID, input)
	if parent != nil {
		exec.ParentID = parent.ID
		exec.RootID = parent.RootID
		if exec.RootID == "" {
			exec.RootID = parent.ID
		}
	}
	o.tracker.Track(exec)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, "", fmt.Errorf("orchestrator is shut down")
	}
	o.active[exec.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, exec.ID)
		o.mu.Unlock()
	}()
	runCtx = context.WithValue(runCtx, execIDKey{}, exec.ID)

	o.emitter.Emit(core.EventExecutionStarted, exec.ID, map[string]any{
		"agent_id":  agent.ID,
		"thread_id": threadID,
	})
	exec.AppendStep(core.ActionRouting, fmt.Sprintf("Routing request to %s", agent.ID), 0, nil)

	g, err := o.cache.GetOrCompile(agent.ID, func() (*graph.CompiledGraph, error) {
		return graph.Compile(o.compileConfig(agent))
	})
	if err != nil {
		return o.finishFailed(exec, fmt.Errorf("compile agent graph: %w", err))
	}

	initial := graph.State{
		Messages:   append(append([]core.Message{}, history...), core.UserMessage{Text: input}),
		HistoryLen: len(history) + 1,
	}

	engineCfg := engine.Config{
		Graph:            g,
		Checkpoints:      o.opts.Checkpoints,
		Interrupts:       o.opts.Interrupts,
		Namespace:        agent.ID,
		MaxIterations:    o.cfg.MaxIterations,
		ExecutionTimeout: o.executionTimeout(agent),
		ApprovalTimeout:  o.cfg.ApprovalTimeout,
		ApprovalPoll:     o.cfg.ApprovalPoll,
		Logger:           o.opts.Logger,
		Recorder:         o.opts.Recorder,
		OnToken:          onToken,
		OnNode: func(node string, phase graph.NodePhase) {
			name := core.EventNodeEntered
			if phase == graph.PhaseCompleted {
				name = core.EventNodeCompleted
			}
			o.emitter.Emit(name, exec.ID, map[string]any{
				"agent_id": agent.ID,
				"node":     node,
			})
		},
	}

	st, err := fault.Do(runCtx, o.handler, "agent_execution_"+agent.ID, func(ctx context.Context) (graph.State, error) {
		return engine.Run(ctx, engineCfg, exec, initial, nil)
	})
	exec.AddMetrics(st.Metrics)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return o.finishCancelled(exec, err)
		}
		return o.finishFailed(exec, err)
	}

	result := engine.ExtractResult(st, input)
	exec.SetResult(result)
	for _, m := range st.Messages[min(len(st.Messages), initial.HistoryLen):] {
		exec.AppendMessage(m)
	}

	// Record the exchange (user message onwards) so follow-ups on the same
	// thread see it.
	if from := initial.HistoryLen - 1; from >= 0 && from < len(st.Messages) {
		if serr := o.opts.Sessions.Append(context.Background(), threadID, st.Messages[from:]...); serr != nil {
			o.opts.Logger.Warn("failed to persist thread history", "thread_id", threadID, "error", serr)
		}
	}

	// A supervisor that answered without delegating is worth flagging: the
	// caller asked for coordination and got a solo answer.
	if agent.Role == core.RoleSupervisor && exec.DelegationCount() == 0 {
		exec.AppendStep(core.ActionDelegating, "Completed without delegating to any sub-agent", 100, map[string]any{
			"status": "skipped",
		})
		o.emitter.Emit(core.EventDelegationSkipped, exec.ID, map[string]any{
			"agent_id": agent.ID,
		})
	}

	exec.AppendStep(core.ActionCompleting, "Execution completed", 100, nil)
	if terr := exec.Transition(core.StatusCompleted); terr != nil {
		// Lost the race against a cancellation.
		return exec, result, fmt.Errorf("execution cancelled")
	}
	o.tracker.Complete(exec.ID)
	snap := exec.Snapshot()
	o.emitter.Emit(core.EventExecutionCompleted, exec.ID, map[string]any{
		"agent_id": agent.ID,
		"result":   result,
	})
	o.opts.Recorder.RecordExecution(context.Background(), agent.ID, string(core.StatusCompleted), snap.EndTime.Sub(snap.StartTime))
	return exec, result, nil
}

func (o *Orchestrator) finishFailed(exec *core.Execution, err error) (*core.Execution, string, error) {
	if terr := exec.Transition(core.StatusFailed); terr == nil {
		o.emitter.Emit(core.EventExecutionFailed, exec.ID, map[string]any{
			"agent_id": exec.AgentID,
			"error":    err.Error(),
		})
		snap := exec.Snapshot()
		o.opts.Recorder.RecordExecution(context.Background(), exec.AgentID, string(core.StatusFailed), snap.EndTime.Sub(snap.StartTime))
	}
	o.tracker.Complete(exec.ID)
	return exec, "", err
}

func (o *Orchestrator) finishCancelled(exec *core.Execution, err error) (*core.Execution, string, error) {
	if terr := exec.Transition(core.StatusCancelled); terr == nil {
		o.emitter.Emit(core.EventExecutionCancelled, exec.ID, map[string]any{
			"agent_id": exec.AgentID,
		})
		snap := exec.Snapshot()
		o.opts.Recorder.RecordExecution(context.Background(), exec.AgentID, string(core.StatusCancelled), snap.EndTime.Sub(snap.StartTime))
	}
	o.tracker.Complete(exec.ID)
	return exec, "", err
}

func (o *Orchestrator) executionTimeout(agent core.AgentConfig) time.Duration {
	if agent.Role == core.RoleSupervisor {
		return o.cfg.SupervisorTimeout
	}
	return o.cfg.ExecutionTimeout
}

// compileConfig assembles the agent loop configuration: the agent's own
// tools plus, for agents with sub-agents, the delegation tool.
func (o *Orchestrator) compileConfig(agent core.AgentConfig) graph.CompileConfig {
	defs := o.tools.Definitions(agent.Tools)

	subs := o.agents.GetSubAgents(agent.ID)
	var delegator graph.DelegationHandler
	if agent.Role == core.RoleSupervisor || len(subs) > 0 {
		names := make([]string, len(subs))
		for i, sub := range subs {
			names[i] = sub.ID
		}
		dt := tool.NewDelegateTool(names)
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        dt.Name(),
				Description: dt.Description(),
				Parameters:  dt.Parameters(),
			},
		})
		delegator = o.delegationHandler
	}

	return graph.CompileConfig{
		Agent:           agent,
		Provider:        o.provider,
		Runtime:         o.tools,
		ToolDefs:        defs,
		Delegator:       delegator,
		ApprovalTools:   agent.ApprovalTools,
		ToolTimeout:     o.cfg.ToolTimeout,
		MaxToolParallel: o.cfg.MaxParallelTools,
		Logger:          o.opts.Logger,
		Recorder:        o.opts.Recorder,
	}
}

// delegationHandler bridges delegate_to_agent calls from the graph into the
// coordinator, attributing them to the execution carried in the context.
func (o *Orchestrator) delegationHandler(ctx context.Context, req core.DelegationRequest) (string, error) {
	execID, _ := ctx.Value(execIDKey{}).(string)
	source, ok := o.tracker.Get(execID)
	if !ok {
		return "", fmt.Errorf("source execution not found for delegation")
	}
	req.SourceExecutionID = execID
	return o.coordinator.Delegate(ctx, source, req)
}
