package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an execution. Transitions are monotonic:
// a running execution moves to exactly one terminal state and never leaves it.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepAction classifies an entry in an execution's step timeline.
type StepAction string

const (
	ActionRouting    StepAction = "routing"
	ActionAnalyzing  StepAction = "analyzing"
	ActionResponding StepAction = "responding"
	ActionDelegating StepAction = "delegating"
	ActionInterrupt  StepAction = "interrupt"
	ActionCompleting StepAction = "completing"
)

// Step is one append-only timeline entry. Steps are never mutated after
// being appended; progress is carried forward by appending further steps.
type Step struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Agent     string         `json:"agent"`
	Action    StepAction     `json:"action"`
	Content   string         `json:"content"`
	Progress  int            `json:"progress"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Metrics accumulates resource usage over an execution, including usage
// merged back from completed delegations.
type Metrics struct {
	ExecutionTimeMs int64 `json:"execution_time_ms"`
	TokensUsed      int   `json:"tokens_used"`
	ModelCalls      int   `json:"model_calls"`
	ToolCalls       int   `json:"tool_calls"`
	Delegations     int   `json:"delegations"`
}

// Add merges another metrics record into this one. ExecutionTimeMs is summed
// like the counters so delegated work remains visible in the source totals.
func (m *Metrics) Add(other Metrics) {
	m.ExecutionTimeMs += other.ExecutionTimeMs
	m.TokensUsed += other.TokensUsed
	m.ModelCalls += other.ModelCalls
	m.ToolCalls += other.ToolCalls
	m.Delegations += other.Delegations
}

// ErrTerminalStatus is returned by Transition when the execution has already
// reached an end state.
type ErrTerminalStatus struct {
	Current   Status
	Attempted Status
}

func (e *ErrTerminalStatus) Error() string {
	return fmt.Sprintf("execution already %s, cannot transition to %s", e.Current, e.Attempted)
}

// Execution is the record of one agent run: identity, lineage, timeline,
// conversation and metrics. All mutating methods are safe for concurrent use;
// readers should take a Snapshot rather than hold references into the record.
type Execution struct {
	mu sync.RWMutex

	ID       string
	ThreadID string
	AgentID  string
	UserID   string

	// ParentID/RootID link delegated executions back to their source. Both
	// are empty on a top-level run; RootID equals ID's root ancestor.
	ParentID string
	RootID   string

	Status    Status
	StartTime time.Time
	EndTime   time.Time

	Input  string
	Result string

	steps       []Step
	messages    []Message
	metrics     Metrics
	delegations map[string]struct{}
}

// NewExecution creates a running execution record.
func NewExecution(agentID, threadID, userID, input string) *Execution {
	return &Execution{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		AgentID:     agentID,
		UserID:      userID,
		Status:      StatusRunning,
		StartTime:   time.Now().UTC(),
		Input:       input,
		delegations: make(map[string]struct{}),
	}
}

// Transition moves the execution into a terminal state. It fails with
// *ErrTerminalStatus when a terminal state was already reached, so races
// between completion, failure and cancellation resolve to a single winner.
func (e *Execution) Transition(to Status) error {
	if !to.Terminal() {
		return fmt.Errorf("invalid transition target %q", to)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status.Terminal() {
		return &ErrTerminalStatus{Current: e.Status, Attempted: to}
	}
	e.Status = to
	e.EndTime = time.Now().UTC()
	e.metrics.ExecutionTimeMs += e.EndTime.Sub(e.StartTime).Milliseconds()
	return nil
}

// AppendStep adds a timeline entry, assigning id and timestamp.
func (e *Execution) AppendStep(action StepAction, content string, progress int, metadata map[string]any) Step {
	step := Step{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Agent:     e.AgentID,
		Action:    action,
		Content:   content,
		Progress:  progress,
		Metadata:  metadata,
	}
	e.mu.Lock()
	e.steps = append(e.steps, step)
	e.mu.Unlock()
	return step
}

// AppendMessage records a conversation message on the execution.
func (e *Execution) AppendMessage(m Message) {
	e.mu.Lock()
	e.messages = append(e.messages, m)
	e.mu.Unlock()
}

// SetResult stores the final result text.
func (e *Execution) SetResult(result string) {
	e.mu.Lock()
	e.Result = result
	e.mu.Unlock()
}

// AddMetrics merges a metrics delta into the cumulative totals.
func (e *Execution) AddMetrics(delta Metrics) {
	e.mu.Lock()
	e.metrics.Add(delta)
	e.mu.Unlock()
}

// MarkDelegation records that this execution delegated to target at least
// once. The count is of distinct delegation requests issued.
func (e *Execution) MarkDelegation(targetExecutionID string) {
	e.mu.Lock()
	if _, ok := e.delegations[targetExecutionID]; !ok {
		e.delegations[targetExecutionID] = struct{}{}
		e.metrics.Delegations++
	}
	e.mu.Unlock()
}

// DelegationCount returns the number of delegations issued so far.
func (e *Execution) DelegationCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.delegations)
}

// CurrentStatus returns the status under lock.
func (e *Execution) CurrentStatus() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Status
}

// Snapshot is a point-in-time copy of an execution, safe to hand to pollers.
type Snapshot struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	AgentID   string    `json:"agent_id"`
	UserID    string    `json:"user_id,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	RootID    string    `json:"root_id,omitempty"`
	Status    Status    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitzero"`
	Input     string    `json:"input"`
	Result    string    `json:"result,omitempty"`
	Steps     []Step    `json:"steps"`
	Metrics   Metrics   `json:"metrics"`
}

// Snapshot copies the execution for external observation. Steps are copied
// so callers cannot perturb the timeline.
func (e *Execution) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	steps := make([]Step, len(e.steps))
	copy(steps, e.steps)
	return Snapshot{
		ID:        e.ID,
		ThreadID:  e.ThreadID,
		AgentID:   e.AgentID,
		UserID:    e.UserID,
		ParentID:  e.ParentID,
		RootID:    e.RootID,
		Status:    e.Status,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Input:     e.Input,
		Result:    e.Result,
		Steps:     steps,
		Metrics:   e.metrics,
	}
}

// Messages returns a copy of the conversation recorded so far.
func (e *Execution) Messages() []Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	msgs := make([]Message, len(e.messages))
	copy(msgs, e.messages)
	return msgs
}
