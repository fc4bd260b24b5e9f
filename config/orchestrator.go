package config

import "time"

// Defaults for OrchestratorConfig.
const (
	DefaultExecutionTimeout    = 5 * time.Minute
	DefaultSupervisorTimeout   = 10 * time.Minute
	DefaultApprovalTimeout     = 5 * time.Minute
	DefaultApprovalPoll        = 500 * time.Millisecond
	DefaultToolTimeout         = 60 * time.Second
	DefaultCompletedGrace      = 60 * time.Second
	DefaultMaxIterations       = 25
	DefaultMaxParallelTools    = 4
	DefaultMaxParallelSubtasks = 3
)

// OrchestratorConfig carries the tunables of the orchestration engine.
type OrchestratorConfig struct {
	// ExecutionTimeout bounds a single specialist or worker execution.
	ExecutionTimeout time.Duration
	// SupervisorTimeout bounds a supervisor execution, which includes the
	// time its delegations take.
	SupervisorTimeout time.Duration

	// ApprovalTimeout bounds how long a paused execution waits for a human
	// decision before expiring.
	ApprovalTimeout time.Duration
	// ApprovalPoll is the interval at which the pending interrupt is
	// re-read while waiting.
	ApprovalPoll time.Duration

	// ToolTimeout bounds one tool invocation.
	ToolTimeout time.Duration

	// CompletedGrace keeps finished executions queryable before eviction.
	CompletedGrace time.Duration

	// MaxIterations bounds graph node executions per run.
	MaxIterations int
	// MaxParallelTools bounds concurrent tool calls within one turn.
	MaxParallelTools int
	// MaxParallelSubtasks bounds concurrent delegations from one supervisor.
	MaxParallelSubtasks int
}

// DefaultOrchestratorConfig returns the built-in defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ExecutionTimeout:    DefaultExecutionTimeout,
		SupervisorTimeout:   DefaultSupervisorTimeout,
		ApprovalTimeout:     DefaultApprovalTimeout,
		ApprovalPoll:        DefaultApprovalPoll,
		ToolTimeout:         DefaultToolTimeout,
		CompletedGrace:      DefaultCompletedGrace,
		MaxIterations:       DefaultMaxIterations,
		MaxParallelTools:    DefaultMaxParallelTools,
		MaxParallelSubtasks: DefaultMaxParallelSubtasks,
	}
}

// OrchestratorFromConfig reads the "orchestrator" section, falling back to
// defaults for absent keys.
func OrchestratorFromConfig(c Config) OrchestratorConfig {
	s := c.Section("orchestrator")
	def := DefaultOrchestratorConfig()
	return OrchestratorConfig{
		ExecutionTimeout:    s.Duration("execution_timeout", def.ExecutionTimeout),
		SupervisorTimeout:   s.Duration("supervisor_timeout", def.SupervisorTimeout),
		ApprovalTimeout:     s.Duration("approval_timeout", def.ApprovalTimeout),
		ApprovalPoll:        s.Duration("approval_poll", def.ApprovalPoll),
		ToolTimeout:         s.Duration("tool_timeout", def.ToolTimeout),
		CompletedGrace:      s.Duration("completed_grace", def.CompletedGrace),
		MaxIterations:       s.Int("max_iterations", def.MaxIterations),
		MaxParallelTools:    s.Int("max_parallel_tools", def.MaxParallelTools),
		MaxParallelSubtasks: s.Int("max_parallel_subtasks", def.MaxParallelSubtasks),
	}
}
