package core

// Role determines how an agent participates in orchestration. Supervisors
// route and delegate, specialists handle scoped tasks, workers run narrow
// tool-heavy jobs. Role also selects the execution time budget applied to
// delegated runs.
type Role string

const (
	RoleSupervisor Role = "supervisor"
	RoleSpecialist Role = "specialist"
	RoleWorker     Role = "worker"
)

// AgentConfig describes an agent to the orchestrator. Configuration is
// static for the lifetime of a compiled graph; invalidate the graph cache
// after changing it.
type AgentConfig struct {
	ID           string  `json:"id" yaml:"id"`
	Name         string  `json:"name" yaml:"name"`
	Role         Role    `json:"role" yaml:"role"`
	Model        string  `json:"model" yaml:"model"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	MaxTokens    int64   `json:"max_tokens" yaml:"max_tokens"`
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`

	// Tools lists tool names this agent may call. The delegation tool is
	// added automatically for agents that have sub-agents.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`

	// ApprovalTools lists tool names that require a human decision before
	// they run. Calls to these pause the execution until resolved.
	ApprovalTools []string `json:"approval_tools,omitempty" yaml:"approval_tools,omitempty"`

	// ParentID is set on sub-agents, naming the agent they belong to.
	// Only one level of nesting is supported.
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
}

// IsSubAgent reports whether the agent is scoped under a parent.
func (c AgentConfig) IsSubAgent() bool { return c.ParentID != "" }
