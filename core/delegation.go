package core

// Priority orders delegated work when a target processes multiple requests.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ValidPriority reports whether p is one of the known levels.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// DelegationRequest asks the coordinator to hand a task to another agent on
// behalf of a running execution. TargetAgentID may be an id, a display name,
// or a registered alias; the coordinator canonicalizes it before resolution.
type DelegationRequest struct {
	SourceAgentID     string   `json:"source_agent_id"`
	SourceExecutionID string   `json:"source_execution_id"`
	TargetAgentID     string   `json:"target_agent_id"`
	Task              string   `json:"task"`
	Context           string   `json:"context,omitempty"`
	Priority          Priority `json:"priority,omitempty"`

	// UserID overrides the propagated user identity when set. Otherwise
	// the source execution's user id flows to the child.
	UserID string `json:"user_id,omitempty"`
}
