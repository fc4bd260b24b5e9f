package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentgrid/core"
)

// DelegateToolName is the reserved tool name supervisors use to hand work to
// another agent. Calls to it are intercepted by the graph layer and routed to
// the delegation coordinator; the tool body itself never runs.
const DelegateToolName = "delegate_to_agent"

// NewDelegateTool builds the tool definition exposed to models of agents
// that can delegate. targets lists the agent names the model may pick from,
// which is surfaced in the description for guidance.
func NewDelegateTool(targets []string) Tool {
	description := "Delegate a task to another agent and receive its result."
	if len(targets) > 0 {
		description += " Available agents: "
		for i, t := range targets {
			if i > 0 {
				description += ", "
			}
			description += t
		}
		description += "."
	}
	return NewFunctionTool(
		DelegateToolName,
		description,
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent": map[string]any{
					"type":        "string",
					"description": "Name or id of the agent to delegate to",
				},
				"task": map[string]any{
					"type":        "string",
					"description": "The task to hand off, phrased as a self-contained instruction",
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Relevant background the target agent needs",
				},
				"priority": map[string]any{
					"type":        "string",
					"description": "low, normal or high",
				},
			},
			"required": []string{"agent", "task"},
		},
		func(context.Context, map[string]any) (any, error) {
			return nil, NewToolError(DelegateToolName, "must be routed through the delegation coordinator", "EXECUTION_ERROR")
		},
	)
}

// ParseDelegation converts delegate_to_agent call arguments into a
// DelegationRequest attributed to the source execution.
func ParseDelegation(sourceAgentID, sourceExecutionID string, args map[string]any) (core.DelegationRequest, error) {
	agent, _ := args["agent"].(string)
	task, _ := args["task"].(string)
	if agent == "" || task == "" {
		return core.DelegationRequest{}, fmt.Errorf("delegation requires agent and task arguments")
	}

	req := core.DelegationRequest{
		SourceAgentID:     sourceAgentID,
		SourceExecutionID: sourceExecutionID,
		TargetAgentID:     agent,
		Task:              task,
		Priority:          core.PriorityNormal,
	}
	if c, ok := args["context"].(string); ok {
		req.Context = c
	}
	if p, ok := args["priority"].(string); ok && core.ValidPriority(core.Priority(p)) {
		req.Priority = core.Priority(p)
	}
	if u, ok := args["user_id"].(string); ok {
		req.UserID = u
	}
	return req, nil
}
