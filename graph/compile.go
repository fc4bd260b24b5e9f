package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
	"github.com/hupe1980/agentgrid/model"
	"github.com/hupe1980/agentgrid/observability"
	"github.com/hupe1980/agentgrid/tool"
)

// Node names of the compiled agent loop.
const (
	NodeModel = "model"
	NodeTools = "tools"
)

// DelegationHandler routes a delegate_to_agent call to the coordinator and
// returns the delegated agent's result text.
type DelegationHandler func(ctx context.Context, req core.DelegationRequest) (string, error)

// CompileConfig describes the agent loop to compile.
type CompileConfig struct {
	Agent    core.AgentConfig
	Provider model.Provider

	// Runtime executes regular tool calls.
	Runtime tool.Runtime
	// ToolDefs are the definitions exposed to the model.
	ToolDefs []model.ToolDefinition

	// Delegator handles delegate_to_agent calls. Nil disables delegation;
	// such calls then fail as regular tool results.
	Delegator DelegationHandler

	// ApprovalTools names tools requiring a human decision before running.
	ApprovalTools []string

	ToolTimeout     time.Duration
	MaxToolParallel int
	Logger          logging.Logger
	Recorder        observability.Recorder
}

// Compile builds the standard agent loop: a model node that generates
// (streaming tokens out) and a tools node that settles requested calls,
// looping until the model answers without tool calls.
//
//	model -> (pending calls?) -> tools -> model
//	      -> End
func Compile(cfg CompileConfig) (*CompiledGraph, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("graph compile: provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = observability.NoopRecorder{}
	}
	approval := make(map[string]bool, len(cfg.ApprovalTools))
	for _, name := range cfg.ApprovalTools {
		approval[name] = true
	}

	g := New()
	g.AddNode(NodeModel, modelNode(cfg))
	g.AddNode(NodeTools, toolsNode(cfg, approval))
	g.AddConditionalEdge(NodeModel, func(st State) string {
		if len(st.PendingCalls) > 0 {
			return NodeTools
		}
		return End
	})
	g.AddEdge(NodeTools, NodeModel)
	g.SetEntry(NodeModel)
	return g.Compile()
}

func modelNode(cfg CompileConfig) NodeFunc {
	return func(nc *NodeContext, st State) (State, error) {
		req := model.Request{
			Instructions: cfg.Agent.SystemPrompt,
			Messages:     core.SanitizeHistory(st.Messages),
			Tools:        cfg.ToolDefs,
			Temperature:  cfg.Agent.Temperature,
			MaxTokens:    cfg.Agent.MaxTokens,
			Stream:       true,
		}

		start := time.Now()
		respCh, errCh := cfg.Provider.Generate(nc.Context, req)

		var final *model.Response
		for resp := range respCh {
			if resp.Partial {
				nc.EmitToken(resp.Text)
				continue
			}
			r := resp
			final = &r
		}
		if err := <-errCh; err != nil {
			return st, fmt.Errorf("model generate: %w", err)
		}
		if final == nil {
			return st, fmt.Errorf("model returned no final response")
		}

		nc.Logger.Debug("model turn complete",
			"agent", cfg.Agent.ID,
			"duration_ms", time.Since(start).Milliseconds(),
			"tool_calls", len(final.ToolCalls),
		)

		st.Messages = append(st.Messages, core.AssistantMessage{
			Text:      final.Text,
			ToolCalls: final.ToolCalls,
		})
		st.PendingCalls = final.ToolCalls
		st.Turns++
		st.Metrics.ModelCalls++
		var tokens int64
		if final.Usage != nil {
			st.Metrics.TokensUsed += final.Usage.TotalTokens
			tokens = int64(final.Usage.TotalTokens)
		}
		cfg.Recorder.RecordModelCall(nc.Context, cfg.Agent.ID, tokens)
		return st, nil
	}
}

func toolsNode(cfg CompileConfig, approval map[string]bool) NodeFunc {
	return func(nc *NodeContext, st State) (State, error) {
		resume := st.Resume
		st.Resume = nil

		if resume == nil {
			if payload, gated := pendingApproval(st.PendingCalls, approval); gated {
				return st, Interrupt(payload)
			}
		}

		var rejected bool
		if resume != nil {
			switch resume.Decision {
			case "rejected":
				rejected = true
			case "edited":
				st.PendingCalls = applyEdits(st.PendingCalls, approval, resume.EditedArgs)
			}
		}

		// Partition: delegation calls go to the coordinator, approval-gated
		// calls that were rejected settle without running, the rest fan out
		// through the runtime.
		var batch []core.ToolCall
		for _, call := range st.PendingCalls {
			if call.Name == tool.DelegateToolName {
				continue
			}
			if rejected && approval[call.Name] {
				continue
			}
			batch = append(batch, call)
		}
		settled := tool.Execute(nc.Context, cfg.Runtime, batch, tool.ExecutorConfig{
			MaxParallel: cfg.MaxToolParallel,
			CallTimeout: cfg.ToolTimeout,
			Logger:      nc.Logger,
		})
		byID := make(map[string]tool.Result, len(settled))
		for _, res := range settled {
			byID[res.CallID] = res
		}

		for _, call := range st.PendingCalls {
			switch {
			case call.Name == tool.DelegateToolName:
				st.Messages = append(st.Messages, delegateResult(nc, cfg, call))
			case rejected && approval[call.Name]:
				note := "The requested action was rejected by the user."
				if resume.Note != "" {
					note += " Reason: " + resume.Note
				}
				st.Messages = append(st.Messages, core.ToolResultMessage{
					CallID: call.ID, Name: call.Name, Content: note, IsError: true,
				})
			default:
				res := byID[call.ID]
				st.Messages = append(st.Messages, core.ToolResultMessage{
					CallID: call.ID, Name: call.Name, Content: res.Content(), IsError: res.Err != nil,
				})
				st.Metrics.ToolCalls++
				cfg.Recorder.RecordToolCall(nc.Context, call.Name, time.Duration(res.DurationMs)*time.Millisecond, res.Err)
			}
		}

		st.PendingCalls = nil
		return st, nil
	}
}

// pendingApproval returns the interrupt payload for the first gated call.
// The resulting decision settles every gated call in the turn, not just the
// surfaced one.
func pendingApproval(calls []core.ToolCall, approval map[string]bool) (map[string]any, bool) {
	for _, call := range calls {
		if !approval[call.Name] {
			continue
		}
		args := map[string]any{}
		if call.Arguments != "" {
			_ = json.Unmarshal([]byte(call.Arguments), &args)
		}
		return map[string]any{
			"action":      call.Name,
			"args":        args,
			"description": fmt.Sprintf("Agent wants to run %s", call.Name),
		}, true
	}
	return nil, false
}

// applyEdits replaces the arguments of gated calls with the approver's edit.
func applyEdits(calls []core.ToolCall, approval map[string]bool, edited map[string]any) []core.ToolCall {
	if edited == nil {
		return calls
	}
	data, err := json.Marshal(edited)
	if err != nil {
		return calls
	}
	out := make([]core.ToolCall, len(calls))
	copy(out, calls)
	for i, call := range out {
		if approval[call.Name] {
			out[i].Arguments = string(data)
			break
		}
	}
	return out
}

func delegateResult(nc *NodeContext, cfg CompileConfig, call core.ToolCall) core.Message {
	fail := func(msg string) core.Message {
		return core.ToolResultMessage{CallID: call.ID, Name: call.Name, Content: msg, IsError: true}
	}
	if cfg.Delegator == nil {
		return fail("delegation is not available for this agent")
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fail(fmt.Sprintf("invalid delegation arguments: %v", err))
		}
	}
	req, err := tool.ParseDelegation(cfg.Agent.ID, "", args)
	if err != nil {
		return fail(err.Error())
	}

	result, err := cfg.Delegator(nc.Context, req)
	if err != nil {
		// Delegation failures are contained: the model sees the failure
		// as a tool result and decides how to proceed.
		return fail(fmt.Sprintf("delegation to %s failed: %v", req.TargetAgentID, err))
	}
	// Attribute the answer to its producer so a supervisor issuing several
	// delegations can tell the results apart.
	return core.ToolResultMessage{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("[%s] %s", req.TargetAgentID, result),
	}
}
