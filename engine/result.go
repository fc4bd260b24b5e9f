package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/graph"
)

// reasoningMarkup matches internal reasoning blocks some models leak into
// their final text.
var reasoningMarkup = regexp.MustCompile(`(?s)<(thinking|scratchpad|reflection)>.*?</(thinking|scratchpad|reflection)>`)

const fallbackSnippetLen = 80

// ExtractResult derives the user-facing result from the final state.
// Precedence:
//  1. the latest assistant text produced during this execution, with
//     reasoning markup stripped
//  2. the latest non-error tool result, prefixed so the origin is clear
//  3. a deterministic fallback quoting the input
//
// The same state always yields the same result.
func ExtractResult(st graph.State, input string) string {
	if text := StripReasoning(st.LastAssistantText()); text != "" {
		return text
	}

	for i := len(st.Messages) - 1; i >= st.HistoryLen && i >= 0; i-- {
		res, ok := st.Messages[i].(core.ToolResultMessage)
		if !ok || res.IsError {
			continue
		}
		if content := strings.TrimSpace(res.Content); content != "" {
			return fmt.Sprintf("Tool %s returned: %s", res.Name, content)
		}
	}

	snippet := strings.TrimSpace(input)
	if len(snippet) > fallbackSnippetLen {
		snippet = snippet[:fallbackSnippetLen] + "..."
	}
	if snippet == "" {
		return "The task completed without producing output."
	}
	return fmt.Sprintf("The task %q completed without producing output.", snippet)
}

// StripReasoning removes reasoning markup blocks and trims the remainder.
func StripReasoning(text string) string {
	return strings.TrimSpace(reasoningMarkup.ReplaceAllString(text, ""))
}
