package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/graph"
)

func TestExtractResultAssistantText(t *testing.T) {
	st := graph.State{
		Messages: []core.Message{
			core.UserMessage{Text: "question"},
			core.AssistantMessage{Text: "the answer"},
		},
		HistoryLen: 1,
	}
	assert.Equal(t, "the answer", ExtractResult(st, "question"))
}

func TestExtractResultStripsReasoning(t *testing.T) {
	st := graph.State{
		Messages: []core.Message{
			core.UserMessage{Text: "question"},
			core.AssistantMessage{Text: "<thinking>let me think about this</thinking>the answer"},
		},
		HistoryLen: 1,
	}
	assert.Equal(t, "the answer", ExtractResult(st, "question"))
}

func TestExtractResultIgnoresSeededHistory(t *testing.T) {
	// Assistant text from seeded history must not become the result.
	st := graph.State{
		Messages: []core.Message{
			core.AssistantMessage{Text: "old answer"},
			core.UserMessage{Text: "new question"},
		},
		HistoryLen: 2,
	}
	assert.Contains(t, ExtractResult(st, "new question"), "new question")
}

func TestExtractResultToolFallback(t *testing.T) {
	// A reasoning-only answer falls back to the latest successful tool result.
	st := graph.State{
		Messages: []core.Message{
			core.UserMessage{Text: "look it up"},
			core.AssistantMessage{Text: "<thinking>hm</thinking>"},
			core.ToolResultMessage{CallID: "c1", Name: "broken", Content: "failed", IsError: true},
			core.ToolResultMessage{CallID: "c2", Name: "search", Content: "42 results"},
		},
		HistoryLen: 1,
	}
	got := ExtractResult(st, "look it up")
	assert.Equal(t, "Tool search returned: 42 results", got)
}

func TestExtractResultInputFallback(t *testing.T) {
	st := graph.State{
		Messages:   []core.Message{core.UserMessage{Text: "do the thing"}},
		HistoryLen: 1,
	}
	got := ExtractResult(st, "do the thing")
	assert.Equal(t, `The task "do the thing" completed without producing output.`, got)

	long := strings.Repeat("x", 200)
	got = ExtractResult(graph.State{}, long)
	assert.Contains(t, got, "...")
	assert.Less(t, len(got), 150)

	assert.Equal(t, "The task completed without producing output.", ExtractResult(graph.State{}, "  "))
}

func TestExtractResultDeterministic(t *testing.T) {
	st := graph.State{
		Messages: []core.Message{
			core.UserMessage{Text: "q"},
			core.AssistantMessage{Text: "a"},
		},
		HistoryLen: 1,
	}
	first := ExtractResult(st, "q")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ExtractResult(st, "q"))
	}
}

func TestStripReasoning(t *testing.T) {
	assert.Equal(t, "answer", StripReasoning("<scratchpad>notes</scratchpad>answer"))
	assert.Equal(t, "a b", StripReasoning("a <reflection>x</reflection>b"))
	assert.Equal(t, "plain", StripReasoning("plain"))
	assert.Equal(t, "", StripReasoning("<thinking>only thoughts</thinking>"))
}
