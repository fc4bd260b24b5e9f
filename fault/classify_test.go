package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil error", nil, CategoryUnknown},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), CategoryNetwork},
		{"deadline exceeded", context.DeadlineExceeded, CategoryTimeout},
		{"wrapped deadline", fmt.Errorf("calling provider: %w", context.DeadlineExceeded), CategoryTimeout},
		{"rate limited", errors.New("429 Too Many Requests: rate limit exceeded"), CategoryRateLimit},
		{"auth failure", errors.New("401 unauthorized: invalid api key"), CategoryAuthentication},
		{"validation", errors.New("schema validation failed for parameter q"), CategoryValidation},
		{"graph", errors.New("graph has no entry point"), CategoryGraph},
		{"tool", errors.New("tool \"search\" not registered"), CategoryTool},
		{"model overloaded", errors.New("model overloaded, try again"), CategoryModel},
		{"gibberish", errors.New("something odd happened"), CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

// A model call that times out must classify as timeout, not model; rule
// order is part of the contract.
func TestClassifyPriority(t *testing.T) {
	err := errors.New("model call timed out after 30s")
	assert.Equal(t, CategoryTimeout, Classify(err))

	err = errors.New("model returned 429 rate limit")
	assert.Equal(t, CategoryRateLimit, Classify(err))
}

func TestClassifyExplicitCategoryWins(t *testing.T) {
	err := WithCategory(CategoryTool, errors.New("connection refused by sandbox"))
	assert.Equal(t, CategoryTool, Classify(err))

	wrapped := fmt.Errorf("executing: %w", err)
	assert.Equal(t, CategoryTool, Classify(wrapped))
}

func TestClassifyDeterministic(t *testing.T) {
	err := errors.New("connection reset by peer")
	first := Classify(err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(err))
	}
}
