// Package fault centralizes failure handling for the orchestrator: error
// classification into a closed category set, retry with exponential backoff,
// circuit breaking per context key, and per-category failure metrics.
package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category buckets an error for retry and reporting decisions. The set is
// closed; anything unrecognized maps to CategoryUnknown.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryModel          Category = "model"
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit      Category = "rate_limit"
	CategoryTimeout        Category = "timeout"
	CategoryGraph          Category = "graph"
	CategoryTool           Category = "tool"
	CategoryUnknown        Category = "unknown"
)

// Error carries an explicit category alongside the wrapped cause. Subsystems
// that know their failure mode wrap with WithCategory so classification does
// not depend on message text.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WithCategory wraps err with an explicit category. Returns nil for nil err.
func WithCategory(category Category, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Err: err}
}

// rule pairs a predicate with the category it assigns. Rules are evaluated
// in order; the first match wins, so more specific categories come first.
type rule struct {
	category Category
	match    func(error, string) bool
}

func contains(msg string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var rules = []rule{
	{CategoryAuthentication, func(_ error, msg string) bool {
		return contains(msg, "unauthorized", "authentication", "api key", "invalid key", "permission denied", "401", "403")
	}},
	{CategoryRateLimit, func(_ error, msg string) bool {
		return contains(msg, "rate limit", "too many requests", "quota exceeded", "429")
	}},
	{CategoryTimeout, func(err error, msg string) bool {
		return errors.Is(err, context.DeadlineExceeded) || contains(msg, "timeout", "timed out", "deadline exceeded")
	}},
	{CategoryNetwork, func(err error, msg string) bool {
		return contains(msg, "connection refused", "connection reset", "network", "no such host", "dial tcp", "broken pipe", "unexpected eof")
	}},
	{CategoryValidation, func(_ error, msg string) bool {
		return contains(msg, "validation", "invalid argument", "invalid parameter", "schema", "malformed")
	}},
	{CategoryGraph, func(_ error, msg string) bool {
		return contains(msg, "graph", "no entry point", "max iterations", "unknown node")
	}},
	{CategoryTool, func(_ error, msg string) bool {
		return contains(msg, "tool ")
	}},
	{CategoryModel, func(_ error, msg string) bool {
		return contains(msg, "model", "completion", "overloaded", "server error", "500", "502", "503", "llm")
	}},
}

// Classify maps an error to its category. Explicit *Error wrapping anywhere
// in the chain wins; otherwise message-based rules apply in priority order.
// Classification is pure: same error chain, same category.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if r.match(err, msg) {
			return r.category
		}
	}
	return CategoryUnknown
}
