package util

import "github.com/google/uuid"

// NewID returns a fresh random identifier for executions, threads and steps.
func NewID() string { return uuid.NewString() }

// NewThreadID returns a thread identifier with a recognizable prefix, used
// for the fresh conversation threads created for delegations.
func NewThreadID() string { return "thread-" + uuid.NewString() }
