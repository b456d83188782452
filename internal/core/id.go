package core

import "github.com/google/uuid"

// NewID returns a random identifier for tasks, executions and approvals.
func NewID() string {
	return uuid.NewString()
}
