package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// CapabilityRequest describes one domain action for the capability executor.
type CapabilityRequest struct {
	OwnerID    string          `json:"owner_id"`
	AgentID    string          `json:"agent_id"`
	TaskType   TaskType        `json:"task_type"`
	ActionType string          `json:"action_type"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// ActionResult is the structured outcome of a capability invocation.
type ActionResult struct {
	Summary       string          `json:"summary"`
	Data          json.RawMessage `json:"data,omitempty"`
	Calls         int             `json:"calls"`
	EstimatedCost float64         `json:"estimated_cost"`
}

// CapabilityExecutor performs the actual side-effecting domain work
// (inventory checks, price changes, fulfillment). Implementations live
// outside this package; the runner and the approval gate only rely on
// this contract.
type CapabilityExecutor interface {
	Execute(ctx context.Context, req CapabilityRequest) (*ActionResult, error)
}

// PermissionOracle answers whether an owner's plan tier permits automated
// execution of a task type.
type PermissionOracle interface {
	AllowTaskType(ctx context.Context, ownerID string, taskType TaskType) (bool, error)
}

// CapabilityError is a typed failure from the capability executor. Retryable
// failures are attempted again within the same execution up to the task's
// retry budget; non-retryable ones fail the execution immediately.
type CapabilityError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s: %s", e.Code, e.Message)
}

// IsRetryable reports whether an execution attempt may be retried.
// Errors that are not CapabilityError are treated as retryable transport
// faults.
func IsRetryable(err error) bool {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return capErr.Retryable
	}
	return true
}

// ActionTypeFor maps a task type to the capability action it performs.
func ActionTypeFor(t TaskType) string {
	switch t {
	case TaskTypeInventoryCheck:
		return "inventory.check"
	case TaskTypePriceOptimization:
		return "pricing.optimize"
	case TaskTypeOrderFulfillment:
		return "orders.fulfill"
	case TaskTypeMarketingAutomation:
		return "marketing.run"
	case TaskTypeDataSync:
		return "data.sync"
	default:
		return "custom.run"
	}
}
