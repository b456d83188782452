package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskType is the closed set of automation routines an agent can run.
type TaskType string

const (
	TaskTypeInventoryCheck      TaskType = "inventory_check"
	TaskTypePriceOptimization   TaskType = "price_optimization"
	TaskTypeOrderFulfillment    TaskType = "order_fulfillment"
	TaskTypeMarketingAutomation TaskType = "marketing_automation"
	TaskTypeDataSync            TaskType = "data_sync"
	TaskTypeCustom              TaskType = "custom"
)

// Frequency describes how often a task recurs.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// Priority orders tasks for operators; it does not affect scheduling.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ExecutionStatus describes the lifecycle state of one execution.
// completed, failed and cancelled are terminal.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// ApprovalStatus describes the lifecycle state of an approval request.
// approved, rejected and expired are terminal.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// IsTerminal reports whether the request has been resolved or expired.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected || s == ApprovalStatusExpired
}

// RiskLevel classifies how dangerous an action is; high and critical actions
// must pass through the approval gate before the capability executor runs.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskForTaskType maps a task type to the risk class of its side effects.
// Price changes and order fulfillment mutate live store data.
func RiskForTaskType(t TaskType) RiskLevel {
	switch t {
	case TaskTypePriceOptimization, TaskTypeOrderFulfillment:
		return RiskLevelHigh
	case TaskTypeMarketingAutomation:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RequiresApproval reports whether executions of this task type are
// intercepted by the approval gate.
func RequiresApproval(t TaskType) bool {
	risk := RiskForTaskType(t)
	return risk == RiskLevelHigh || risk == RiskLevelCritical
}

// ScheduledTask is a recurring job definition owned by a user and executed
// on behalf of one of their agents.
type ScheduledTask struct {
	ID          string
	OwnerID     string
	AgentID     string
	Type        TaskType
	Name        string
	Description *string

	Frequency Frequency
	CronExpr  *string
	Timezone  string

	Enabled    bool
	Priority   Priority
	MaxRetries int
	Timeout    time.Duration
	Parameters json.RawMessage
	Conditions json.RawMessage

	LastRunAt    *time.Time
	NextRunAt    *time.Time
	RunCount     int
	SuccessCount int
	FailureCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	defaultTaskTimeout = 5 * time.Minute
	maxTaskTimeout     = time.Hour
)

// Validate checks the task definition before it is persisted or scheduled.
// A custom frequency requires a parseable cron expression; typed parameters
// are decoded so malformed configuration fails here, not at execution time.
func (t *ScheduledTask) Validate() error {
	if strings.TrimSpace(t.OwnerID) == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.AgentID) == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	switch t.Type {
	case TaskTypeInventoryCheck, TaskTypePriceOptimization, TaskTypeOrderFulfillment,
		TaskTypeMarketingAutomation, TaskTypeDataSync, TaskTypeCustom:
	default:
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, t.Type)
	}
	switch t.Frequency {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	case FrequencyCustom:
		if t.CronExpr == nil || strings.TrimSpace(*t.CronExpr) == "" {
			return fmt.Errorf("%w: custom frequency requires a cron expression", ErrInvalidTask)
		}
		if _, err := ParseCron(*t.CronExpr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidTask, t.Frequency)
	}
	switch t.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	case "":
		t.Priority = PriorityMedium
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, t.Priority)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be non-negative", ErrInvalidTask)
	}
	if t.Timeout <= 0 {
		t.Timeout = defaultTaskTimeout
	}
	if t.Timeout > maxTaskTimeout {
		return fmt.Errorf("%w: timeout exceeds %s", ErrInvalidTask, maxTaskTimeout)
	}
	if _, err := DecodeParams(t.Type, t.Parameters); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return nil
}

// Location resolves the task timezone, falling back to UTC.
func (t *ScheduledTask) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResourceUsage accounts for work done while executing a task.
type ResourceUsage struct {
	Calls          int           `json:"calls"`
	EstimatedCost  float64       `json:"estimated_cost"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
}

// TaskExecution is one concrete run of a ScheduledTask.
type TaskExecution struct {
	ID      string
	TaskID  string
	OwnerID string
	AgentID string

	Status      ExecutionStatus
	StartedAt   *time.Time
	CompletedAt *time.Time

	Result    json.RawMessage
	Error     *string
	Logs      []string
	Resources ResourceUsage

	CreatedAt time.Time
}

// Duration is derived from start and completion; zero until finalized.
func (e *TaskExecution) Duration() time.Duration {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(*e.StartedAt)
}

// AppendLog records a timestamped trace line on the execution. The log is
// append-only; lines are never reordered or rewritten.
func (e *TaskExecution) AppendLog(format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	e.Logs = append(e.Logs, line)
}

// ApprovalRequest is a time-boxed authorization to perform one high-risk action.
type ApprovalRequest struct {
	ID            string
	OwnerID       string
	AgentID       string
	IntegrationID *string

	ActionType        string
	ActionDescription string
	ActionData        json.RawMessage
	RiskLevel         RiskLevel

	Status      ApprovalStatus
	RequestedAt time.Time
	ExpiresAt   time.Time
	RespondedAt *time.Time
	Reason      *string
	Result      json.RawMessage

	EstimatedImpact *string
	Context         json.RawMessage
}

// Expired reports whether the request can no longer be approved.
func (r *ApprovalRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
