package core

import (
	"context"
	"time"
)

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	OwnerID     *string
	EnabledOnly bool
}

// Store abstracts the durable persistence layer used by the scheduler,
// the runner and the approval gate. The SQLite implementation lives in
// internal/store; tests substitute an in-memory fake.
type Store interface {
	// Task operations
	InsertTask(ctx context.Context, task *ScheduledTask) error
	UpdateTask(ctx context.Context, task *ScheduledTask) error
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (*ScheduledTask, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*ScheduledTask, error)
	SetTaskEnabled(ctx context.Context, id string, enabled bool) error
	UpdateTaskNextRun(ctx context.Context, id string, nextRunAt *time.Time) error
	UpdateTaskLastRun(ctx context.Context, id string, lastRunAt time.Time) error
	// Atomic counter bumps; each also advances run_count.
	IncrementTaskSuccess(ctx context.Context, id string) error
	IncrementTaskFailure(ctx context.Context, id string) error

	// Execution operations
	InsertExecution(ctx context.Context, exec *TaskExecution) error
	MarkExecutionStarted(ctx context.Context, id string, startedAt time.Time) error
	FinalizeExecution(ctx context.Context, exec *TaskExecution) error
	GetExecution(ctx context.Context, id string) (*TaskExecution, error)
	ListExecutions(ctx context.Context, taskID string, limit, offset int) ([]*TaskExecution, error)
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Approval operations
	InsertApproval(ctx context.Context, req *ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*ApprovalRequest, error)
	ListApprovals(ctx context.Context, ownerID string, status *ApprovalStatus) ([]*ApprovalRequest, error)
	FindPendingApproval(ctx context.Context, ownerID, agentID, actionType string) (*ApprovalRequest, error)
	ResolveApproval(ctx context.Context, req *ApprovalRequest) error
	ExpireApprovals(ctx context.Context, now time.Time) (int64, error)
}
