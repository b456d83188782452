package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Runner drives one TaskExecution from creation to a terminal state and
// keeps the owning task's statistics consistent. Failures never stop the
// recurrence; the scheduler re-arms the next run after every finalization.
type Runner struct {
	store      Store
	capability CapabilityExecutor
	gate       *ApprovalGate
	logger     *slog.Logger
	now        func() time.Time
}

// NewRunner constructs a runner with the given collaborators.
func NewRunner(store Store, capability CapabilityExecutor, gate *ApprovalGate, logger *slog.Logger) *Runner {
	return &Runner{
		store:      store,
		capability: capability,
		gate:       gate,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the task once: pending -> running -> {completed, failed,
// cancelled}. High-risk task types are intercepted by the approval gate and
// finish as completed with an awaiting-approval result instead of blocking.
func (r *Runner) Run(ctx context.Context, task *ScheduledTask) (*TaskExecution, error) {
	exec := &TaskExecution{
		ID:      NewID(),
		TaskID:  task.ID,
		OwnerID: task.OwnerID,
		AgentID: task.AgentID,
		Status:  ExecutionStatusPending,
	}
	if err := r.store.InsertExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("insert execution: %w", err)
	}

	startedAt := r.now()
	exec.Status = ExecutionStatusRunning
	exec.StartedAt = &startedAt
	if err := r.store.MarkExecutionStarted(ctx, exec.ID, startedAt); err != nil {
		r.logger.Warn("mark execution started", "execution_id", exec.ID, "err", err)
	}
	exec.AppendLog("execution started for task %q (%s)", task.Name, task.Type)

	if RequiresApproval(task.Type) {
		return r.interceptForApproval(ctx, task, exec)
	}

	result, err := r.dispatchWithRetries(ctx, task, exec)
	if err != nil {
		return r.finalizeFailure(ctx, task, exec, err)
	}
	return r.finalizeSuccess(ctx, task, exec, result)
}

// interceptForApproval creates (or reuses) a pending approval request and
// ends the execution without invoking the capability executor. Approval and
// the eventual action happen out of band in the gate.
func (r *Runner) interceptForApproval(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (*TaskExecution, error) {
	req, created, err := r.gate.RequestForTask(ctx, task)
	if err != nil {
		return r.finalizeFailure(ctx, task, exec, fmt.Errorf("create approval request: %w", err))
	}
	if created {
		exec.AppendLog("high-risk action %s requires approval, request %s expires at %s",
			req.ActionType, req.ID, req.ExpiresAt.Format(time.RFC3339))
	} else {
		exec.AppendLog("high-risk action %s already awaiting approval (request %s)", req.ActionType, req.ID)
	}
	exec.Result = mustJSON(map[string]any{
		"status":              "awaiting_approval",
		"approval_request_id": req.ID,
		"expires_at":          req.ExpiresAt.Format(time.RFC3339),
	})
	return r.finalizeSuccess(ctx, task, exec, nil)
}

// dispatchWithRetries runs the task's routine under the task timeout,
// retrying retryable capability failures up to MaxRetries within this
// single execution.
func (r *Runner) dispatchWithRetries(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (*ActionResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		if attempt > 0 {
			exec.AppendLog("retrying (attempt %d of %d)", attempt+1, task.MaxRetries+1)
		}
		attemptStart := r.now()
		result, err := r.dispatch(runCtx, task, exec)
		exec.Resources.ProcessingTime += r.now().Sub(attemptStart)
		if err == nil {
			if result != nil {
				exec.Resources.Calls += result.Calls
				exec.Resources.EstimatedCost += result.EstimatedCost
			}
			return result, nil
		}
		lastErr = err
		exec.AppendLog("attempt failed: %v", err)
		if runCtx.Err() != nil {
			break
		}
		if !IsRetryable(err) {
			break
		}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("execution timed out after %s", task.Timeout)
	}
	return nil, lastErr
}

// dispatch routes by task type to its domain routine. Every routine ends up
// at the capability executor; the split keeps per-type log lines and result
// shaping in one obvious place.
func (r *Runner) dispatch(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (*ActionResult, error) {
	switch task.Type {
	case TaskTypeInventoryCheck:
		return r.runInventoryCheck(ctx, task, exec)
	case TaskTypeDataSync:
		return r.runDataSync(ctx, task, exec)
	case TaskTypeMarketingAutomation:
		return r.runMarketing(ctx, task, exec)
	case TaskTypeCustom:
		return r.runCustom(ctx, task, exec)
	default:
		// price_optimization and order_fulfillment are approval-gated and
		// never reach dispatch.
		return nil, &CapabilityError{Code: "unroutable", Message: fmt.Sprintf("no routine for task type %q", task.Type), Retryable: false}
	}
}

func (r *Runner) runInventoryCheck(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (*ActionResult, error) {
	params, err := DecodeParams(task.Type, task.Parameters)
	if err != nil {
		return nil, &CapabilityError{Code: "bad_params", Message: err.Error(), Retryable: false}
	}
	p := params.(*InventoryCheckParams)
	exec.AppendLog("checking inventory, low-stock threshold %d, %d location(s)", p.LowStockThreshold, len(p.Locations))
	return r.execute(ctx, task)
}

func (r *Runner) runDataSync(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (*ActionResult, error) {
	params, err := DecodeParams(task.Type, task.Parameters)
	if err != nil {
		return nil, &CapabilityError{Code: "bad_params", Message: err.Error(), Retryable: false}
	}
	p := params.(*DataSyncParams)
	exec.AppendLog("syncing %d entity kind(s), direction %s", len(p.Entities), p.Direction)
	return r.execute(ctx, task)
}

func (r *Runner) runMarketing(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (*ActionResult, error) {
	params, err := DecodeParams(task.Type, task.Parameters)
	if err != nil {
		return nil, &CapabilityError{Code: "bad_params", Message: err.Error(), Retryable: false}
	}
	p := params.(*MarketingParams)
	exec.AppendLog("running %s campaign automation, daily cap %d", p.Channel, p.DailyCap)
	return r.execute(ctx, task)
}

func (r *Runner) runCustom(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (*ActionResult, error) {
	exec.AppendLog("running custom routine")
	return r.execute(ctx, task)
}

func (r *Runner) execute(ctx context.Context, task *ScheduledTask) (*ActionResult, error) {
	return r.capability.Execute(ctx, CapabilityRequest{
		OwnerID:    task.OwnerID,
		AgentID:    task.AgentID,
		TaskType:   task.Type,
		ActionType: ActionTypeFor(task.Type),
		Params:     task.Parameters,
	})
}

func (r *Runner) finalizeSuccess(ctx context.Context, task *ScheduledTask, exec *TaskExecution, result *ActionResult) (*TaskExecution, error) {
	completedAt := r.now()
	exec.Status = ExecutionStatusCompleted
	exec.CompletedAt = &completedAt
	if result != nil {
		exec.Result = mustJSON(map[string]any{
			"summary": result.Summary,
			"data":    json.RawMessage(orEmptyObject(result.Data)),
		})
		exec.AppendLog("completed: %s", result.Summary)
	} else {
		exec.AppendLog("completed")
	}
	r.persistOutcome(ctx, task, exec, true)
	return exec, nil
}

func (r *Runner) finalizeFailure(ctx context.Context, task *ScheduledTask, exec *TaskExecution, runErr error) (*TaskExecution, error) {
	completedAt := r.now()
	exec.CompletedAt = &completedAt
	msg := runErr.Error()
	exec.Error = &msg
	if errors.Is(ctx.Err(), context.Canceled) {
		exec.Status = ExecutionStatusCancelled
		exec.AppendLog("cancelled: %v", runErr)
	} else {
		exec.Status = ExecutionStatusFailed
		exec.AppendLog("failed: %v", runErr)
	}
	r.persistOutcome(ctx, task, exec, false)
	return exec, runErr
}

// persistOutcome writes the terminal state and statistics. Store failures
// are logged but never mutate the in-memory execution back out of its
// terminal state; the outcome is reconciled on the next read.
func (r *Runner) persistOutcome(ctx context.Context, task *ScheduledTask, exec *TaskExecution, success bool) {
	if err := r.store.FinalizeExecution(ctx, exec); err != nil {
		r.logger.Error("finalize execution", "execution_id", exec.ID, "status", exec.Status, "err", err)
	}
	if success {
		if err := r.store.IncrementTaskSuccess(ctx, task.ID); err != nil {
			r.logger.Warn("increment task success", "task_id", task.ID, "err", err)
		}
	} else {
		if err := r.store.IncrementTaskFailure(ctx, task.ID); err != nil {
			r.logger.Warn("increment task failure", "task_id", task.ID, "err", err)
		}
	}
	if err := r.store.UpdateTaskLastRun(ctx, task.ID, *exec.CompletedAt); err != nil {
		r.logger.Warn("update task last run", "task_id", task.ID, "err", err)
	}
}
