package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store used by the core tests.
type memStore struct {
	mu sync.Mutex

	tasks      map[string]*ScheduledTask
	taskOrder  []string
	executions map[string]*TaskExecution
	execOrder  []string
	approvals  map[string]*ApprovalRequest
	apprOrder  []string

	listTasksErr error
}

func newMemStore() *memStore {
	return &memStore{
		tasks:      make(map[string]*ScheduledTask),
		executions: make(map[string]*TaskExecution),
		approvals:  make(map[string]*ApprovalRequest),
	}
}

func (m *memStore) InsertTask(ctx context.Context, task *ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.UpdatedAt = task.CreatedAt
	clone := *task
	m.tasks[task.ID] = &clone
	m.taskOrder = append(m.taskOrder, task.ID)
	return nil
}

func (m *memStore) UpdateTask(ctx context.Context, task *ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	task.UpdatedAt = time.Now().UTC()
	clone := *task
	m.tasks[task.ID] = &clone
	return nil
}

func (m *memStore) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *memStore) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	clone := *task
	return &clone, nil
}

func (m *memStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listTasksErr != nil {
		return nil, m.listTasksErr
	}
	var out []*ScheduledTask
	for _, id := range m.taskOrder {
		task, ok := m.tasks[id]
		if !ok {
			continue
		}
		if filter.EnabledOnly && !task.Enabled {
			continue
		}
		if filter.OwnerID != nil && task.OwnerID != *filter.OwnerID {
			continue
		}
		clone := *task
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memStore) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Enabled = enabled
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) UpdateTaskNextRun(ctx context.Context, id string, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.NextRunAt = nextRunAt
	return nil
}

func (m *memStore) UpdateTaskLastRun(ctx context.Context, id string, lastRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.LastRunAt = &lastRunAt
	return nil
}

func (m *memStore) IncrementTaskSuccess(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.RunCount++
	task.SuccessCount++
	return nil
}

func (m *memStore) IncrementTaskFailure(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.RunCount++
	task.FailureCount++
	return nil
}

func (m *memStore) InsertExecution(ctx context.Context, exec *TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	clone := *exec
	m.executions[exec.ID] = &clone
	m.execOrder = append(m.execOrder, exec.ID)
	return nil
}

func (m *memStore) MarkExecutionStarted(ctx context.Context, id string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	exec.Status = ExecutionStatusRunning
	exec.StartedAt = &startedAt
	return nil
}

func (m *memStore) FinalizeExecution(ctx context.Context, exec *TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[exec.ID]; !ok {
		return ErrExecutionNotFound
	}
	clone := *exec
	m.executions[exec.ID] = &clone
	return nil
}

func (m *memStore) GetExecution(ctx context.Context, id string) (*TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	clone := *exec
	return &clone, nil
}

func (m *memStore) ListExecutions(ctx context.Context, taskID string, limit, offset int) ([]*TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TaskExecution
	// newest first
	for i := len(m.execOrder) - 1; i >= 0; i-- {
		exec, ok := m.executions[m.execOrder[i]]
		if !ok || exec.TaskID != taskID {
			continue
		}
		clone := *exec
		out = append(out, &clone)
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, exec := range m.executions {
		if !exec.Status.IsTerminal() {
			continue
		}
		if exec.CreatedAt.Before(cutoff) {
			delete(m.executions, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertApproval(ctx context.Context, req *ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *req
	m.approvals[req.ID] = &clone
	m.apprOrder = append(m.apprOrder, req.ID)
	return nil
}

func (m *memStore) GetApproval(ctx context.Context, id string) (*ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.approvals[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	clone := *req
	return &clone, nil
}

func (m *memStore) ListApprovals(ctx context.Context, ownerID string, status *ApprovalStatus) ([]*ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ApprovalRequest
	for _, id := range m.apprOrder {
		req, ok := m.approvals[id]
		if !ok || req.OwnerID != ownerID {
			continue
		}
		if status != nil && req.Status != *status {
			continue
		}
		clone := *req
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memStore) FindPendingApproval(ctx context.Context, ownerID, agentID, actionType string) (*ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.apprOrder) - 1; i >= 0; i-- {
		req, ok := m.approvals[m.apprOrder[i]]
		if !ok {
			continue
		}
		if req.Status == ApprovalStatusPending && req.OwnerID == ownerID && req.AgentID == agentID && req.ActionType == actionType {
			clone := *req
			return &clone, nil
		}
	}
	return nil, ErrApprovalNotFound
}

func (m *memStore) ResolveApproval(ctx context.Context, req *ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.approvals[req.ID]
	if !ok {
		return ErrApprovalNotFound
	}
	if stored.Status != ApprovalStatusPending {
		return ErrApprovalResolved
	}
	clone := *req
	m.approvals[req.ID] = &clone
	return nil
}

func (m *memStore) ExpireApprovals(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, req := range m.approvals {
		if req.Status == ApprovalStatusPending && now.After(req.ExpiresAt) {
			req.Status = ApprovalStatusExpired
			n++
		}
	}
	return n, nil
}

// fakeExecutor records capability calls and returns scripted outcomes.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []CapabilityRequest
	fn    func(ctx context.Context, req CapabilityRequest) (*ActionResult, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req CapabilityRequest) (*ActionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return &ActionResult{Summary: "ok", Calls: 1, EstimatedCost: 0.01}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExecutor) lastCall() CapabilityRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// fakeOracle answers tier checks from a fixed decision.
type fakeOracle struct {
	allow bool
	err   error
}

func (f *fakeOracle) AllowTaskType(ctx context.Context, ownerID string, taskType TaskType) (bool, error) {
	return f.allow, f.err
}

// fakeNotifier records sent notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeNotifier) Send(ctx context.Context, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

func newTestTask(typ TaskType) *ScheduledTask {
	return &ScheduledTask{
		ID:         NewID(),
		OwnerID:    "owner-1",
		AgentID:    "agent-1",
		Type:       typ,
		Name:       "test task",
		Frequency:  FrequencyDaily,
		Timezone:   "UTC",
		Enabled:    true,
		Priority:   PriorityMedium,
		Timeout:    time.Minute,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
		MaxRetries: 0,
	}
}
