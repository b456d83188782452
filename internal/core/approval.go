package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Notifier announces approval lifecycle events to the owner. The concrete
// webhook implementation lives in internal/notify.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// ApprovalGate holds high-risk actions pending until a human response
// arrives or the TTL elapses. Requests are resolved exactly once: a second
// response, or a response after expiry, is rejected with a distinct error.
type ApprovalGate struct {
	store      Store
	capability CapabilityExecutor
	notifier   Notifier
	logger     *slog.Logger

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

const (
	defaultApprovalTTL   = 24 * time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// NewApprovalGate constructs a gate with the given dependencies. A nil
// notifier disables notifications; zero durations get conservative defaults.
func NewApprovalGate(store Store, capability CapabilityExecutor, notifier Notifier, logger *slog.Logger, ttl, sweepInterval time.Duration) *ApprovalGate {
	if ttl <= 0 {
		ttl = defaultApprovalTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &ApprovalGate{
		store:         store,
		capability:    capability,
		notifier:      notifier,
		logger:        logger,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput carries the fields needed to open a request.
type CreateInput struct {
	OwnerID           string
	AgentID           string
	IntegrationID     *string
	ActionType        string
	ActionDescription string
	ActionData        json.RawMessage
	RiskLevel         RiskLevel
	EstimatedImpact   *string
	Context           json.RawMessage
}

// CreateRequest opens a pending, time-boxed request and notifies the owner.
func (g *ApprovalGate) CreateRequest(ctx context.Context, in CreateInput) (*ApprovalRequest, error) {
	now := g.now()
	req := &ApprovalRequest{
		ID:                NewID(),
		OwnerID:           in.OwnerID,
		AgentID:           in.AgentID,
		IntegrationID:     in.IntegrationID,
		ActionType:        in.ActionType,
		ActionDescription: in.ActionDescription,
		ActionData:        in.ActionData,
		RiskLevel:         in.RiskLevel,
		Status:            ApprovalStatusPending,
		RequestedAt:       now,
		ExpiresAt:         now.Add(g.ttl),
		EstimatedImpact:   in.EstimatedImpact,
		Context:           in.Context,
	}
	if err := g.store.InsertApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("insert approval: %w", err)
	}
	g.notify(ctx, "Approval required",
		fmt.Sprintf("%s (%s risk) awaits your approval until %s", req.ActionDescription, req.RiskLevel, req.ExpiresAt.Format(time.RFC3339)))
	return req, nil
}

// RequestForTask finds an open request for the task's action or creates one.
// The boolean reports whether a new request was created, so the runner can
// avoid stacking duplicate requests while the owner has not answered.
func (g *ApprovalGate) RequestForTask(ctx context.Context, task *ScheduledTask) (*ApprovalRequest, bool, error) {
	actionType := ActionTypeFor(task.Type)
	existing, err := g.store.FindPendingApproval(ctx, task.OwnerID, task.AgentID, actionType)
	if err == nil && existing != nil && !existing.Expired(g.now()) {
		return existing, false, nil
	}
	req, err := g.CreateRequest(ctx, CreateInput{
		OwnerID:           task.OwnerID,
		AgentID:           task.AgentID,
		ActionType:        actionType,
		ActionDescription: fmt.Sprintf("Run %s for task %q", actionType, task.Name),
		ActionData:        task.Parameters,
		RiskLevel:         RiskForTaskType(task.Type),
		Context:           json.RawMessage(fmt.Sprintf(`{"task_id":%q}`, task.ID)),
	})
	if err != nil {
		return nil, false, err
	}
	return req, true, nil
}

// Get loads a request, lazily expiring it when the TTL has elapsed.
func (g *ApprovalGate) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	req, err := g.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	g.lazyExpire(ctx, req)
	return req, nil
}

// List returns an owner's requests, optionally filtered by status, after a
// lazy expiry pass so callers never see stale pending rows.
func (g *ApprovalGate) List(ctx context.Context, ownerID string, status *ApprovalStatus) ([]*ApprovalRequest, error) {
	if _, err := g.store.ExpireApprovals(ctx, g.now()); err != nil {
		g.logger.Warn("expire approvals on list", "err", err)
	}
	return g.store.ListApprovals(ctx, ownerID, status)
}

// Respond resolves a pending request. Approval invokes the capability
// executor synchronously with optionally modified parameters and attaches
// the outcome; rejection records the reason and executes nothing.
func (g *ApprovalGate) Respond(ctx context.Context, id string, approved bool, reason *string, modifiedParams json.RawMessage) (*ApprovalRequest, error) {
	req, err := g.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case ApprovalStatusPending:
	case ApprovalStatusExpired:
		return nil, ErrApprovalExpired
	default:
		return nil, ErrApprovalResolved
	}
	now := g.now()
	if req.Expired(now) {
		g.markExpired(ctx, req)
		return nil, ErrApprovalExpired
	}

	req.RespondedAt = &now
	req.Reason = reason
	if !approved {
		req.Status = ApprovalStatusRejected
		if err := g.store.ResolveApproval(ctx, req); err != nil {
			return nil, fmt.Errorf("resolve approval: %w", err)
		}
		return req, nil
	}

	params := req.ActionData
	if len(modifiedParams) > 0 {
		params = modifiedParams
	}
	result, execErr := g.capability.Execute(ctx, CapabilityRequest{
		OwnerID:    req.OwnerID,
		AgentID:    req.AgentID,
		ActionType: req.ActionType,
		Params:     params,
	})
	req.Status = ApprovalStatusApproved
	if execErr != nil {
		// The approval itself stands; the execution failure is part of the
		// resolution record.
		req.Result = mustJSON(map[string]any{"error": execErr.Error()})
		g.logger.Error("approved action failed", "approval_id", req.ID, "action", req.ActionType, "err", execErr)
	} else {
		req.Result = mustJSON(map[string]any{
			"summary":        result.Summary,
			"data":           json.RawMessage(orEmptyObject(result.Data)),
			"calls":          result.Calls,
			"estimated_cost": result.EstimatedCost,
		})
	}
	if err := g.store.ResolveApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}
	return req, nil
}

// Cancel withdraws a pending request on behalf of the owner.
func (g *ApprovalGate) Cancel(ctx context.Context, id string) (*ApprovalRequest, error) {
	reason := "cancelled by owner"
	return g.Respond(ctx, id, false, &reason, nil)
}

// Sweep transitions every pending request past its deadline to expired and
// returns how many were affected.
func (g *ApprovalGate) Sweep(ctx context.Context) (int64, error) {
	n, err := g.store.ExpireApprovals(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	if n > 0 {
		g.logger.Info("expired approval requests", "count", n)
		g.notify(ctx, "Approvals expired", fmt.Sprintf("%d pending approval request(s) expired without a response", n))
	}
	return n, nil
}

// StartSweeper runs periodic expiry sweeps until ctx is done.
func (g *ApprovalGate) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.Sweep(ctx); err != nil {
				g.logger.Warn("approval sweep", "err", err)
			}
		}
	}
}

func (g *ApprovalGate) lazyExpire(ctx context.Context, req *ApprovalRequest) {
	if req.Status == ApprovalStatusPending && req.Expired(g.now()) {
		g.markExpired(ctx, req)
	}
}

func (g *ApprovalGate) markExpired(ctx context.Context, req *ApprovalRequest) {
	req.Status = ApprovalStatusExpired
	if err := g.store.ResolveApproval(ctx, req); err != nil {
		g.logger.Warn("mark approval expired", "approval_id", req.ID, "err", err)
	}
}

func (g *ApprovalGate) notify(ctx context.Context, title, body string) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.Send(ctx, title, body); err != nil {
		g.logger.Warn("send approval notification", "err", err)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
