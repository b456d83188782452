package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agentcron/internal/core"
)

func (s *Store) InsertApproval(ctx context.Context, req *core.ApprovalRequest) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO approval_requests (
			id, owner_id, agent_id, integration_id, action_type, action_description,
			action_data, risk_level, status, requested_at, expires_at,
			responded_at, reason, result, estimated_impact, context
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.OwnerID, req.AgentID, nullableString(req.IntegrationID), req.ActionType, req.ActionDescription,
		nullableJSON(req.ActionData), req.RiskLevel, req.Status,
		req.RequestedAt.UTC().Format(time.RFC3339Nano), req.ExpiresAt.UTC().Format(time.RFC3339Nano),
		nullableTime(req.RespondedAt), nullableString(req.Reason), nullableJSON(req.Result),
		nullableString(req.EstimatedImpact), nullableJSON(req.Context))
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*core.ApprovalRequest, error) {
	row := s.DB.QueryRowContext(ctx, approvalSelect+` WHERE id = ?`, id)
	req, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrApprovalNotFound
		}
		return nil, err
	}
	return req, nil
}

func (s *Store) ListApprovals(ctx context.Context, ownerID string, status *core.ApprovalStatus) ([]*core.ApprovalRequest, error) {
	query := approvalSelect + ` WHERE owner_id = ?`
	args := []any{ownerID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY requested_at DESC`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()
	var reqs []*core.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}

// FindPendingApproval returns the most recent pending request for the same
// owner, agent and action, used to avoid stacking duplicate requests.
func (s *Store) FindPendingApproval(ctx context.Context, ownerID, agentID, actionType string) (*core.ApprovalRequest, error) {
	row := s.DB.QueryRowContext(ctx, approvalSelect+`
		WHERE owner_id = ? AND agent_id = ? AND action_type = ? AND status = ?
		ORDER BY requested_at DESC
		LIMIT 1
	`, ownerID, agentID, actionType, core.ApprovalStatusPending)
	req, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrApprovalNotFound
		}
		return nil, err
	}
	return req, nil
}

// ResolveApproval writes a terminal status. The WHERE clause keeps the
// transition monotonic even under a racing sweep: a row already out of
// pending is never overwritten.
func (s *Store) ResolveApproval(ctx context.Context, req *core.ApprovalRequest) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, responded_at = ?, reason = ?, result = ?
		WHERE id = ? AND status = ?
	`, req.Status, nullableTime(req.RespondedAt), nullableString(req.Reason), nullableJSON(req.Result),
		req.ID, core.ApprovalStatusPending)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	return affectedOr(res, core.ErrApprovalResolved)
}

// ExpireApprovals transitions every pending request past its deadline.
func (s *Store) ExpireApprovals(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?
		WHERE status = ? AND expires_at < ?
	`, core.ApprovalStatusExpired, core.ApprovalStatusPending, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	return res.RowsAffected()
}

const approvalSelect = `
	SELECT id, owner_id, agent_id, integration_id, action_type, action_description,
		action_data, risk_level, status, requested_at, expires_at,
		responded_at, reason, result, estimated_impact, context
	FROM approval_requests`

func scanApproval(scanner interface {
	Scan(dest ...any) error
}) (*core.ApprovalRequest, error) {
	var (
		id, ownerID, agentID                 string
		integrationID                        sql.NullString
		actionType, actionDescription        string
		actionData                           sql.NullString
		riskLevel, status                    string
		requestedAt, expiresAt               string
		respondedAt, reason, result          sql.NullString
		estimatedImpact, contextData         sql.NullString
	)
	if err := scanner.Scan(&id, &ownerID, &agentID, &integrationID, &actionType, &actionDescription,
		&actionData, &riskLevel, &status, &requestedAt, &expiresAt,
		&respondedAt, &reason, &result, &estimatedImpact, &contextData); err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}
	req := &core.ApprovalRequest{
		ID:                id,
		OwnerID:           ownerID,
		AgentID:           agentID,
		ActionType:        actionType,
		ActionDescription: actionDescription,
		RiskLevel:         core.RiskLevel(riskLevel),
		Status:            core.ApprovalStatus(status),
		RequestedAt:       mustParseTime(requestedAt),
		ExpiresAt:         mustParseTime(expiresAt),
	}
	if integrationID.Valid {
		req.IntegrationID = &integrationID.String
	}
	if actionData.Valid {
		req.ActionData = json.RawMessage(actionData.String)
	}
	if respondedAt.Valid {
		t := mustParseTime(respondedAt.String)
		req.RespondedAt = &t
	}
	if reason.Valid {
		req.Reason = &reason.String
	}
	if result.Valid {
		req.Result = json.RawMessage(result.String)
	}
	if estimatedImpact.Valid {
		req.EstimatedImpact = &estimatedImpact.String
	}
	if contextData.Valid {
		req.Context = json.RawMessage(contextData.String)
	}
	return req, nil
}
