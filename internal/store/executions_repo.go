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

func (s *Store) InsertExecution(ctx context.Context, exec *core.TaskExecution) error {
	now := time.Now().UTC()
	exec.CreatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO task_executions (
			id, task_id, owner_id, agent_id, status,
			started_at, completed_at, duration_ms, result, error,
			logs, resources_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.TaskID, exec.OwnerID, exec.AgentID, exec.Status,
		nullableTime(exec.StartedAt), nullableTime(exec.CompletedAt), exec.Duration().Milliseconds(),
		nullableJSON(exec.Result), nullableString(exec.Error),
		encodeLogs(exec.Logs), encodeResources(exec.Resources),
		exec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *Store) MarkExecutionStarted(ctx context.Context, id string, startedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE task_executions SET status = ?, started_at = ? WHERE id = ?
	`, core.ExecutionStatusRunning, startedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark execution started: %w", err)
	}
	return affectedOr(res, core.ErrExecutionNotFound)
}

// FinalizeExecution writes the terminal state, outcome, logs and resource
// accounting in one statement.
func (s *Store) FinalizeExecution(ctx context.Context, exec *core.TaskExecution) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE task_executions
		SET status = ?, completed_at = ?, duration_ms = ?, result = ?, error = ?,
			logs = ?, resources_used = ?
		WHERE id = ?
	`, exec.Status, nullableTime(exec.CompletedAt), exec.Duration().Milliseconds(),
		nullableJSON(exec.Result), nullableString(exec.Error),
		encodeLogs(exec.Logs), encodeResources(exec.Resources), exec.ID)
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	return affectedOr(res, core.ErrExecutionNotFound)
}

func (s *Store) GetExecution(ctx context.Context, id string) (*core.TaskExecution, error) {
	row := s.DB.QueryRowContext(ctx, executionSelect+` WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

func (s *Store) ListExecutions(ctx context.Context, taskID string, limit, offset int) ([]*core.TaskExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, executionSelect+`
		WHERE task_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	var execs []*core.TaskExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return execs, nil
}

// DeleteExecutionsBefore removes finished executions older than the cutoff.
// Rows still pending or running are kept regardless of age.
func (s *Store) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM task_executions
		WHERE created_at < ? AND status NOT IN (?, ?)
	`, cutoff.UTC().Format(time.RFC3339Nano), core.ExecutionStatusPending, core.ExecutionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("delete old executions: %w", err)
	}
	return res.RowsAffected()
}

const executionSelect = `
	SELECT id, task_id, owner_id, agent_id, status,
		started_at, completed_at, result, error, logs, resources_used, created_at
	FROM task_executions`

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*core.TaskExecution, error) {
	var (
		id, taskID, ownerID, agentID, status string
		startedAt, completedAt               sql.NullString
		result, errMsg, logs, resources      sql.NullString
		createdAt                            string
	)
	if err := scanner.Scan(&id, &taskID, &ownerID, &agentID, &status,
		&startedAt, &completedAt, &result, &errMsg, &logs, &resources, &createdAt); err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec := &core.TaskExecution{
		ID:        id,
		TaskID:    taskID,
		OwnerID:   ownerID,
		AgentID:   agentID,
		Status:    core.ExecutionStatus(status),
		CreatedAt: mustParseTime(createdAt),
	}
	if startedAt.Valid {
		t := mustParseTime(startedAt.String)
		exec.StartedAt = &t
	}
	if completedAt.Valid {
		t := mustParseTime(completedAt.String)
		exec.CompletedAt = &t
	}
	if result.Valid {
		exec.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		exec.Error = &errMsg.String
	}
	if logs.Valid {
		_ = json.Unmarshal([]byte(logs.String), &exec.Logs)
	}
	if resources.Valid {
		_ = json.Unmarshal([]byte(resources.String), &exec.Resources)
	}
	return exec, nil
}

func encodeLogs(logs []string) any {
	if len(logs) == 0 {
		return nil
	}
	data, err := json.Marshal(logs)
	if err != nil {
		return nil
	}
	return string(data)
}

func encodeResources(r core.ResourceUsage) any {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return string(data)
}
