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

func (s *Store) InsertTask(ctx context.Context, task *core.ScheduledTask) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (
			id, owner_id, agent_id, task_type, name, description,
			frequency, cron_expression, timezone, enabled, priority,
			max_retries, timeout_ms, parameters, conditions,
			last_run_at, next_run_at, run_count, success_count, failure_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.OwnerID, task.AgentID, task.Type, task.Name, nullableString(task.Description),
		task.Frequency, nullableString(task.CronExpr), task.Timezone, boolToInt(task.Enabled), task.Priority,
		task.MaxRetries, task.Timeout.Milliseconds(), nullableJSON(task.Parameters), nullableJSON(task.Conditions),
		nullableTime(task.LastRunAt), nullableTime(task.NextRunAt), task.RunCount, task.SuccessCount, task.FailureCount,
		task.CreatedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, task *core.ScheduledTask) error {
	task.UpdatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET name = ?, description = ?, task_type = ?, frequency = ?, cron_expression = ?,
			timezone = ?, enabled = ?, priority = ?, max_retries = ?, timeout_ms = ?,
			parameters = ?, conditions = ?, last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, task.Name, nullableString(task.Description), task.Type, task.Frequency, nullableString(task.CronExpr),
		task.Timezone, boolToInt(task.Enabled), task.Priority, task.MaxRetries, task.Timeout.Milliseconds(),
		nullableJSON(task.Parameters), nullableJSON(task.Conditions), nullableTime(task.LastRunAt),
		nullableTime(task.NextRunAt), task.UpdatedAt.Format(time.RFC3339Nano), task.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return affectedOr(res, core.ErrTaskNotFound)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return affectedOr(res, core.ErrTaskNotFound)
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.ScheduledTask, error) {
	row := s.DB.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, filter core.TaskFilter) ([]*core.ScheduledTask, error) {
	query := taskSelect
	var args []any
	var where []string
	if filter.EnabledOnly {
		where = append(where, "enabled = 1")
	}
	if filter.OwnerID != nil {
		where = append(where, "owner_id = ?")
		args = append(args, *filter.OwnerID)
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at DESC"
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks SET enabled = ?, updated_at = ? WHERE id = ?
	`, boolToInt(enabled), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("set task enabled: %w", err)
	}
	return affectedOr(res, core.ErrTaskNotFound)
}

func (s *Store) UpdateTaskNextRun(ctx context.Context, id string, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks SET next_run_at = ?, updated_at = ? WHERE id = ?
	`, nullableTime(nextRunAt), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update next_run_at: %w", err)
	}
	return nil
}

func (s *Store) UpdateTaskLastRun(ctx context.Context, id string, lastRunAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks SET last_run_at = ?, updated_at = ? WHERE id = ?
	`, lastRunAt.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update last_run_at: %w", err)
	}
	return nil
}

// IncrementTaskSuccess bumps run_count and success_count in one statement so
// concurrent finalizations never lose a count.
func (s *Store) IncrementTaskSuccess(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET run_count = run_count + 1, success_count = success_count + 1, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("increment task success: %w", err)
	}
	return affectedOr(res, core.ErrTaskNotFound)
}

func (s *Store) IncrementTaskFailure(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET run_count = run_count + 1, failure_count = failure_count + 1, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("increment task failure: %w", err)
	}
	return affectedOr(res, core.ErrTaskNotFound)
}

const taskSelect = `
	SELECT id, owner_id, agent_id, task_type, name, description,
		frequency, cron_expression, timezone, enabled, priority,
		max_retries, timeout_ms, parameters, conditions,
		last_run_at, next_run_at, run_count, success_count, failure_count,
		created_at, updated_at
	FROM scheduled_tasks`

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.ScheduledTask, error) {
	var (
		id, ownerID, agentID, taskType, name string
		description                          sql.NullString
		frequency                            string
		cronExpr                             sql.NullString
		timezone                             string
		enabled                              int
		priority                             string
		maxRetries                           int
		timeoutMs                            int64
		parameters, conditions               sql.NullString
		lastRun, nextRun                     sql.NullString
		runCount, successCount, failureCount int
		createdAt, updatedAt                 string
	)
	if err := scanner.Scan(&id, &ownerID, &agentID, &taskType, &name, &description,
		&frequency, &cronExpr, &timezone, &enabled, &priority,
		&maxRetries, &timeoutMs, &parameters, &conditions,
		&lastRun, &nextRun, &runCount, &successCount, &failureCount,
		&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task := &core.ScheduledTask{
		ID:           id,
		OwnerID:      ownerID,
		AgentID:      agentID,
		Type:         core.TaskType(taskType),
		Name:         name,
		Frequency:    core.Frequency(frequency),
		Timezone:     timezone,
		Enabled:      enabled != 0,
		Priority:     core.Priority(priority),
		MaxRetries:   maxRetries,
		Timeout:      time.Duration(timeoutMs) * time.Millisecond,
		RunCount:     runCount,
		SuccessCount: successCount,
		FailureCount: failureCount,
		CreatedAt:    mustParseTime(createdAt),
		UpdatedAt:    mustParseTime(updatedAt),
	}
	if description.Valid {
		task.Description = &description.String
	}
	if cronExpr.Valid {
		task.CronExpr = &cronExpr.String
	}
	if parameters.Valid {
		task.Parameters = json.RawMessage(parameters.String)
	}
	if conditions.Valid {
		task.Conditions = json.RawMessage(conditions.String)
	}
	if lastRun.Valid {
		t := mustParseTime(lastRun.String)
		task.LastRunAt = &t
	}
	if nextRun.Valid {
		t := mustParseTime(nextRun.String)
		task.NextRunAt = &t
	}
	return task, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func affectedOr(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
