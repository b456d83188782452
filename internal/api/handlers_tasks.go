package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"agentcron/internal/core"

	"github.com/go-chi/chi/v5"
)

type createTaskRequest struct {
	OwnerID     string          `json:"owner_id"`
	AgentID     string          `json:"agent_id"`
	Type        string          `json:"task_type"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Frequency   string          `json:"frequency"`
	CronExpr    *string         `json:"cron_expression"`
	Timezone    string          `json:"timezone"`
	Enabled     *bool           `json:"enabled"`
	Priority    string          `json:"priority"`
	MaxRetries  int             `json:"max_retries"`
	TimeoutMs   int64           `json:"timeout_ms"`
	Parameters  json.RawMessage `json:"parameters"`
	Conditions  json.RawMessage `json:"conditions"`
}

type updateTaskRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Frequency   *string         `json:"frequency"`
	CronExpr    *string         `json:"cron_expression"`
	Timezone    *string         `json:"timezone"`
	Priority    *string         `json:"priority"`
	MaxRetries  *int            `json:"max_retries"`
	TimeoutMs   *int64          `json:"timeout_ms"`
	Parameters  json.RawMessage `json:"parameters"`
	Conditions  json.RawMessage `json:"conditions"`
}

type taskResponse struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	AgentID      string          `json:"agent_id"`
	Type         string          `json:"task_type"`
	Name         string          `json:"name"`
	Description  *string         `json:"description,omitempty"`
	Frequency    string          `json:"frequency"`
	CronExpr     *string         `json:"cron_expression,omitempty"`
	Timezone     string          `json:"timezone"`
	Enabled      bool            `json:"enabled"`
	Priority     string          `json:"priority"`
	MaxRetries   int             `json:"max_retries"`
	TimeoutMs    int64           `json:"timeout_ms"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Conditions   json.RawMessage `json:"conditions,omitempty"`
	LastRunAt    *string         `json:"last_run_at,omitempty"`
	NextRunAt    *string         `json:"next_run_at,omitempty"`
	RunCount     int             `json:"run_count"`
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

type taskStatusResponse struct {
	Task             taskResponse        `json:"task"`
	Armed            bool                `json:"armed"`
	Running          bool                `json:"running"`
	RecentExecutions []executionResponse `json:"recent_executions"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	task := &core.ScheduledTask{
		ID:          core.NewID(),
		OwnerID:     strings.TrimSpace(req.OwnerID),
		AgentID:     strings.TrimSpace(req.AgentID),
		Type:        core.TaskType(req.Type),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Frequency:   core.Frequency(req.Frequency),
		CronExpr:    req.CronExpr,
		Timezone:    req.Timezone,
		Enabled:     enabled,
		Priority:    core.Priority(req.Priority),
		MaxRetries:  req.MaxRetries,
		Timeout:     time.Duration(req.TimeoutMs) * time.Millisecond,
		Parameters:  req.Parameters,
		Conditions:  req.Conditions,
	}
	if task.Timezone == "" {
		task.Timezone = s.location.String()
	}
	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	if err := s.store.InsertTask(r.Context(), task); err != nil {
		s.logger.Error("insert task", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert task")
		return
	}
	if task.Enabled {
		if err := s.scheduler.ScheduleTask(r.Context(), task); err != nil {
			s.logger.Error("schedule task", "task_id", task.ID, "err", err)
		}
	}

	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := core.TaskFilter{}
	if owner := strings.TrimSpace(r.URL.Query().Get("owner_id")); owner != "" {
		filter.OwnerID = &owner
	}
	if strings.EqualFold(r.URL.Query().Get("enabled"), "true") {
		filter.EnabledOnly = true
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, taskID, err, "get task")
		return
	}
	execs, err := s.store.ListExecutions(r.Context(), taskID, 10, 0)
	if err != nil {
		s.logger.Error("list recent executions", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load executions")
		return
	}
	recent := make([]executionResponse, 0, len(execs))
	for _, e := range execs {
		recent = append(recent, executionToResponse(e))
	}
	writeJSON(w, http.StatusOK, taskStatusResponse{
		Task:             taskToResponse(task),
		Armed:            s.scheduler.IsArmed(taskID),
		Running:          s.scheduler.IsRunning(taskID),
		RecentExecutions: recent,
	})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, taskID, err, "get task for update")
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if req.Name != nil {
		task.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		task.Description = req.Description
	}
	if req.Frequency != nil {
		task.Frequency = core.Frequency(*req.Frequency)
	}
	if req.CronExpr != nil {
		if strings.TrimSpace(*req.CronExpr) == "" {
			task.CronExpr = nil
		} else {
			task.CronExpr = req.CronExpr
		}
	}
	if req.Timezone != nil {
		task.Timezone = *req.Timezone
	}
	if req.Priority != nil {
		task.Priority = core.Priority(*req.Priority)
	}
	if req.MaxRetries != nil {
		task.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutMs != nil {
		task.Timeout = time.Duration(*req.TimeoutMs) * time.Millisecond
	}
	if len(req.Parameters) > 0 {
		task.Parameters = req.Parameters
	}
	if len(req.Conditions) > 0 {
		task.Conditions = req.Conditions
	}

	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		s.writeTaskError(w, taskID, err, "update task")
		return
	}
	if err := s.scheduler.ScheduleTask(r.Context(), task); err != nil {
		s.logger.Error("reschedule task", "task_id", task.ID, "err", err)
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
		s.writeTaskError(w, taskID, err, "delete task")
		return
	}
	s.scheduler.RemoveTask(taskID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.scheduler.PauseTask(r.Context(), taskID); err != nil {
		s.writeTaskError(w, taskID, err, "pause task")
		return
	}
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, taskID, err, "reload paused task")
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.scheduler.ResumeTask(r.Context(), taskID); err != nil {
		s.writeTaskError(w, taskID, err, "resume task")
		return
	}
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, taskID, err, "reload resumed task")
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, taskID, err, "get task for run")
		return
	}
	if err := s.scheduler.RunTaskNow(r.Context(), task); err != nil {
		if errors.Is(err, core.ErrTaskRunning) {
			writeError(w, http.StatusConflict, "conflict", "task is already running")
			return
		}
		s.logger.Error("run task now", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start task")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) writeTaskError(w http.ResponseWriter, taskID string, err error, op string) {
	if errors.Is(err, core.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	s.logger.Error(op, "task_id", taskID, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
}

func taskToResponse(task *core.ScheduledTask) taskResponse {
	var last, next *string
	if task.LastRunAt != nil {
		formatted := task.LastRunAt.UTC().Format(time.RFC3339)
		last = &formatted
	}
	if task.NextRunAt != nil {
		formatted := task.NextRunAt.UTC().Format(time.RFC3339)
		next = &formatted
	}
	return taskResponse{
		ID:           task.ID,
		OwnerID:      task.OwnerID,
		AgentID:      task.AgentID,
		Type:         string(task.Type),
		Name:         task.Name,
		Description:  task.Description,
		Frequency:    string(task.Frequency),
		CronExpr:     task.CronExpr,
		Timezone:     task.Timezone,
		Enabled:      task.Enabled,
		Priority:     string(task.Priority),
		MaxRetries:   task.MaxRetries,
		TimeoutMs:    task.Timeout.Milliseconds(),
		Parameters:   task.Parameters,
		Conditions:   task.Conditions,
		LastRunAt:    last,
		NextRunAt:    next,
		RunCount:     task.RunCount,
		SuccessCount: task.SuccessCount,
		FailureCount: task.FailureCount,
		CreatedAt:    task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    task.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
