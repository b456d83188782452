package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"agentcron/internal/core"

	"github.com/go-chi/chi/v5"
)

type executionResponse struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	OwnerID     string          `json:"owner_id"`
	AgentID     string          `json:"agent_id"`
	Status      string          `json:"status"`
	StartedAt   *string         `json:"started_at,omitempty"`
	CompletedAt *string         `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Logs        []string        `json:"logs,omitempty"`
	Resources   resourceUsage   `json:"resources_used"`
	CreatedAt   string          `json:"created_at"`
}

type resourceUsage struct {
	Calls            int     `json:"calls"`
	EstimatedCost    float64 `json:"estimated_cost"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.store.GetTask(r.Context(), taskID); err != nil {
		s.writeTaskError(w, taskID, err, "get task for executions list")
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	execs, err := s.store.ListExecutions(r.Context(), taskID, limit, offset)
	if err != nil {
		s.logger.Error("list executions", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list executions")
		return
	}

	resp := make([]executionResponse, 0, len(execs))
	for _, exec := range execs {
		resp = append(resp, executionToResponse(exec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	exec, err := s.store.GetExecution(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, core.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "execution not found")
		} else {
			s.logger.Error("get execution", "execution_id", executionID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load execution")
		}
		return
	}
	writeJSON(w, http.StatusOK, executionToResponse(exec))
}

func executionToResponse(exec *core.TaskExecution) executionResponse {
	var started, completed *string
	if exec.StartedAt != nil {
		formatted := exec.StartedAt.UTC().Format(time.RFC3339)
		started = &formatted
	}
	if exec.CompletedAt != nil {
		formatted := exec.CompletedAt.UTC().Format(time.RFC3339)
		completed = &formatted
	}
	return executionResponse{
		ID:          exec.ID,
		TaskID:      exec.TaskID,
		OwnerID:     exec.OwnerID,
		AgentID:     exec.AgentID,
		Status:      string(exec.Status),
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  exec.Duration().Milliseconds(),
		Result:      exec.Result,
		Error:       exec.Error,
		Logs:        exec.Logs,
		Resources: resourceUsage{
			Calls:            exec.Resources.Calls,
			EstimatedCost:    exec.Resources.EstimatedCost,
			ProcessingTimeMs: exec.Resources.ProcessingTime.Milliseconds(),
		},
		CreatedAt: exec.CreatedAt.UTC().Format(time.RFC3339),
	}
}
