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

type approvalResponse struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	AgentID           string          `json:"agent_id"`
	IntegrationID     *string         `json:"integration_id,omitempty"`
	ActionType        string          `json:"action_type"`
	ActionDescription string          `json:"action_description"`
	ActionData        json.RawMessage `json:"action_data,omitempty"`
	RiskLevel         string          `json:"risk_level"`
	Status            string          `json:"status"`
	RequestedAt       string          `json:"requested_at"`
	ExpiresAt         string          `json:"expires_at"`
	RespondedAt       *string         `json:"responded_at,omitempty"`
	Reason            *string         `json:"reason,omitempty"`
	Result            json.RawMessage `json:"result,omitempty"`
	EstimatedImpact   *string         `json:"estimated_impact,omitempty"`
	Context           json.RawMessage `json:"context,omitempty"`
}

type respondApprovalRequest struct {
	Approved       bool            `json:"approved"`
	Reason         *string         `json:"reason,omitempty"`
	ModifiedParams json.RawMessage `json:"modified_params,omitempty"`
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "owner_id is required")
		return
	}
	var statusFilter *core.ApprovalStatus
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		st := core.ApprovalStatus(status)
		switch st {
		case core.ApprovalStatusPending, core.ApprovalStatusApproved, core.ApprovalStatusRejected, core.ApprovalStatusExpired:
			statusFilter = &st
		default:
			writeError(w, http.StatusBadRequest, "invalid_input", "status must be pending, approved, rejected or expired")
			return
		}
	}
	reqs, err := s.gate.List(r.Context(), ownerID, statusFilter)
	if err != nil {
		s.logger.Error("list approvals", "owner_id", ownerID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list approvals")
		return
	}
	resp := make([]approvalResponse, 0, len(reqs))
	for _, req := range reqs {
		resp = append(resp, approvalToResponse(req))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")
	req, err := s.gate.Get(r.Context(), approvalID)
	if err != nil {
		s.writeApprovalError(w, approvalID, err, "get approval")
		return
	}
	writeJSON(w, http.StatusOK, approvalToResponse(req))
}

func (s *Server) handleRespondApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")
	var body respondApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req, err := s.gate.Respond(r.Context(), approvalID, body.Approved, body.Reason, body.ModifiedParams)
	if err != nil {
		s.writeApprovalError(w, approvalID, err, "respond to approval")
		return
	}
	writeJSON(w, http.StatusOK, approvalToResponse(req))
}

func (s *Server) handleCancelApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")
	req, err := s.gate.Cancel(r.Context(), approvalID)
	if err != nil {
		s.writeApprovalError(w, approvalID, err, "cancel approval")
		return
	}
	writeJSON(w, http.StatusOK, approvalToResponse(req))
}

func (s *Server) writeApprovalError(w http.ResponseWriter, approvalID string, err error, op string) {
	switch {
	case errors.Is(err, core.ErrApprovalNotFound):
		writeError(w, http.StatusNotFound, "not_found", "approval request not found")
	case errors.Is(err, core.ErrApprovalExpired):
		writeError(w, http.StatusGone, "expired", "approval request expired")
	case errors.Is(err, core.ErrApprovalResolved):
		writeError(w, http.StatusConflict, "invalid_state", "approval request already resolved")
	default:
		s.logger.Error(op, "approval_id", approvalID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process approval")
	}
}

func approvalToResponse(req *core.ApprovalRequest) approvalResponse {
	var responded *string
	if req.RespondedAt != nil {
		formatted := req.RespondedAt.UTC().Format(time.RFC3339)
		responded = &formatted
	}
	return approvalResponse{
		ID:                req.ID,
		OwnerID:           req.OwnerID,
		AgentID:           req.AgentID,
		IntegrationID:     req.IntegrationID,
		ActionType:        req.ActionType,
		ActionDescription: req.ActionDescription,
		ActionData:        req.ActionData,
		RiskLevel:         string(req.RiskLevel),
		Status:            string(req.Status),
		RequestedAt:       req.RequestedAt.UTC().Format(time.RFC3339),
		ExpiresAt:         req.ExpiresAt.UTC().Format(time.RFC3339),
		RespondedAt:       responded,
		Reason:            req.Reason,
		Result:            req.Result,
		EstimatedImpact:   req.EstimatedImpact,
		Context:           req.Context,
	}
}
