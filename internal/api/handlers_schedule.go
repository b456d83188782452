package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"agentcron/internal/core"
)

type schedulePreviewRequest struct {
	Frequency string  `json:"frequency"`
	CronExpr  *string `json:"cron_expression,omitempty"`
	Timezone  string  `json:"timezone,omitempty"`
	Now       string  `json:"now,omitempty"`
	Count     int     `json:"count,omitempty"`
}

type schedulePreviewResponse struct {
	Valid     bool     `json:"valid"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// handleSchedulePreview computes the next fire times for a frequency without
// creating a task, so owners can sanity-check a schedule up front.
func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}

	probe := &core.ScheduledTask{
		Frequency: core.Frequency(strings.TrimSpace(req.Frequency)),
		CronExpr:  req.CronExpr,
		Timezone:  req.Timezone,
	}
	switch probe.Frequency {
	case core.FrequencyHourly, core.FrequencyDaily, core.FrequencyWeekly, core.FrequencyMonthly:
	case core.FrequencyCustom:
		if probe.CronExpr == nil || strings.TrimSpace(*probe.CronExpr) == "" {
			writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: "custom frequency requires a cron expression"})
			return
		}
		if _, err := core.ParseCron(*probe.CronExpr); err != nil {
			writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: err.Error()})
			return
		}
	default:
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: "unknown frequency"})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	base := time.Now().In(s.location)
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.In(s.location)
		}
	}

	times := core.NextOccurrences(probe, base, count)
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: true, NextTimes: formatted})
}
