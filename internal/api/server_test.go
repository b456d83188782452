package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentcron/internal/capability"
	"agentcron/internal/core"
	"agentcron/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	server *Server
	store  *store.Store
	gate   *core.ApprovalGate
	http   *httptest.Server
}

func newAPIFixture(t *testing.T, authToken string) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.DB.Close() })

	gate := core.NewApprovalGate(st, capability.DryRun{}, nil, logger, 24*time.Hour, time.Minute)
	runner := core.NewRunner(st, capability.DryRun{}, gate, logger)
	scheduler := core.NewScheduler(st, runner, capability.AllowAll{}, logger, time.UTC, 0, time.Hour)
	t.Cleanup(scheduler.Stop)

	srv, err := NewServer("127.0.0.1:0", authToken, st, scheduler, gate, nil, logger, time.UTC)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return &apiFixture{server: srv, store: st, gate: gate, http: ts}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createTaskPayload() map[string]any {
	return map[string]any{
		"owner_id":   "owner-1",
		"agent_id":   "agent-1",
		"task_type":  "inventory_check",
		"name":       "nightly inventory sweep",
		"frequency":  "daily",
		"timezone":   "UTC",
		"parameters": map[string]any{"low_stock_threshold": 5},
	}
}

func TestCreateTaskAndStatus(t *testing.T) {
	f := newAPIFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/tasks", createTaskPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created taskResponse
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Enabled)
	assert.Equal(t, "medium", created.Priority) // default applied

	resp = f.do(t, http.MethodGet, "/v1/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status taskStatusResponse
	decodeBody(t, resp, &status)
	assert.Equal(t, created.ID, status.Task.ID)
	assert.True(t, status.Armed)
	assert.False(t, status.Running)
	require.NotNil(t, status.Task.NextRunAt)
	assert.Empty(t, status.RecentExecutions)
}

func TestCreateTaskValidation(t *testing.T) {
	f := newAPIFixture(t, "")

	payload := createTaskPayload()
	payload["frequency"] = "custom" // no cron expression
	resp := f.do(t, http.MethodPost, "/v1/tasks", payload)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	payload = createTaskPayload()
	payload["task_type"] = "unknown_type"
	resp = f.do(t, http.MethodPost, "/v1/tasks", payload)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTasksFiltersByOwner(t *testing.T) {
	f := newAPIFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/tasks", createTaskPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	other := createTaskPayload()
	other["owner_id"] = "owner-2"
	resp = f.do(t, http.MethodPost, "/v1/tasks", other)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/v1/tasks?owner_id=owner-2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tasks []taskResponse
	decodeBody(t, resp, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, "owner-2", tasks[0].OwnerID)
}

func TestPauseAndResumeTask(t *testing.T) {
	f := newAPIFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/tasks", createTaskPayload())
	var created taskResponse
	decodeBody(t, resp, &created)

	resp = f.do(t, http.MethodPost, "/v1/tasks/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var paused taskResponse
	decodeBody(t, resp, &paused)
	assert.False(t, paused.Enabled)
	assert.Nil(t, paused.NextRunAt)

	resp = f.do(t, http.MethodPost, "/v1/tasks/"+created.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resumed taskResponse
	decodeBody(t, resp, &resumed)
	assert.True(t, resumed.Enabled)
	require.NotNil(t, resumed.NextRunAt)
}

func TestRunTaskNow(t *testing.T) {
	f := newAPIFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/tasks", createTaskPayload())
	var created taskResponse
	decodeBody(t, resp, &created)

	resp = f.do(t, http.MethodPost, "/v1/tasks/"+created.ID+"/run", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The dry-run execution finishes quickly and lands in history.
	require.Eventually(t, func() bool {
		execs, err := f.store.ListExecutions(context.Background(), created.ID, 10, 0)
		return err == nil && len(execs) == 1 && execs[0].Status == core.ExecutionStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTaskNotFound(t *testing.T) {
	f := newAPIFixture(t, "")

	for _, probe := range []struct{ method, path string }{
		{http.MethodGet, "/v1/tasks/missing"},
		{http.MethodPost, "/v1/tasks/missing/pause"},
		{http.MethodPost, "/v1/tasks/missing/run"},
		{http.MethodDelete, "/v1/tasks/missing"},
	} {
		resp := f.do(t, probe.method, probe.path, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", probe.method, probe.path)
	}
}

func TestDeleteTask(t *testing.T) {
	f := newAPIFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/tasks", createTaskPayload())
	var created taskResponse
	decodeBody(t, resp, &created)

	resp = f.do(t, http.MethodDelete, "/v1/tasks/"+created.ID, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/tasks/"+created.ID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApprovalRespondOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	req, err := f.gate.CreateRequest(context.Background(), core.CreateInput{
		OwnerID:           "owner-1",
		AgentID:           "agent-1",
		ActionType:        "pricing.optimize",
		ActionDescription: "Reprice seasonal catalog",
		ActionData:        json.RawMessage(`{"max_change_percent":10}`),
		RiskLevel:         core.RiskLevelHigh,
	})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/v1/approvals?owner_id=owner-1&status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []approvalResponse
	decodeBody(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, req.ID, list[0].ID)

	resp = f.do(t, http.MethodPost, "/v1/approvals/"+req.ID+"/respond", map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved approvalResponse
	decodeBody(t, resp, &resolved)
	assert.Equal(t, "approved", resolved.Status)
	assert.NotNil(t, resolved.RespondedAt)

	// A second response conflicts.
	resp = f.do(t, http.MethodPost, "/v1/approvals/"+req.ID+"/respond", map[string]any{"approved": false})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestApprovalListRequiresOwner(t *testing.T) {
	f := newAPIFixture(t, "")
	resp := f.do(t, http.MethodGet, "/v1/approvals", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApprovalNotFound(t *testing.T) {
	f := newAPIFixture(t, "")
	resp := f.do(t, http.MethodPost, "/v1/approvals/missing/respond", map[string]any{"approved": true})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSchedulePreview(t *testing.T) {
	f := newAPIFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/schedule/preview", map[string]any{
		"frequency": "daily",
		"now":       "2024-01-01T23:00:00Z",
		"count":     2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var preview schedulePreviewResponse
	decodeBody(t, resp, &preview)
	assert.True(t, preview.Valid)
	require.Len(t, preview.NextTimes, 2)
	assert.Equal(t, "2024-01-02T00:00:00Z", preview.NextTimes[0])
	assert.Equal(t, "2024-01-03T00:00:00Z", preview.NextTimes[1])

	resp = f.do(t, http.MethodPost, "/v1/schedule/preview", map[string]any{
		"frequency":       "custom",
		"cron_expression": "not cron",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &preview)
	assert.False(t, preview.Valid)
	assert.NotEmpty(t, preview.Message)
}

func TestAuthMiddlewareGuardsV1(t *testing.T) {
	f := newAPIFixture(t, "sekrit")

	resp := f.do(t, http.MethodGet, "/v1/tasks", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/v1/tasks", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sekrit")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)

	// Health stays open.
	resp = f.do(t, http.MethodGet, "/healthz", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
