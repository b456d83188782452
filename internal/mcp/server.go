package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentcron/internal/core"
	"agentcron/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the automation control surface to agent clients over the
// Model Context Protocol, both on stdio and mounted on the HTTP server.
type MCPServer struct {
	store     *store.Store
	scheduler *core.Scheduler
	gate      *core.ApprovalGate
	logger    *slog.Logger
	location  *time.Location

	mcpServer   *server.MCPServer
	httpHandler http.Handler
}

// NewMCPServer creates a new MCP server instance and registers all tools.
func NewMCPServer(store *store.Store, scheduler *core.Scheduler, gate *core.ApprovalGate, logger *slog.Logger, location *time.Location) *MCPServer {
	s := &MCPServer{
		store:     store,
		scheduler: scheduler,
		gate:      gate,
		logger:    logger,
		location:  location,
	}
	s.mcpServer = server.NewMCPServer(
		"agentcron",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.mcpServer)
	s.httpHandler = server.NewStreamableHTTPServer(s.mcpServer)
	return s
}

// Run serves the MCP protocol on stdio until the client disconnects.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP serves the MCP protocol on the /mcp mount of the HTTP server.
func (s *MCPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpHandler.ServeHTTP(w, r)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("automation_create_task",
		mcp.WithDescription("Create a recurring automation task for an agent. Frequencies: hourly, daily, weekly, monthly, custom (custom requires a 5-field cron expression)."),
		mcp.WithString("owner_id",
			mcp.Required(),
			mcp.Description("Owner (tenant) the task belongs to"),
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent that performs the work"),
		),
		mcp.WithString("task_type",
			mcp.Required(),
			mcp.Description("Task type"),
			mcp.Enum("inventory_check", "price_optimization", "order_fulfillment", "marketing_automation", "data_sync", "custom"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Human-readable task name"),
		),
		mcp.WithString("frequency",
			mcp.Required(),
			mcp.Description("Recurrence frequency"),
			mcp.Enum("hourly", "daily", "weekly", "monthly", "custom"),
		),
		mcp.WithString("cron_expression",
			mcp.Description("5-field cron expression, required when frequency is custom"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone for schedule evaluation, defaults to the daemon timezone"),
		),
		mcp.WithString("parameters",
			mcp.Description("Task parameters as a JSON object, validated per task type"),
		),
		mcp.WithNumber("max_retries",
			mcp.Description("Retries within one execution, default 0"),
			mcp.Min(0),
		),
		mcp.WithNumber("timeout_minutes",
			mcp.Description("Execution timeout in minutes, default 5"),
			mcp.Min(0),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("automation_list_tasks",
		mcp.WithDescription("List automation tasks"),
		mcp.WithString("owner_id",
			mcp.Description("Filter by owner"),
		),
		mcp.WithBoolean("enabled_only",
			mcp.Description("Only list enabled tasks"),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("automation_get_task",
		mcp.WithDescription("Get task details including schedule state and recent executions"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("automation_update_task",
		mcp.WithDescription("Update a task's definition; only provided fields change. The schedule is recomputed."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("name",
			mcp.Description("New task name"),
		),
		mcp.WithString("frequency",
			mcp.Description("New recurrence frequency"),
			mcp.Enum("hourly", "daily", "weekly", "monthly", "custom"),
		),
		mcp.WithString("cron_expression",
			mcp.Description("New cron expression for a custom frequency"),
		),
		mcp.WithString("timezone",
			mcp.Description("New IANA timezone"),
		),
		mcp.WithString("parameters",
			mcp.Description("Replacement task parameters as a JSON object"),
		),
		mcp.WithNumber("max_retries",
			mcp.Description("New retry budget"),
			mcp.Min(0),
		),
		mcp.WithNumber("timeout_minutes",
			mcp.Description("New execution timeout in minutes"),
			mcp.Min(0),
		),
	), s.handleUpdateTask)

	mcpServer.AddTool(mcp.NewTool("automation_delete_task",
		mcp.WithDescription("Delete a task and stop scheduling it. Execution history is kept until retention removes it."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("automation_pause_task",
		mcp.WithDescription("Pause a task. A running execution finishes on its own; only future runs are prevented."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handlePauseTask)

	mcpServer.AddTool(mcp.NewTool("automation_resume_task",
		mcp.WithDescription("Resume a paused task and arm its next run"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleResumeTask)

	mcpServer.AddTool(mcp.NewTool("automation_run_task",
		mcp.WithDescription("Start an immediate execution outside the schedule"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("automation_list_executions",
		mcp.WithDescription("List recent executions of a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of executions to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListExecutions)

	mcpServer.AddTool(mcp.NewTool("automation_get_execution",
		mcp.WithDescription("Get one execution with its full log"),
		mcp.WithString("execution_id",
			mcp.Required(),
			mcp.Description("Execution ID"),
		),
	), s.handleGetExecution)

	mcpServer.AddTool(mcp.NewTool("automation_list_approvals",
		mcp.WithDescription("List approval requests for an owner"),
		mcp.WithString("owner_id",
			mcp.Required(),
			mcp.Description("Owner ID"),
		),
		mcp.WithString("status",
			mcp.Description("Filter by status"),
			mcp.Enum("pending", "approved", "rejected", "expired"),
		),
	), s.handleListApprovals)

	mcpServer.AddTool(mcp.NewTool("automation_respond_approval",
		mcp.WithDescription("Approve or reject a pending high-risk action. Approving executes the action immediately."),
		mcp.WithString("approval_id",
			mcp.Required(),
			mcp.Description("Approval request ID"),
		),
		mcp.WithBoolean("approved",
			mcp.Required(),
			mcp.Description("true to approve, false to reject"),
		),
		mcp.WithString("reason",
			mcp.Description("Reason for the decision"),
		),
		mcp.WithString("modified_params",
			mcp.Description("JSON object overriding the action parameters on approval"),
		),
	), s.handleRespondApproval)

	mcpServer.AddTool(mcp.NewTool("automation_cancel_approval",
		mcp.WithDescription("Withdraw a pending approval request; nothing is executed"),
		mcp.WithString("approval_id",
			mcp.Required(),
			mcp.Description("Approval request ID"),
		),
	), s.handleCancelApproval)

	mcpServer.AddTool(mcp.NewTool("automation_preview_schedule",
		mcp.WithDescription("Preview the next fire times for a frequency"),
		mcp.WithString("frequency",
			mcp.Required(),
			mcp.Description("Recurrence frequency"),
			mcp.Enum("hourly", "daily", "weekly", "monthly", "custom"),
		),
		mcp.WithString("cron_expression",
			mcp.Description("5-field cron expression, required when frequency is custom"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times to return, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handlePreviewSchedule)

	s.logger.Info("MCP tools registered", "count", 14)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var cronPtr *string
	if expr := strings.TrimSpace(mcp.ParseString(request, "cron_expression", "")); expr != "" {
		cronPtr = &expr
	}
	timezone := mcp.ParseString(request, "timezone", "")
	if timezone == "" {
		timezone = s.location.String()
	}
	params := json.RawMessage(nil)
	if raw := strings.TrimSpace(mcp.ParseString(request, "parameters", "")); raw != "" {
		params = json.RawMessage(raw)
	}

	task := &core.ScheduledTask{
		ID:         core.NewID(),
		OwnerID:    mcp.ParseString(request, "owner_id", ""),
		AgentID:    mcp.ParseString(request, "agent_id", ""),
		Type:       core.TaskType(mcp.ParseString(request, "task_type", "")),
		Name:       mcp.ParseString(request, "name", ""),
		Frequency:  core.Frequency(mcp.ParseString(request, "frequency", "")),
		CronExpr:   cronPtr,
		Timezone:   timezone,
		Enabled:    true,
		MaxRetries: int(mcp.ParseFloat64(request, "max_retries", 0)),
		Timeout:    time.Duration(mcp.ParseFloat64(request, "timeout_minutes", 0)) * time.Minute,
		Parameters: params,
	}
	if err := task.Validate(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid task: %v", err)), nil
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		s.logger.Error("insert task", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}
	if err := s.scheduler.ScheduleTask(ctx, task); err != nil {
		s.logger.Error("schedule task", "task_id", task.ID, "err", err)
	}
	s.logger.Info("task created", "task_id", task.ID, "task_type", task.Type, "frequency", task.Frequency)

	fresh, err := s.store.GetTask(ctx, task.ID)
	if err == nil {
		task = fresh
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task created\nID: %s\nType: %s\nNext run: %s",
		task.ID, task.Type, formatTime(task.NextRunAt))), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := core.TaskFilter{
		EnabledOnly: mcp.ParseBoolean(request, "enabled_only", false),
	}
	if owner := strings.TrimSpace(mcp.ParseString(request, "owner_id", "")); owner != "" {
		filter.OwnerID = &owner
	}
	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	result := fmt.Sprintf("Found %d task(s):\n\n", len(tasks))
	for _, t := range tasks {
		state := "enabled"
		if !t.Enabled {
			state = "paused"
		}
		result += fmt.Sprintf("%s [%s]\n", t.ID, state)
		result += fmt.Sprintf("  Name: %s\n", t.Name)
		result += fmt.Sprintf("  Type: %s, frequency: %s, priority: %s\n", t.Type, t.Frequency, t.Priority)
		result += fmt.Sprintf("  Runs: %d (%d ok, %d failed)\n", t.RunCount, t.SuccessCount, t.FailureCount)
		if t.NextRunAt != nil {
			result += fmt.Sprintf("  Next run: %s\n", formatTime(t.NextRunAt))
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}

	result := fmt.Sprintf("Task ID: %s\n", task.ID)
	result += fmt.Sprintf("Name: %s\n", task.Name)
	result += fmt.Sprintf("Owner: %s, agent: %s\n", task.OwnerID, task.AgentID)
	result += fmt.Sprintf("Type: %s (risk: %s)\n", task.Type, core.RiskForTaskType(task.Type))
	result += fmt.Sprintf("Frequency: %s\n", task.Frequency)
	if task.CronExpr != nil {
		result += fmt.Sprintf("Cron: %s\n", *task.CronExpr)
	}
	result += fmt.Sprintf("Enabled: %t, armed: %t, running: %t\n", task.Enabled, s.scheduler.IsArmed(task.ID), s.scheduler.IsRunning(task.ID))
	result += fmt.Sprintf("Timeout: %s, max retries: %d\n", task.Timeout, task.MaxRetries)
	result += fmt.Sprintf("Runs: %d (%d ok, %d failed)\n", task.RunCount, task.SuccessCount, task.FailureCount)
	if task.LastRunAt != nil {
		result += fmt.Sprintf("Last run: %s\n", formatTime(task.LastRunAt))
	}
	if task.NextRunAt != nil {
		result += fmt.Sprintf("Next run: %s\n", formatTime(task.NextRunAt))
	}
	result += fmt.Sprintf("Created: %s\n", formatTime(&task.CreatedAt))
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}

	if name := strings.TrimSpace(mcp.ParseString(request, "name", "")); name != "" {
		task.Name = name
	}
	if freq := mcp.ParseString(request, "frequency", ""); freq != "" {
		task.Frequency = core.Frequency(freq)
	}
	if expr := strings.TrimSpace(mcp.ParseString(request, "cron_expression", "")); expr != "" {
		task.CronExpr = &expr
	}
	if tz := strings.TrimSpace(mcp.ParseString(request, "timezone", "")); tz != "" {
		task.Timezone = tz
	}
	if raw := strings.TrimSpace(mcp.ParseString(request, "parameters", "")); raw != "" {
		task.Parameters = json.RawMessage(raw)
	}
	if retries := mcp.ParseFloat64(request, "max_retries", -1); retries >= 0 {
		task.MaxRetries = int(retries)
	}
	if minutes := mcp.ParseFloat64(request, "timeout_minutes", 0); minutes > 0 {
		task.Timeout = time.Duration(minutes) * time.Minute
	}

	if err := task.Validate(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid task: %v", err)), nil
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update task: %v", err)), nil
	}
	if err := s.scheduler.ScheduleTask(ctx, task); err != nil {
		s.logger.Error("reschedule task", "task_id", task.ID, "err", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s updated", taskID)), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete task: %v", err)), nil
	}
	s.scheduler.RemoveTask(taskID)
	return mcp.NewToolResultText(fmt.Sprintf("Task %s deleted", taskID)), nil
}

func (s *MCPServer) handlePauseTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.scheduler.PauseTask(ctx, taskID); err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to pause task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s paused. A running execution, if any, will finish on its own.", taskID)), nil
}

func (s *MCPServer) handleResumeTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.scheduler.ResumeTask(ctx, taskID); err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to resume task: %v", err)), nil
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("Task %s resumed", taskID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s resumed, next run: %s", taskID, formatTime(task.NextRunAt))), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}
	if err := s.scheduler.RunTaskNow(ctx, task); err != nil {
		if errors.Is(err, core.ErrTaskRunning) {
			return mcp.NewToolResultError("task is already running"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to start task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Execution started for task %s", taskID)), nil
}

func (s *MCPServer) handleListExecutions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))
	execs, err := s.store.ListExecutions(ctx, taskID, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list executions: %v", err)), nil
	}
	if len(execs) == 0 {
		return mcp.NewToolResultText("No executions found"), nil
	}

	result := fmt.Sprintf("Found %d execution(s):\n\n", len(execs))
	for _, e := range execs {
		result += fmt.Sprintf("%s [%s]\n", e.ID, e.Status)
		if e.StartedAt != nil {
			result += fmt.Sprintf("  Started: %s, duration: %s\n", formatTime(e.StartedAt), e.Duration())
		}
		if e.Error != nil {
			result += fmt.Sprintf("  Error: %s\n", *e.Error)
		}
		result += fmt.Sprintf("  Resources: %d call(s), est. cost %.4f\n", e.Resources.Calls, e.Resources.EstimatedCost)
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleGetExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID := mcp.ParseString(request, "execution_id", "")
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, core.ErrExecutionNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("execution not found: %s", executionID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load execution: %v", err)), nil
	}

	result := fmt.Sprintf("Execution %s [%s]\n", exec.ID, exec.Status)
	result += fmt.Sprintf("Task: %s\n", exec.TaskID)
	if exec.StartedAt != nil {
		result += fmt.Sprintf("Started: %s, duration: %s\n", formatTime(exec.StartedAt), exec.Duration())
	}
	if exec.Error != nil {
		result += fmt.Sprintf("Error: %s\n", *exec.Error)
	}
	if len(exec.Result) > 0 {
		result += fmt.Sprintf("Result: %s\n", string(exec.Result))
	}
	result += fmt.Sprintf("Resources: %d call(s), est. cost %.4f\n", exec.Resources.Calls, exec.Resources.EstimatedCost)
	if len(exec.Logs) > 0 {
		result += "Log:\n"
		for _, line := range exec.Logs {
			result += "  " + line + "\n"
		}
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleListApprovals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID := mcp.ParseString(request, "owner_id", "")
	var statusFilter *core.ApprovalStatus
	if raw := mcp.ParseString(request, "status", ""); raw != "" {
		status := core.ApprovalStatus(raw)
		statusFilter = &status
	}
	reqs, err := s.gate.List(ctx, ownerID, statusFilter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list approvals: %v", err)), nil
	}
	if len(reqs) == 0 {
		return mcp.NewToolResultText("No approval requests found"), nil
	}

	result := fmt.Sprintf("Found %d approval request(s):\n\n", len(reqs))
	for _, req := range reqs {
		result += fmt.Sprintf("%s [%s]\n", req.ID, req.Status)
		result += fmt.Sprintf("  Action: %s (%s risk)\n", req.ActionDescription, req.RiskLevel)
		result += fmt.Sprintf("  Expires: %s\n", formatTime(&req.ExpiresAt))
		if req.Reason != nil {
			result += fmt.Sprintf("  Reason: %s\n", *req.Reason)
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleRespondApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approvalID := mcp.ParseString(request, "approval_id", "")
	approved := mcp.ParseBoolean(request, "approved", false)
	var reasonPtr *string
	if reason := strings.TrimSpace(mcp.ParseString(request, "reason", "")); reason != "" {
		reasonPtr = &reason
	}
	var modified json.RawMessage
	if raw := strings.TrimSpace(mcp.ParseString(request, "modified_params", "")); raw != "" {
		modified = json.RawMessage(raw)
	}

	req, err := s.gate.Respond(ctx, approvalID, approved, reasonPtr, modified)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrApprovalNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("approval request not found: %s", approvalID)), nil
		case errors.Is(err, core.ErrApprovalExpired):
			return mcp.NewToolResultError("approval request expired; the action was not executed"), nil
		case errors.Is(err, core.ErrApprovalResolved):
			return mcp.NewToolResultError("approval request already resolved"), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("failed to respond: %v", err)), nil
		}
	}
	if req.Status == core.ApprovalStatusApproved {
		return mcp.NewToolResultText(fmt.Sprintf("Approved and executed.\nResult: %s", string(req.Result))), nil
	}
	return mcp.NewToolResultText("Rejected; nothing was executed."), nil
}

func (s *MCPServer) handleCancelApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approvalID := mcp.ParseString(request, "approval_id", "")
	_, err := s.gate.Cancel(ctx, approvalID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrApprovalNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("approval request not found: %s", approvalID)), nil
		case errors.Is(err, core.ErrApprovalExpired):
			return mcp.NewToolResultError("approval request already expired"), nil
		case errors.Is(err, core.ErrApprovalResolved):
			return mcp.NewToolResultError("approval request already resolved"), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("failed to cancel: %v", err)), nil
		}
	}
	return mcp.NewToolResultText("Approval request cancelled; nothing was executed."), nil
}

func (s *MCPServer) handlePreviewSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var cronPtr *string
	if expr := strings.TrimSpace(mcp.ParseString(request, "cron_expression", "")); expr != "" {
		if _, err := core.ParseCron(expr); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", err)), nil
		}
		cronPtr = &expr
	}
	probe := &core.ScheduledTask{
		Frequency: core.Frequency(mcp.ParseString(request, "frequency", "")),
		CronExpr:  cronPtr,
		Timezone:  s.location.String(),
	}
	if probe.Frequency == core.FrequencyCustom && cronPtr == nil {
		return mcp.NewToolResultError("custom frequency requires a cron expression"), nil
	}

	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 10 {
		count = 5
	}
	times := core.NextOccurrences(probe, time.Now().In(s.location), count)
	result := "Next fire times:\n"
	for _, t := range times {
		result += fmt.Sprintf("  %s\n", t.UTC().Format(time.RFC3339))
	}
	return mcp.NewToolResultText(result), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
