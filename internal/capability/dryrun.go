package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"agentcron/internal/core"
)

// DryRun is the executor used when no capability backend is configured. It
// performs no side effects and reports what would have been done, so the
// daemon stays usable for schedule and approval testing.
type DryRun struct{}

func (DryRun) Execute(ctx context.Context, req core.CapabilityRequest) (*core.ActionResult, error) {
	data, _ := json.Marshal(map[string]any{
		"dry_run":     true,
		"action_type": req.ActionType,
	})
	return &core.ActionResult{
		Summary: fmt.Sprintf("dry run: %s would be executed for agent %s", req.ActionType, req.AgentID),
		Data:    data,
		Calls:   0,
	}, nil
}

// AllowAll is the oracle used when no backend is configured; every owner may
// run every task type.
type AllowAll struct{}

func (AllowAll) AllowTaskType(ctx context.Context, ownerID string, taskType core.TaskType) (bool, error) {
	return true, nil
}
