package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"agentcron/internal/core"
)

// Client talks to the platform backend that actually performs domain actions
// and answers tier checks. It implements both core.CapabilityExecutor and
// core.PermissionOracle.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a capability client for the given base URL.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("capability base url is empty")
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

type executeResponse struct {
	Summary       string          `json:"summary"`
	Data          json.RawMessage `json:"data,omitempty"`
	Calls         int             `json:"calls"`
	EstimatedCost float64         `json:"estimated_cost"`
	Error         *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error,omitempty"`
}

// Execute POSTs the action to /v1/actions/execute and decodes the outcome.
// A backend-reported failure becomes a typed CapabilityError so the runner
// can decide whether to retry.
func (c *Client) Execute(ctx context.Context, req core.CapabilityRequest) (*core.ActionResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode capability request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/actions/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create capability request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call capability backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &core.CapabilityError{Code: "backend_unavailable", Message: fmt.Sprintf("backend returned status %d", resp.StatusCode), Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return nil, &core.CapabilityError{Code: "backend_rejected", Message: fmt.Sprintf("backend returned status %d", resp.StatusCode), Retryable: false}
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode capability response: %w", err)
	}
	if out.Error != nil {
		return nil, &core.CapabilityError{Code: out.Error.Code, Message: out.Error.Message, Retryable: out.Error.Retryable}
	}
	return &core.ActionResult{
		Summary:       out.Summary,
		Data:          out.Data,
		Calls:         out.Calls,
		EstimatedCost: out.EstimatedCost,
	}, nil
}

type permissionResponse struct {
	Allowed bool `json:"allowed"`
}

// AllowTaskType asks the backend whether the owner's tier permits automated
// execution of the task type.
func (c *Client) AllowTaskType(ctx context.Context, ownerID string, taskType core.TaskType) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/permissions/%s/%s", c.baseURL, url.PathEscape(ownerID), url.PathEscape(string(taskType)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("create permission request: %w", err)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("call permission oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("permission oracle returned status %d", resp.StatusCode)
	}
	var out permissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode permission response: %w", err)
	}
	return out.Allowed, nil
}
