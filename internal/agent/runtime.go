package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"maintline/internal/apperr"
	"maintline/internal/config"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type RuntimeToolCall struct {
	ToolName    string         `json:"toolName"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	ResultCount *int           `json:"resultCount,omitempty"`
	Status      string         `json:"status,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type RuntimeDraft struct {
	AgentSessionID string         `json:"agentSessionId,omitempty"`
	OperationType  string         `json:"operationType"`
	Payload        map[string]any `json:"payload,omitempty"`
	Summary        string         `json:"summary,omitempty"`
}

type RuntimeRequest struct {
	AgentID  string         `json:"agentId,omitempty"`
	Prompt   string         `json:"prompt"`
	Metadata map[string]any `json:"metadata"`
	User     UserContext    `json:"user"`
}

type RuntimeResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message,omitempty"`
	AgentID   string            `json:"agentId,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Messages  []ChatMessage     `json:"messages,omitempty"`
	ToolCalls []RuntimeToolCall `json:"toolCalls,omitempty"`
	Drafts    []RuntimeDraft    `json:"drafts,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// Runtime sends one prompt to the agent runtime.
type Runtime interface {
	SendPrompt(ctx context.Context, req RuntimeRequest, correlationID string) (RuntimeResponse, error)
}

// HTTPRuntime talks to the runtime's /v1/chat endpoint. It never retries.
type HTTPRuntime struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPRuntime(cfg config.AgentConfig) *HTTPRuntime {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = config.DefaultTimeoutMs * time.Millisecond
	}
	return &HTTPRuntime{
		BaseURL: cfg.RuntimeURL,
		Token:   cfg.RuntimeToken,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRuntime) endpoint() string {
	return strings.TrimSuffix(r.BaseURL, "/") + "/v1/chat"
}

func (r *HTTPRuntime) SendPrompt(ctx context.Context, req RuntimeRequest, correlationID string) (RuntimeResponse, error) {
	if strings.TrimSpace(r.BaseURL) == "" {
		return RuntimeResponse{}, apperr.Upstream(nil, "Agent runtime URL is not configured")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return RuntimeResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(), bytes.NewReader(data))
	if err != nil {
		return RuntimeResponse{}, apperr.Upstream(err, "Failed to communicate with agent runtime")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-Id", correlationID)
	if strings.TrimSpace(r.Token) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.Token)
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(httpReq)
	if err != nil {
		return RuntimeResponse{}, apperr.Upstream(err, "Failed to communicate with agent runtime")
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return RuntimeResponse{}, apperr.Upstream(err, "Failed to communicate with agent runtime")
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return RuntimeResponse{}, apperr.Upstream(fmt.Errorf("status %d", res.StatusCode), "Agent runtime responded with status %d", res.StatusCode)
	}
	if strings.TrimSpace(string(body)) == "" {
		return RuntimeResponse{}, apperr.Upstream(nil, "Agent runtime returned an empty body")
	}
	var out RuntimeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return RuntimeResponse{}, apperr.Upstream(err, "Failed to communicate with agent runtime")
	}
	if strings.TrimSpace(out.Status) == "" {
		out.Status = "success"
	}
	return out, nil
}
