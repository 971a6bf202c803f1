package maintlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal maintline HTTP API client.
type Client struct {
	BaseURL       string
	APIKey        string
	BearerToken   string
	CorrelationID string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkOrderSummary is one search hit.
type WorkOrderSummary struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code,omitempty"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	Priority  string     `json:"priority"`
	Asset     string     `json:"asset,omitempty"`
	Location  string     `json:"location,omitempty"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type AssetSummary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
	CustomID string `json:"customId,omitempty"`
	Category string `json:"category,omitempty"`
}

// SearchResult wraps tool search responses.
type SearchResult[T any] struct {
	Results []T `json:"results"`
	Total   int `json:"total"`
}

type SearchWorkOrdersRequest struct {
	Statuses         []string `json:"statuses,omitempty"`
	Search           string   `json:"search,omitempty"`
	Limit            int      `json:"limit,omitempty"`
	DueBefore        string   `json:"dueBefore,omitempty"`
	DueAfter         string   `json:"dueAfter,omitempty"`
	AssignedToUserID *int64   `json:"assignedToUserId,omitempty"`
	PrimaryUserID    *int64   `json:"primaryUserId,omitempty"`
	AssetID          *int64   `json:"assetId,omitempty"`
	LocationID       *int64   `json:"locationId,omitempty"`
	Priorities       []string `json:"priorities,omitempty"`
	SortBy           string   `json:"sortBy,omitempty"`
	SortDirection    string   `json:"sortDirection,omitempty"`
}

type SearchAssetsRequest struct {
	Statuses []string `json:"statuses,omitempty"`
	Search   string   `json:"search,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

type CreateWorkOrderRequest struct {
	Code                   string   `json:"code,omitempty"`
	Title                  string   `json:"title"`
	Description            string   `json:"description,omitempty"`
	Priority               string   `json:"priority,omitempty"`
	DueDate                string   `json:"dueDate,omitempty"`
	EstimatedDurationHours *float64 `json:"estimatedDurationHours,omitempty"`
	RequireSignature       *bool    `json:"requireSignature,omitempty"`
	LocationID             *int64   `json:"locationId,omitempty"`
	AssetID                *int64   `json:"assetId,omitempty"`
	PrimaryUserID          *int64   `json:"primaryUserId,omitempty"`
	AssignedUserIDs        []int64  `json:"assignedUserIds,omitempty"`
}

type WorkOrder struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code,omitempty"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateWorkOrderResult struct {
	Success   bool      `json:"success"`
	WorkOrder WorkOrder `json:"workOrder"`
	Message   string    `json:"message"`
}

type CompletionData struct {
	SignatureFileID *int64  `json:"signatureFileId,omitempty"`
	Feedback        *string `json:"feedback,omitempty"`
}

type StatusUpdateRequest struct {
	WorkOrderID    string          `json:"workOrderId"`
	NewStatus      string          `json:"newStatus"`
	Notes          *string         `json:"notes,omitempty"`
	ReasonCode     *string         `json:"reasonCode,omitempty"`
	CompletionData *CompletionData `json:"completionData,omitempty"`
}

type StatusUpdateResult struct {
	Success   bool `json:"success"`
	WorkOrder struct {
		ID             int64  `json:"id"`
		Code           string `json:"code,omitempty"`
		PreviousStatus string `json:"previousStatus"`
		NewStatus      string `json:"newStatus"`
		UpdatedBy      string `json:"updatedBy"`
	} `json:"workOrder"`
	Actions []string `json:"actions"`
}

// WorkOrderDetails is the partial read model returned by the details tool.
type WorkOrderDetails struct {
	ID          int64   `json:"id"`
	Code        string  `json:"code,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	Tasks       []struct {
		ID    int64  `json:"id"`
		Label string `json:"label"`
	} `json:"tasks"`
	History []struct {
		Action   string `json:"action"`
		UserName string `json:"userName,omitempty"`
	} `json:"history"`
}

type UpdateWorkOrderResult struct {
	Success   bool `json:"success"`
	WorkOrder struct {
		ID                int64    `json:"id"`
		Title             string   `json:"title"`
		Description       *string  `json:"description,omitempty"`
		Priority          string   `json:"priority"`
		AssignedUserNames []string `json:"assignedUserNames"`
	} `json:"workOrder"`
	Message       string   `json:"message"`
	UpdatedFields []string `json:"updatedFields"`
}

type PromptRequest struct {
	AgentID  string         `json:"agentId,omitempty"`
	Prompt   string         `json:"prompt"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Draft struct {
	ID             int64     `json:"id"`
	AgentSessionID string    `json:"agentSessionId"`
	OperationType  string    `json:"operationType"`
	Payload        string    `json:"payload"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type ChatResponse struct {
	Status        string  `json:"status"`
	Message       string  `json:"message,omitempty"`
	AgentID       string  `json:"agentId,omitempty"`
	CorrelationID string  `json:"correlationId"`
	SessionID     string  `json:"sessionId,omitempty"`
	Drafts        []Draft `json:"drafts,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health pings the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// SearchWorkOrders runs the work order search tool.
func (c *Client) SearchWorkOrders(ctx context.Context, req SearchWorkOrdersRequest) (SearchResult[WorkOrderSummary], error) {
	var resp SearchResult[WorkOrderSummary]
	err := c.do(ctx, http.MethodPost, "agent/tools/work-orders/search", req, &resp)
	return resp, err
}

// SearchAssets runs the asset search tool.
func (c *Client) SearchAssets(ctx context.Context, req SearchAssetsRequest) (SearchResult[AssetSummary], error) {
	var resp SearchResult[AssetSummary]
	err := c.do(ctx, http.MethodPost, "agent/tools/assets/search", req, &resp)
	return resp, err
}

// CreateWorkOrder creates an OPEN work order.
func (c *Client) CreateWorkOrder(ctx context.Context, req CreateWorkOrderRequest) (CreateWorkOrderResult, error) {
	var resp CreateWorkOrderResult
	err := c.do(ctx, http.MethodPost, "agent/tools/work-orders/create", req, &resp)
	return resp, err
}

// UpdateStatus moves a work order through the status machine.
func (c *Client) UpdateStatus(ctx context.Context, req StatusUpdateRequest) (StatusUpdateResult, error) {
	var resp StatusUpdateResult
	err := c.do(ctx, http.MethodPost, "agent/tools/work-orders/update-status", req, &resp)
	return resp, err
}

// WorkOrderDetails fetches a work order by numeric id or code.
func (c *Client) WorkOrderDetails(ctx context.Context, identifier string) (WorkOrderDetails, error) {
	var resp WorkOrderDetails
	endpoint := fmt.Sprintf("agent/tools/work-orders/%s/details", url.PathEscape(identifier))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// UpdateWorkOrder sends a sparse patch. Keys mapped to nil are sent as JSON
// null and clear the field; absent keys are left unchanged.
func (c *Client) UpdateWorkOrder(ctx context.Context, identifier string, patch map[string]any) (UpdateWorkOrderResult, error) {
	var resp UpdateWorkOrderResult
	endpoint := fmt.Sprintf("agent/tools/work-orders/%s/update", url.PathEscape(identifier))
	if patch == nil {
		patch = map[string]any{}
	}
	err := c.do(ctx, http.MethodPost, endpoint, patch, &resp)
	return resp, err
}

// Chat relays a prompt to the agent runtime.
func (c *Client) Chat(ctx context.Context, req PromptRequest) (ChatResponse, error) {
	var resp ChatResponse
	err := c.do(ctx, http.MethodPost, "agent/chat", req, &resp)
	return resp, err
}

// PendingDrafts lists the caller's pending draft actions.
func (c *Client) PendingDrafts(ctx context.Context) ([]Draft, error) {
	var resp struct {
		Drafts []Draft `json:"drafts"`
	}
	err := c.do(ctx, http.MethodGet, "agent/drafts", nil, &resp)
	return resp.Drafts, err
}

// ConfirmDraft applies a pending draft.
func (c *Client) ConfirmDraft(ctx context.Context, id int64) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("agent/drafts/%d/confirm", id), nil, &resp)
	return resp, err
}

// DeclineDraft rejects a pending draft.
func (c *Client) DeclineDraft(ctx context.Context, id int64) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("agent/drafts/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if c.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", c.CorrelationID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
