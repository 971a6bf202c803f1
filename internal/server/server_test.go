package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintline/internal/agent"
	"maintline/internal/config"
	"maintline/internal/db"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/migrate"
	"maintline/internal/repo"
	maintlinesdk "maintline/sdk/go"
)

const (
	testSecret = "test-secret"
	adminKey   = "admin-key"
	techKey    = "tech-key"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Admin  domain.User
	Tech   domain.User
}

type serverOption func(*config.Config)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Tools.RatePerMinute = 0
	for _, opt := range opts {
		opt(cfg)
	}
	e := engine.New(conn, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	companyID, err := e.Repo.InsertCompany(ctx, nil, "Acme", now)
	require.NoError(t, err)
	ts := &testServer{Engine: e}
	ts.Admin = seedUser(t, e.Repo, companyID, domain.RoleAdmin, "admin@acme.test", "Ada Admin", adminKey)
	ts.Tech = seedUser(t, e.Repo, companyID, domain.RoleTechnician, "tech@acme.test", "Tom Tech", techKey)

	handler, err := New(Config{
		Engine:    e,
		Agent:     agent.New(e, cfg.Agent),
		BasePath:  "/api",
		Auth:      AuthConfig{JWTSecret: cfg.Auth.JWTSecret},
		RateLimit: cfg.Tools,
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	ts.URL = "http://" + ln.Addr().String()
	return ts
}

func seedUser(t *testing.T, r repo.Repo, companyID int64, code domain.RoleCode, email, name, key string) domain.User {
	t.Helper()
	ctx := context.Background()
	role, err := r.EnsureRole(ctx, nil, companyID, code, string(code))
	require.NoError(t, err)
	id, err := r.InsertUser(ctx, nil, domain.User{CompanyID: companyID, Email: email, FullName: name, Enabled: true, Role: &role}, time.Now())
	require.NoError(t, err)
	require.NoError(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "key-" + email, UserID: id, KeyHash: repo.HashAPIKey(key)}))
	u, err := r.GetUser(ctx, nil, id)
	require.NoError(t, err)
	return u
}

func (s *testServer) client(key string) *maintlinesdk.Client {
	c := maintlinesdk.New(s.URL + "/api")
	c.APIKey = key
	return c
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func requireAPIError(t *testing.T, err error, status int, code string) *maintlinesdk.APIError {
	t.Helper()
	var apiErr *maintlinesdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected api error, got %v", err)
	assert.Equal(t, status, apiErr.StatusCode, apiErr.Body)
	assert.Equal(t, code, apiErr.Code, apiErr.Body)
	return apiErr
}

func TestHealthAndAuthentication(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, srv.client("").Health(ctx))

	_, err := srv.client("").SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{})
	requireAPIError(t, err, http.StatusUnauthorized, "unauthorized")

	_, err = srv.client("wrong").SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{})
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")

	bearer := srv.client("")
	bearer.BearerToken = "not-a-jwt"
	_, err = bearer.SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{})
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")

	token, err := SignToken(testSecret, srv.Tech.ID, time.Hour)
	require.NoError(t, err)
	bearer.BearerToken = token
	res, err := bearer.SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)

	forged, err := SignToken("other-secret", srv.Tech.ID, time.Hour)
	require.NoError(t, err)
	bearer.BearerToken = forged
	_, err = bearer.SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{})
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")

	_, err = srv.client(techKey).SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{})
	require.NoError(t, err)
	keys, err := srv.Engine.Repo.ListAPIKeys(ctx, srv.Tech.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	require.NoError(t, srv.Engine.Repo.RevokeAPIKey(ctx, srv.Tech.ID, keys[0].ID, time.Now()))
	_, err = srv.client(techKey).SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{})
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")
}

func TestWorkOrderToolsFlow(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	admin := srv.client(adminKey)

	created, err := admin.CreateWorkOrder(ctx, maintlinesdk.CreateWorkOrderRequest{
		Title:       "Replace pump seal",
		Description: "Leaking at the shaft",
		Priority:    "HIGH",
	})
	require.NoError(t, err)
	assert.True(t, created.Success)
	assert.Equal(t, "OPEN", created.WorkOrder.Status)
	assert.Equal(t, "HIGH", created.WorkOrder.Priority)
	code := created.WorkOrder.Code
	require.NotEmpty(t, code)

	_, err = admin.CreateWorkOrder(ctx, maintlinesdk.CreateWorkOrderRequest{Title: "  "})
	requireAPIError(t, err, http.StatusBadRequest, "invalid_input")

	found, err := admin.SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{Search: "pump"})
	require.NoError(t, err)
	require.Equal(t, 1, found.Total)
	assert.Equal(t, created.WorkOrder.ID, found.Results[0].ID)

	_, err = admin.UpdateStatus(ctx, maintlinesdk.StatusUpdateRequest{WorkOrderID: code, NewStatus: "COMPLETE"})
	requireAPIError(t, err, http.StatusUnprocessableEntity, "invalid_transition")

	moved, err := admin.UpdateStatus(ctx, maintlinesdk.StatusUpdateRequest{WorkOrderID: code, NewStatus: "IN_PROGRESS"})
	require.NoError(t, err)
	assert.Equal(t, "OPEN", moved.WorkOrder.PreviousStatus)
	assert.Equal(t, "IN_PROGRESS", moved.WorkOrder.NewStatus)

	_, err = admin.UpdateStatus(ctx, maintlinesdk.StatusUpdateRequest{WorkOrderID: code, NewStatus: "IN_PROGRESS"})
	requireAPIError(t, err, http.StatusConflict, "conflict")

	_, err = admin.UpdateStatus(ctx, maintlinesdk.StatusUpdateRequest{WorkOrderID: code, NewStatus: "ON_HOLD"})
	requireAPIError(t, err, http.StatusBadRequest, "invalid_input")

	details, err := admin.WorkOrderDetails(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", details.Status)
	require.NotEmpty(t, details.History)

	_, err = admin.WorkOrderDetails(ctx, "WO-999999")
	requireAPIError(t, err, http.StatusNotFound, "not_found")
}

func TestUpdateWorkOrderDistinguishesNullFromAbsent(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	admin := srv.client(adminKey)

	created, err := admin.CreateWorkOrder(ctx, maintlinesdk.CreateWorkOrderRequest{Title: "Grease bearings", Description: "Line 3"})
	require.NoError(t, err)
	id := created.WorkOrder.Code

	res, err := admin.UpdateWorkOrder(ctx, id, map[string]any{"title": "Grease all bearings"})
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, res.UpdatedFields)
	require.NotNil(t, res.WorkOrder.Description)
	assert.Equal(t, "Line 3", *res.WorkOrder.Description)

	res, err = admin.UpdateWorkOrder(ctx, id, map[string]any{"description": nil})
	require.NoError(t, err)
	assert.Equal(t, []string{"description"}, res.UpdatedFields)
	assert.Nil(t, res.WorkOrder.Description)
	assert.Equal(t, "Grease all bearings", res.WorkOrder.Title)

	_, err = admin.UpdateWorkOrder(ctx, id, map[string]any{"title": nil})
	requireAPIError(t, err, http.StatusBadRequest, "invalid_input")

	_, err = admin.UpdateWorkOrder(ctx, id, map[string]any{"locationId": "plant"})
	apiErr := requireAPIError(t, err, http.StatusBadRequest, "invalid_input")
	assert.Equal(t, "Invalid value for locationId", apiErr.Message)
	assert.Contains(t, apiErr.Body, `"field":"locationId"`)

	_, err = admin.UpdateWorkOrder(ctx, id, map[string]any{"requireSignature": "yes", "title": "Ignored"})
	apiErr = requireAPIError(t, err, http.StatusBadRequest, "invalid_input")
	assert.Equal(t, "Invalid value for requireSignature", apiErr.Message)

	details, err := admin.WorkOrderDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Grease all bearings", details.Title)
}

func TestToolCallsAreAudited(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	tech := srv.client(techKey)
	tech.CorrelationID = "corr-42"

	_, err := tech.SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{Limit: 3})
	require.NoError(t, err)
	_, err = tech.UpdateStatus(ctx, maintlinesdk.StatusUpdateRequest{WorkOrderID: "404", NewStatus: "IN_PROGRESS"})
	requireAPIError(t, err, http.StatusNotFound, "not_found")

	logs, err := srv.Engine.Repo.ListInvocations(ctx, repo.InvocationFilters{CorrelationID: "corr-42"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, toolUpdateStatus, logs[0].ToolName)
	assert.Equal(t, "failed", logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, "Work order not found", *logs[0].ErrorMessage)
	assert.Equal(t, toolSearchWorkOrders, logs[1].ToolName)
	assert.Equal(t, "completed", logs[1].Status)
	require.NotNil(t, logs[1].UserID)
	assert.Equal(t, srv.Tech.ID, *logs[1].UserID)
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, http.MethodPost, srv.URL+"/api/agent/tools/assets/search", map[string]any{}, map[string]string{
		"X-Api-Key":        techKey,
		"X-Correlation-Id": "trace-7",
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "trace-7", res.Header.Get("X-Correlation-Id"))

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/api/health", nil, nil)
	assert.NotEmpty(t, res.Header.Get("X-Correlation-Id"))
}

func TestToolRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Tools.RatePerMinute = 1
		cfg.Tools.Burst = 1
	})
	ctx := context.Background()
	tech := srv.client(techKey)

	_, err := tech.SearchAssets(ctx, maintlinesdk.SearchAssetsRequest{})
	require.NoError(t, err)
	_, err = tech.SearchAssets(ctx, maintlinesdk.SearchAssetsRequest{})
	requireAPIError(t, err, http.StatusTooManyRequests, "rate_limited")

	_, err = srv.client(adminKey).SearchAssets(ctx, maintlinesdk.SearchAssetsRequest{})
	require.NoError(t, err)
}

func TestAgentEndpointsDisabled(t *testing.T) {
	srv := newTestServer(t)
	tech := srv.client(techKey)
	ctx := context.Background()

	_, err := tech.PendingDrafts(ctx)
	requireAPIError(t, err, http.StatusNotImplemented, "not_implemented")
	_, err = tech.ConfirmDraft(ctx, 1)
	requireAPIError(t, err, http.StatusNotImplemented, "not_implemented")

	res, data := doJSON(t, http.MethodPost, srv.URL+"/api/agent/chat", map[string]any{"prompt": "hi"}, map[string]string{
		"X-Api-Key":        techKey,
		"X-Correlation-Id": "corr-off",
	})
	require.Equal(t, http.StatusNotImplemented, res.StatusCode, string(data))
	var body maintlinesdk.ChatResponse
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, agent.ChatStatusDisabled, body.Status)
	assert.Equal(t, "corr-off", body.CorrelationID)
}

func TestAgentChatAndDraftLifecycle(t *testing.T) {
	runtime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "corr-chat", r.Header.Get("X-Correlation-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"sessionId":"sess-1",
			"drafts":[
				{"operationType":"create_work_order","summary":"New belt","payload":{"title":"Swap conveyor belt"}},
				{"operationType":"create_work_order","payload":{"title":"Check motor"}}
			]
		}`)
	}))
	defer runtime.Close()

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Agent.ChatkitEnabled = true
		cfg.Agent.ChatkitAgentID = "maint-agent"
		cfg.Agent.RuntimeURL = runtime.URL
	})
	ctx := context.Background()
	tech := srv.client(techKey)
	tech.CorrelationID = "corr-chat"

	chat, err := tech.Chat(ctx, maintlinesdk.PromptRequest{Prompt: "belt is torn"})
	require.NoError(t, err)
	assert.Equal(t, "success", chat.Status)
	assert.Equal(t, "corr-chat", chat.CorrelationID)
	require.Len(t, chat.Drafts, 2)

	_, err = tech.Chat(ctx, maintlinesdk.PromptRequest{Prompt: "   "})
	requireAPIError(t, err, http.StatusBadRequest, "invalid_input")

	pending, err := tech.PendingDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	_, err = srv.client(adminKey).ConfirmDraft(ctx, chat.Drafts[0].ID)
	requireAPIError(t, err, http.StatusNotFound, "not_found")

	applied, err := tech.ConfirmDraft(ctx, chat.Drafts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "applied", applied.Status)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(applied.Payload), &payload))
	assert.Equal(t, "Work order created.", payload["result"])

	_, err = tech.ConfirmDraft(ctx, chat.Drafts[0].ID)
	requireAPIError(t, err, http.StatusConflict, "conflict")

	declined, err := tech.DeclineDraft(ctx, chat.Drafts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "declined", declined.Status)

	pending, err = tech.PendingDrafts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	found, err := tech.SearchWorkOrders(ctx, maintlinesdk.SearchWorkOrdersRequest{Search: "conveyor"})
	require.NoError(t, err)
	assert.Equal(t, 1, found.Total)
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.Paths, "/api/agent/tools/work-orders/{id}/update")
	assert.Contains(t, doc.Paths, "/api/agent/drafts/{id}/confirm")
	assert.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
	assert.Contains(t, doc.Components.SecuritySchemes, "apiKeyAuth")

	res, data = doJSON(t, http.MethodGet, srv.URL+"/api/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `spec-url="/api/openapi.json"`)
}

func TestHandleErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{repo.ErrNotFound, http.StatusNotFound, "not_found"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		se := handleError(tc.err)
		apiErr, ok := se.(*apiError)
		require.True(t, ok)
		assert.Equal(t, tc.status, apiErr.GetStatus())
		assert.Equal(t, tc.code, apiErr.Body.Code)
	}
	assert.Nil(t, handleError(nil))
}
