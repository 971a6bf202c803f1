package agent_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintline/internal/agent"
	"maintline/internal/apperr"
	"maintline/internal/config"
	"maintline/internal/db"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/events"
	"maintline/internal/migrate"
	"maintline/internal/repo"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Ctx     context.Context
	Engine  engine.Engine
	Service agent.Service
	Company int64
	Tech    domain.User
	Other   domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	cfg.Agent.ChatkitEnabled = true
	cfg.Agent.ChatkitAgentID = "maint-agent"
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return fixedNow }

	env := testEnv{Ctx: context.Background(), Engine: eng}
	env.Company, err = eng.Repo.InsertCompany(env.Ctx, nil, "Acme", fixedNow)
	require.NoError(t, err)
	env.Tech = env.user(t, "tech@acme.test", "Tom Tech")
	env.Other = env.user(t, "other@acme.test", "Olga Other")

	env.Service = agent.New(eng, cfg.Agent)
	env.Service.NewID = func() string { return "corr-1" }
	return env
}

func (env testEnv) user(t *testing.T, email, name string) domain.User {
	t.Helper()
	role, err := env.Engine.Repo.EnsureRole(env.Ctx, nil, env.Company, domain.RoleTechnician, "Technician")
	require.NoError(t, err)
	id, err := env.Engine.Repo.InsertUser(env.Ctx, nil, domain.User{CompanyID: env.Company, Email: email, FullName: name, Enabled: true, Role: &role}, fixedNow)
	require.NoError(t, err)
	u, err := env.Engine.Repo.GetUser(env.Ctx, nil, id)
	require.NoError(t, err)
	return u
}

func (env testEnv) workOrder(t *testing.T, req engine.CreateRequest) domain.WorkOrder {
	t.Helper()
	if req.Title == "" {
		req.Title = "Lubricate conveyor"
	}
	res, err := env.Engine.CreateWorkOrder(env.Ctx, &env.Tech, req)
	require.NoError(t, err)
	w, err := env.Engine.Repo.GetWorkOrder(env.Ctx, nil, env.Company, res.WorkOrder.ID)
	require.NoError(t, err)
	return w
}

func (env testEnv) draft(t *testing.T, owner domain.User, op, payload string) int64 {
	t.Helper()
	id, err := env.Engine.Repo.InsertDraft(env.Ctx, nil, domain.DraftAction{
		UserID:         owner.ID,
		CompanyID:      &env.Company,
		AgentSessionID: "sess-1",
		OperationType:  op,
		Payload:        payload,
		CreatedAt:      fixedNow,
		UpdatedAt:      fixedNow,
	})
	require.NoError(t, err)
	return id
}

func (env testEnv) draftStatus(t *testing.T, id int64) domain.DraftStatus {
	t.Helper()
	d, err := env.Engine.Repo.GetDraftForUser(env.Ctx, nil, id, env.Tech.ID)
	require.NoError(t, err)
	return d.Status
}

func requireKind(t *testing.T, err error, kind apperr.Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), err.Error())
	assert.Equal(t, msg, err.Error())
}

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestConfirmCompleteWorkOrderFromOpen(t *testing.T) {
	env := newTestEnv(t)
	w := env.workOrder(t, engine.CreateRequest{})
	id := env.draft(t, env.Tech, agent.OpCompleteWorkOrder, `{"summary":"Close it","data":{"workOrderId":`+jsonInt(w.ID)+`}}`)

	view, err := env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
	require.NoError(t, err)
	assert.Equal(t, "applied", view.Status)
	payload := decode(t, view.Payload)
	assert.Equal(t, "Work order marked as complete.", payload["result"])
	assert.Equal(t, "Close it", payload["summary"])
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), payload["appliedAt"])

	stored, err := env.Engine.Repo.GetWorkOrder(env.Ctx, nil, env.Company, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, stored.Status)
	require.NotNil(t, stored.CompletedByID)
	assert.Equal(t, env.Tech.ID, *stored.CompletedByID)

	history, err := events.List(env.Ctx, env.Engine.DB, w.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "Status changed from OPEN to IN_PROGRESS • Started via agent", history[1].Action)
	assert.Equal(t, "Status changed from IN_PROGRESS to COMPLETE • Completed via agent", history[2].Action)
	assert.Equal(t, domain.DraftApplied, env.draftStatus(t, id))
}

func TestConfirmCompleteWorkOrderAlreadyComplete(t *testing.T) {
	env := newTestEnv(t)
	w := env.workOrder(t, engine.CreateRequest{})
	first := env.draft(t, env.Tech, agent.OpCompleteWorkOrder, `{"workOrderId":"`+w.Code+`"}`)
	_, err := env.Service.ConfirmDraft(env.Ctx, &env.Tech, first)
	require.NoError(t, err)

	second := env.draft(t, env.Tech, "COMPLETE_WORK_ORDER", `{"id":`+jsonInt(w.ID)+`}`)
	view, err := env.Service.ConfirmDraft(env.Ctx, &env.Tech, second)
	require.NoError(t, err)
	assert.Equal(t, "Work order already complete.", decode(t, view.Payload)["result"])

	history, err := events.List(env.Ctx, env.Engine.DB, w.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestConfirmTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	w := env.workOrder(t, engine.CreateRequest{})
	id := env.draft(t, env.Tech, agent.OpCompleteWorkOrder, `{"workOrderId":`+jsonInt(w.ID)+`}`)

	_, err := env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
	require.NoError(t, err)
	_, err = env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
	requireKind(t, err, apperr.KindConflict, "Draft action already processed")
	assert.Equal(t, domain.DraftApplied, env.draftStatus(t, id))
}

func TestConfirmFailureRollsBackAndMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	yes := true
	w := env.workOrder(t, engine.CreateRequest{RequireSignature: &yes})
	id := env.draft(t, env.Tech, agent.OpCompleteWorkOrder, `{"data":{"id":"`+w.Code+`"}}`)

	_, err := env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
	requireKind(t, err, apperr.KindPreconditionFailed, "Signature required to complete this work order")
	assert.Equal(t, domain.DraftFailed, env.draftStatus(t, id))

	stored, err := env.Engine.Repo.GetWorkOrder(env.Ctx, nil, env.Company, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, stored.Status)
	history, err := events.List(env.Ctx, env.Engine.DB, w.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
	requireKind(t, err, apperr.KindConflict, "Draft action already processed")
}

func TestConfirmCreateWorkOrder(t *testing.T) {
	env := newTestEnv(t)
	id := env.draft(t, env.Tech, agent.OpCreateWorkOrder, `{"summary":"New door job","title":" Fix door ","priority":"high","dueDate":"2024-03-10"}`)

	view, err := env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
	require.NoError(t, err)
	payload := decode(t, view.Payload)
	assert.Equal(t, "Work order created.", payload["result"])
	assert.Equal(t, "New door job", payload["summary"])
	data, ok := payload["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "OPEN", data["status"])
	assert.Equal(t, " Fix door ", data["title"])
	code, _ := data["workOrderCode"].(string)
	require.NotEmpty(t, code)

	w, err := env.Engine.Repo.GetWorkOrderByCode(env.Ctx, nil, env.Company, code)
	require.NoError(t, err)
	assert.Equal(t, "Fix door", w.Title)
	assert.Equal(t, domain.PriorityHigh, w.Priority)
	assert.Equal(t, float64(w.ID), data["workOrderId"])
}

func TestConfirmCreateWithSummaryInData(t *testing.T) {
	env := newTestEnv(t)
	id := env.draft(t, env.Tech, agent.OpCreateWorkOrder, `{"summary":"old","data":{"title":"Paint","summary":" new "}}`)

	view, err := env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
	require.NoError(t, err)
	assert.Equal(t, "new", decode(t, view.Payload)["summary"])
}

func TestConfirmRejectsBadDrafts(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name    string
		op      string
		payload string
		kind    apperr.Kind
		msg     string
	}{
		{"missing title", agent.OpCreateWorkOrder, `{"data":{"priority":"LOW"}}`, apperr.KindInvalidInput, "Draft payload missing title"},
		{"empty data", agent.OpCreateWorkOrder, `{"summary":"x"}`, apperr.KindInvalidInput, "Draft payload missing data for work order creation"},
		{"missing id", agent.OpCompleteWorkOrder, `{"data":{}}`, apperr.KindInvalidInput, "Draft payload missing workOrderId"},
		{"unknown work order", agent.OpCompleteWorkOrder, `{"workOrderId":"WO-999"}`, apperr.KindNotFound, "Work order not found"},
		{"blank operation", " ", `{}`, apperr.KindInvalidInput, "Draft action missing operation type"},
		{"unknown operation", "delete_asset", `{}`, apperr.KindNotImplemented, "Unsupported draft operation: delete_asset"},
		{"broken json", agent.OpCreateWorkOrder, `{"data":`, apperr.KindInvalidInput, "Invalid draft payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := env.draft(t, env.Tech, tc.op, tc.payload)
			_, err := env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
			requireKind(t, err, tc.kind, tc.msg)
			assert.Equal(t, domain.DraftFailed, env.draftStatus(t, id))
		})
	}

	orders, err := env.Engine.Repo.SearchWorkOrders(env.Ctx, repo.WorkOrderFilters{CompanyID: env.Company})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestDraftsAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	id := env.draft(t, env.Other, agent.OpCreateWorkOrder, `{"data":{"title":"x"}}`)

	_, err := env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
	requireKind(t, err, apperr.KindNotFound, "Draft action not found")
	_, err = env.Service.DeclineDraft(env.Ctx, &env.Tech, id)
	requireKind(t, err, apperr.KindNotFound, "Draft action not found")

	mine, err := env.Service.ListPendingDrafts(env.Ctx, &env.Tech)
	require.NoError(t, err)
	assert.Empty(t, mine)
	theirs, err := env.Service.ListPendingDrafts(env.Ctx, &env.Other)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, id, theirs[0].ID)
}

func TestDeclineDraft(t *testing.T) {
	env := newTestEnv(t)
	id := env.draft(t, env.Tech, agent.OpCreateWorkOrder, `{"data":{"title":"x"}}`)

	view, err := env.Service.DeclineDraft(env.Ctx, &env.Tech, id)
	require.NoError(t, err)
	assert.Equal(t, "declined", view.Status)

	view, err = env.Service.DeclineDraft(env.Ctx, &env.Tech, id)
	require.NoError(t, err)
	assert.Equal(t, "declined", view.Status)

	_, err = env.Service.ConfirmDraft(env.Ctx, &env.Tech, id)
	requireKind(t, err, apperr.KindConflict, "Draft action already processed")

	applied := env.draft(t, env.Tech, agent.OpCreateWorkOrder, `{"data":{"title":"y"}}`)
	_, err = env.Service.ConfirmDraft(env.Ctx, &env.Tech, applied)
	require.NoError(t, err)
	_, err = env.Service.DeclineDraft(env.Ctx, &env.Tech, applied)
	requireKind(t, err, apperr.KindConflict, "Draft action already processed")
	assert.Equal(t, domain.DraftApplied, env.draftStatus(t, applied))
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func TestHandlePromptRelaysAndStoresDrafts(t *testing.T) {
	env := newTestEnv(t)
	var got agent.RuntimeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat", r.URL.Path)
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-Id"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"message":"Here you go",
			"agentId":"maint-agent",
			"sessionId":"sess-9",
			"messages":[{"role":"assistant","content":"Drafted."}],
			"toolCalls":[{"toolName":"search_work_orders","arguments":{"limit":2},"resultCount":2,"status":"completed"}],
			"drafts":[{"operationType":"create_work_order","payload":{"title":"Swap belt"}}]
		}`)
	}))
	defer srv.Close()

	env.Service.Config.RuntimeURL = srv.URL + "/"
	env.Service.Runtime = &agent.HTTPRuntime{BaseURL: srv.URL + "/", Token: "secret", Client: srv.Client()}

	res, err := env.Service.HandlePrompt(env.Ctx, &env.Tech, agent.PromptRequest{Prompt: "swap the belt", Metadata: map[string]any{"page": "wo"}})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "corr-1", res.CorrelationID)
	assert.Equal(t, "sess-9", res.SessionID)
	require.Len(t, res.Drafts, 1)
	assert.Equal(t, "pending", res.Drafts[0].Status)
	assert.Equal(t, "sess-9", res.Drafts[0].AgentSessionID)
	assert.JSONEq(t, `{"summary":"Agent proposed action requires confirmation","data":{"title":"Swap belt"}}`, res.Drafts[0].Payload)

	assert.Equal(t, "maint-agent", got.AgentID)
	assert.Equal(t, "swap the belt", got.Prompt)
	assert.Equal(t, env.Tech.ID, got.User.UserID)
	assert.Equal(t, "Technician", got.User.Role)
	assert.Equal(t, "wo", got.Metadata["page"])
	assert.Equal(t, "corr-1", got.Metadata["correlationId"])
	assert.Contains(t, got.Metadata, "userContext")

	pending, err := env.Service.ListPendingDrafts(env.Ctx, &env.Tech)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	logs, err := env.Engine.Repo.ListInvocations(env.Ctx, repo.InvocationFilters{CorrelationID: "corr-1"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "search_work_orders", logs[0].ToolName)
	assert.Equal(t, "completed", logs[0].Status)
	assert.Equal(t, "chat_prompt", logs[1].ToolName)
	assert.Equal(t, "completed", logs[1].Status)
	require.NotNil(t, logs[1].ResultCount)
	assert.Equal(t, 1, *logs[1].ResultCount)
}

func TestHandlePromptRuntimeFailure(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	env.Service.Config.RuntimeURL = srv.URL
	env.Service.Runtime = &agent.HTTPRuntime{BaseURL: srv.URL, Client: srv.Client()}

	res, err := env.Service.HandlePrompt(env.Ctx, &env.Tech, agent.PromptRequest{Prompt: "hello", AgentID: "custom"})
	require.NoError(t, err)
	assert.Equal(t, agent.ChatStatusError, res.Status)
	assert.Equal(t, "custom", res.AgentID)
	assert.Equal(t, "Failed to contact agent runtime. Please try again later.", res.Message)

	logs, err := env.Engine.Repo.ListInvocations(env.Ctx, repo.InvocationFilters{CorrelationID: "corr-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "failed", logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, "Agent runtime responded with status 502", *logs[0].ErrorMessage)
}

func TestHandlePromptGuards(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Service.HandlePrompt(env.Ctx, &env.Tech, agent.PromptRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, agent.ChatStatusNotReady, res.Status)
	assert.Equal(t, "maint-agent", res.AgentID)

	env.Service.Config.ChatkitEnabled = false
	res, err = env.Service.HandlePrompt(env.Ctx, &env.Tech, agent.PromptRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, agent.ChatStatusDisabled, res.Status)

	_, err = env.Service.HandlePrompt(env.Ctx, &env.Tech, agent.PromptRequest{Prompt: "   "})
	requireKind(t, err, apperr.KindInvalidInput, "Prompt must not be blank")
	long := make([]byte, 4001)
	for i := range long {
		long[i] = 'a'
	}
	_, err = env.Service.HandlePrompt(env.Ctx, &env.Tech, agent.PromptRequest{Prompt: string(long)})
	requireKind(t, err, apperr.KindInvalidInput, "Prompt must be at most 4000 characters")

	logs, err := env.Engine.Repo.ListInvocations(env.Ctx, repo.InvocationFilters{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestHTTPRuntimeRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	rt := agent.NewHTTPRuntime(config.AgentConfig{RuntimeURL: srv.URL, TimeoutMs: 1000})

	_, err := rt.SendPrompt(context.Background(), agent.RuntimeRequest{Prompt: "x"}, "c")
	requireKind(t, err, apperr.KindUpstreamFailure, "Agent runtime returned an empty body")
	assert.Equal(t, time.Second, rt.Client.Timeout)
}
