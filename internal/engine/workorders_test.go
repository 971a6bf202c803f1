package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintline/internal/apperr"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/events"
)

func TestUpdateWorkOrderSparseDescription(t *testing.T) {
	env := newTestEnv(t)
	w := env.createWorkOrder(t, env.Tech, engine.CreateRequest{Description: "original"})

	res, err := env.Engine.UpdateWorkOrder(env.Ctx, &env.Tech, w.Code, engine.UpdateRequest{Title: engine.Value(" Renamed ")})
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, res.UpdatedFields)
	require.NotNil(t, res.WorkOrder.Description)
	assert.Equal(t, "original", *res.WorkOrder.Description)
	assert.Equal(t, "Renamed", res.WorkOrder.Title)

	res, err = env.Engine.UpdateWorkOrder(env.Ctx, &env.Tech, w.Code, engine.UpdateRequest{Description: engine.Null[string]()})
	require.NoError(t, err)
	assert.Equal(t, []string{"description"}, res.UpdatedFields)
	assert.Nil(t, res.WorkOrder.Description)

	stored, err := env.Engine.Repo.GetWorkOrder(env.Ctx, nil, env.CompanyID, w.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Description)
	assert.Equal(t, "Renamed", stored.Title)

	history, err := events.List(env.Ctx, env.Engine.DB, w.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "Agent updated: title", history[1].Action)
	assert.Equal(t, "Agent updated: description", history[2].Action)
}

func TestUpdateWorkOrderFields(t *testing.T) {
	env := newTestEnv(t)
	yes := true
	w := env.createWorkOrder(t, env.Admin, engine.CreateRequest{RequireSignature: &yes, AssignedUserIDs: []int64{env.Tech.ID}})

	res, err := env.Engine.UpdateWorkOrder(env.Ctx, &env.Tech, w.Code, engine.UpdateRequest{
		Priority:               engine.Value("high"),
		DueDate:                engine.Value("2024-05-01T08:00:00Z"),
		EstimatedDurationHours: engine.Null[float64](),
		RequireSignature:       engine.Null[bool](),
		LocationID:             engine.Value(env.Location),
		PrimaryUserID:          engine.Value(env.Tech2.ID),
		AssignedUserIDs:        engine.Value([]int64{env.Tech.ID, env.Tech2.ID}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"priority", "dueDate", "estimatedDuration", "requireSignature", "location", "primaryUser", "assignedUsers"}, res.UpdatedFields)
	assert.Equal(t, "HIGH", res.WorkOrder.Priority)
	assert.Equal(t, "Tina Tech", res.WorkOrder.PrimaryUserName)
	assert.Equal(t, []string{"Tom Tech", "Tina Tech"}, res.WorkOrder.AssignedUserNames)

	stored, err := env.Engine.Repo.GetWorkOrder(env.Ctx, nil, env.CompanyID, w.ID)
	require.NoError(t, err)
	assert.False(t, stored.RequireSignature)
	require.NotNil(t, stored.DueDate)
	assert.True(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC).Equal(*stored.DueDate))
	assert.Equal(t, []int64{env.Tech.ID, env.Tech2.ID}, stored.AssignedUserIDs)

	res, err = env.Engine.UpdateWorkOrder(env.Ctx, &env.Tech, w.Code, engine.UpdateRequest{
		Priority:   engine.Value("  "),
		LocationID: engine.Null[int64](),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"location"}, res.UpdatedFields)
	assert.Equal(t, "HIGH", res.WorkOrder.Priority)
}

func TestUpdateWorkOrderRejects(t *testing.T) {
	env := newTestEnv(t)
	w := env.createWorkOrder(t, env.Tech, engine.CreateRequest{})

	_, err := env.Engine.UpdateWorkOrder(env.Ctx, &env.Tech, w.Code, engine.UpdateRequest{Title: engine.Value("   ")})
	requireKind(t, err, apperr.KindInvalidInput, "Title cannot be empty")

	_, err = env.Engine.UpdateWorkOrder(env.Ctx, &env.Tech, w.Code, engine.UpdateRequest{Title: engine.Value("ok"), LocationID: engine.Value(env.OtherLocation)})
	requireKind(t, err, apperr.KindForbidden, "Location belongs to another company")

	_, err = env.Engine.UpdateWorkOrder(env.Ctx, &env.Tech, w.Code, engine.UpdateRequest{AssignedUserIDs: engine.Value([]int64{4242})})
	requireKind(t, err, apperr.KindNotFound, "User with ID 4242 not found")

	_, err = env.Engine.UpdateWorkOrder(env.Ctx, &env.Tech2, w.Code, engine.UpdateRequest{Title: engine.Value("mine")})
	requireKind(t, err, apperr.KindForbidden, "User cannot modify this work order")

	stored, err := env.Engine.Repo.GetWorkOrder(env.Ctx, nil, env.CompanyID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Replace filter", stored.Title)
	assert.Nil(t, stored.LocationID)
}

func TestSearchWorkOrders(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 7; i++ {
		env.createWorkOrder(t, env.Tech, engine.CreateRequest{Title: "Pump check"})
	}
	boiler := env.createWorkOrder(t, env.Tech, engine.CreateRequest{
		Title:           "Boiler",
		Priority:        "HIGH",
		Description:     "annual pump service",
		AssignedUserIDs: []int64{env.Tech.ID},
	})
	env.setStatus(t, env.Tech, boiler.Code, "IN_PROGRESS", "")
	archived := env.createWorkOrder(t, env.Tech, engine.CreateRequest{Title: "Old pump"})
	archived.Archived = true
	require.NoError(t, env.Engine.Repo.UpdateWorkOrder(env.Ctx, nil, archived))

	res, err := env.Engine.SearchWorkOrders(env.Ctx, &env.Tech, engine.SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)

	res, err = env.Engine.SearchWorkOrders(env.Ctx, &env.Tech, engine.SearchRequest{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Total)

	res, err = env.Engine.SearchWorkOrders(env.Ctx, &env.Tech, engine.SearchRequest{Statuses: []string{"in progress", "nonsense"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, boiler.ID, res.Results[0].ID)

	res, err = env.Engine.SearchWorkOrders(env.Ctx, &env.Tech, engine.SearchRequest{Search: "PUMP", Limit: 50, Priorities: []string{"high"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "Boiler", res.Results[0].Title)

	res, err = env.Engine.SearchWorkOrders(env.Ctx, &env.Tech, engine.SearchRequest{SortBy: "priority", SortDirection: "desc", Limit: 1})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "HIGH", res.Results[0].Priority)

	primary := env.Tech.ID
	res, err = env.Engine.SearchWorkOrders(env.Ctx, &env.Tech, engine.SearchRequest{AssignedToUserID: &primary, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	_, err = env.Engine.SearchWorkOrders(env.Ctx, &env.Tech, engine.SearchRequest{DueBefore: "soon"})
	requireKind(t, err, apperr.KindInvalidInput, "Invalid date format: soon")
}

func TestSearchAssets(t *testing.T) {
	env := newTestEnv(t)
	loc := env.Location
	tag := "CMP-1"
	_, err := env.Engine.Repo.InsertAsset(env.Ctx, nil, domain.Asset{CompanyID: env.CompanyID, Name: "Compressor", CustomID: &tag, Status: "DOWN_PLANNED", LocationID: &loc, UpdatedAt: fixedNow})
	require.NoError(t, err)
	_, err = env.Engine.Repo.InsertAsset(env.Ctx, nil, domain.Asset{CompanyID: env.CompanyID, Name: "Conveyor", UpdatedAt: fixedNow})
	require.NoError(t, err)
	_, err = env.Engine.Repo.InsertAsset(env.Ctx, nil, domain.Asset{CompanyID: env.OtherCompany, Name: "Compressor 2", UpdatedAt: fixedNow})
	require.NoError(t, err)

	res, err := env.Engine.SearchAssets(env.Ctx, &env.Tech, engine.AssetSearchRequest{Search: "cmp"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "Compressor", res.Results[0].Name)
	assert.Equal(t, "Plant A", res.Results[0].Location)
	assert.Equal(t, "CMP-1", res.Results[0].CustomID)

	res, err = env.Engine.SearchAssets(env.Ctx, &env.Tech, engine.AssetSearchRequest{Statuses: []string{"operational"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "Conveyor", res.Results[0].Name)
}

func TestWorkOrderDetails(t *testing.T) {
	env := newTestEnv(t)
	loc := env.Location
	tech := env.Tech.ID
	w := env.createWorkOrder(t, env.Admin, engine.CreateRequest{LocationID: &loc, PrimaryUserID: &tech, AssignedUserIDs: []int64{env.Tech.ID}})
	_, err := env.Engine.Repo.InsertTask(env.Ctx, nil, domain.Task{WorkOrderID: w.ID, Label: "Drain"})
	require.NoError(t, err)
	fileID, err := env.Engine.Repo.InsertFile(env.Ctx, nil, domain.File{CompanyID: env.CompanyID, Name: "manual.pdf", URL: "https://files/manual.pdf"})
	require.NoError(t, err)
	require.NoError(t, env.Engine.Repo.AttachFile(env.Ctx, nil, w.ID, fileID))
	env.setStatus(t, env.Tech, w.Code, "IN_PROGRESS", "")

	d, err := env.Engine.WorkOrderDetails(env.Ctx, &env.Tech, w.Code)
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", d.Status)
	require.NotNil(t, d.Location)
	assert.Equal(t, "Plant A", d.Location.Name)
	require.NotNil(t, d.PrimaryUser)
	assert.Equal(t, "Tom Tech", d.PrimaryUser.FullName)
	require.Len(t, d.AssignedUsers, 1)
	require.Len(t, d.Tasks, 1)
	assert.Equal(t, "Drain", d.Tasks[0].Label)
	require.Len(t, d.Labor, 1)
	assert.Equal(t, "Tom Tech", d.Labor[0].WorkerName)
	assert.Equal(t, "RUNNING", d.Labor[0].Status)
	require.Len(t, d.History, 2)
	assert.Equal(t, "Ada Admin", d.History[0].UserName)
	require.Len(t, d.Files, 1)
	assert.Equal(t, "manual.pdf", d.Files[0].Name)
}

func TestRecordToolInvocation(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.RecordToolInvocation(env.Ctx, &env.Tech, "search_work_orders", "corr-1", map[string]any{"limit": 3}, 2, nil)
	env.Engine.RecordToolInvocation(env.Ctx, &env.Tech, "update_work_order_status", "corr-1", nil, 0, apperr.NotFound("Work order not found"))

	logs, err := env.Engine.Repo.ListInvocations(env.Ctx, repoInvocations("corr-1"))
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, engine.InvocationFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, "Work order not found", *logs[0].ErrorMessage)
	assert.Equal(t, engine.InvocationCompleted, logs[1].Status)
	require.NotNil(t, logs[1].ResultCount)
	assert.Equal(t, 2, *logs[1].ResultCount)
	require.NotNil(t, logs[1].ArgumentsJSON)
	assert.JSONEq(t, `{"limit":3}`, *logs[1].ArgumentsJSON)
}
