package server

import (
	"context"
	"net/http"
	"reflect"

	"github.com/danielgtaylor/huma/v2"

	"maintline/internal/domain"
	"maintline/internal/engine"
)

const (
	toolSearchWorkOrders = "search_work_orders"
	toolSearchAssets     = "search_assets"
	toolCreateWorkOrder  = "create_work_order"
	toolUpdateStatus     = "update_work_order_status"
	toolWorkOrderDetails = "get_work_order_details"
	toolUpdateWorkOrder  = "update_work_order"
)

var toolErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
}

type workOrderPath struct {
	ID string `path:"id" doc:"Numeric id or work order code"`
}

// audit records one tool call under the request's correlation id.
func audit(ctx context.Context, e engine.Engine, actor *domain.User, tool string, args any, resultCount int, err error) {
	e.RecordToolInvocation(ctx, actor, tool, correlationIDFrom(ctx), args, resultCount, err)
}

func registerTools(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "search-work-orders",
		Method:      http.MethodPost,
		Path:        "/agent/tools/work-orders/search",
		Summary:     "Search work orders",
		Tags:        []string{"tools"},
		Errors:      toolErrors,
	}, func(ctx context.Context, input *struct {
		Body engine.SearchRequest `json:"body"`
	}) (*struct {
		Body engine.ToolResponse[engine.WorkOrderSummary] `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SearchWorkOrders(ctx, actor, input.Body)
		audit(ctx, e, actor, toolSearchWorkOrders, input.Body, res.Total, err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ToolResponse[engine.WorkOrderSummary] `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-assets",
		Method:      http.MethodPost,
		Path:        "/agent/tools/assets/search",
		Summary:     "Search assets",
		Tags:        []string{"tools"},
		Errors:      toolErrors,
	}, func(ctx context.Context, input *struct {
		Body engine.AssetSearchRequest `json:"body"`
	}) (*struct {
		Body engine.ToolResponse[engine.AssetSummary] `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SearchAssets(ctx, actor, input.Body)
		audit(ctx, e, actor, toolSearchAssets, input.Body, res.Total, err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ToolResponse[engine.AssetSummary] `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-work-order",
		Method:      http.MethodPost,
		Path:        "/agent/tools/work-orders/create",
		Summary:     "Create a work order",
		Tags:        []string{"tools"},
		Errors:      toolErrors,
	}, func(ctx context.Context, input *struct {
		Body engine.CreateRequest `json:"body"`
	}) (*struct {
		Body engine.CreateResult `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CreateWorkOrder(ctx, actor, input.Body)
		audit(ctx, e, actor, toolCreateWorkOrder, input.Body, 1, err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CreateResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-order-status",
		Method:      http.MethodPost,
		Path:        "/agent/tools/work-orders/update-status",
		Summary:     "Move a work order to a new status",
		Tags:        []string{"tools"},
		Errors: append([]int{
			http.StatusPreconditionFailed,
			http.StatusUnprocessableEntity,
		}, toolErrors...),
	}, func(ctx context.Context, input *struct {
		Body engine.StatusUpdateRequest `json:"body"`
	}) (*struct {
		Body engine.StatusUpdateResult `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.UpdateStatus(ctx, actor, input.Body)
		audit(ctx, e, actor, toolUpdateStatus, input.Body, 1, err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StatusUpdateResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "work-order-details",
		Method:      http.MethodPost,
		Path:        "/agent/tools/work-orders/{id}/details",
		Summary:     "Work order details",
		Tags:        []string{"tools"},
		Errors:      toolErrors,
	}, func(ctx context.Context, input *workOrderPath) (*struct {
		Body engine.Details `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.WorkOrderDetails(ctx, actor, input.ID)
		audit(ctx, e, actor, toolWorkOrderDetails, map[string]string{"workOrderId": input.ID}, 1, err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Details `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-order",
		Method:      http.MethodPost,
		Path:        "/agent/tools/work-orders/{id}/update",
		Summary:     "Update work order fields",
		Description: "Sparse update. Omitted members are left unchanged and members sent as null are cleared.",
		Tags:        []string{"tools"},
		Errors:      toolErrors,
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: api.OpenAPI().Components.Schemas.Schema(reflect.TypeOf(UpdateWorkOrderRequest{}), true, "UpdateWorkOrderRequest"),
				},
			},
		},
		// Members are decoded one by one from the raw body so null stays distinct from absent.
		SkipValidateBody: true,
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id" doc:"Numeric id or work order code"`
		RawBody []byte
	}) (*struct {
		Body engine.UpdateResult `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bodyMap := rawBodyMap(ctx)
		req, err := decodeUpdateRequest(bodyMap)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.UpdateWorkOrder(ctx, actor, input.ID, req)
		audit(ctx, e, actor, toolUpdateWorkOrder, bodyMap, len(res.UpdatedFields), err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.UpdateResult `json:"body"`
		}{Body: res}, nil
	})
}
