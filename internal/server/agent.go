package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"maintline/internal/agent"
)

type draftPath struct {
	ID int64 `path:"id" doc:"Draft action id"`
}

func agentDisabled() huma.StatusError {
	return newAPIError(http.StatusNotImplemented, "not_implemented", "ChatKit agent integration is not enabled for this environment.", nil)
}

func registerAgent(api huma.API, svc agent.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-chat",
		Method:      http.MethodPost,
		Path:        "/agent/chat",
		Summary:     "Send a prompt to the agent runtime",
		Tags:        []string{"agent"},
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotImplemented,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body agent.PromptRequest `json:"body"`
	}) (*struct {
		Status int
		Body   agent.ChatResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reqSvc := svc
		reqSvc.NewID = func() string { return correlationIDFrom(ctx) }
		if !reqSvc.Enabled() {
			return &struct {
				Status int
				Body   agent.ChatResponse `json:"body"`
			}{Status: http.StatusNotImplemented, Body: reqSvc.DisabledResponse(input.Body)}, nil
		}
		res, err := reqSvc.HandlePrompt(ctx, actor, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Status int
			Body   agent.ChatResponse `json:"body"`
		}{Status: http.StatusOK, Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drafts",
		Method:      http.MethodGet,
		Path:        "/agent/drafts",
		Summary:     "List pending draft actions",
		Tags:        []string{"agent"},
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotImplemented,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DraftListResponse `json:"body"`
	}, error) {
		if !svc.Enabled() {
			return nil, agentDisabled()
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		drafts, err := svc.ListPendingDrafts(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if drafts == nil {
			drafts = []agent.DraftView{}
		}
		return &struct {
			Body DraftListResponse `json:"body"`
		}{Body: DraftListResponse{Drafts: drafts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-draft",
		Method:      http.MethodPost,
		Path:        "/agent/drafts/{id}/confirm",
		Summary:     "Confirm and apply a draft action",
		Tags:        []string{"agent"},
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusPreconditionFailed,
			http.StatusUnprocessableEntity,
			http.StatusNotImplemented,
		},
	}, func(ctx context.Context, input *draftPath) (*struct {
		Body agent.DraftView `json:"body"`
	}, error) {
		if !svc.Enabled() {
			return nil, agentDisabled()
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := svc.ConfirmDraft(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body agent.DraftView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-draft",
		Method:      http.MethodDelete,
		Path:        "/agent/drafts/{id}",
		Summary:     "Decline a draft action",
		Tags:        []string{"agent"},
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusNotImplemented,
		},
	}, func(ctx context.Context, input *draftPath) (*struct {
		Body agent.DraftView `json:"body"`
	}, error) {
		if !svc.Enabled() {
			return nil, agentDisabled()
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := svc.DeclineDraft(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body agent.DraftView `json:"body"`
		}{Body: view}, nil
	})
}
