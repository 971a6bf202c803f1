package server

import (
	"encoding/json"

	"maintline/internal/agent"
	"maintline/internal/apperr"
	"maintline/internal/engine"
)

// UpdateWorkOrderRequest documents the field-update body. Members that are
// absent stay unchanged; members sent as null are cleared.
type UpdateWorkOrderRequest struct {
	Title                  *string  `json:"title,omitempty"`
	Description            *string  `json:"description,omitempty"`
	Priority               *string  `json:"priority,omitempty" enum:"NONE,LOW,MEDIUM,HIGH"`
	DueDate                *string  `json:"dueDate,omitempty"`
	EstimatedStartDate     *string  `json:"estimatedStartDate,omitempty"`
	EstimatedDurationHours *float64 `json:"estimatedDurationHours,omitempty"`
	RequireSignature       *bool    `json:"requireSignature,omitempty"`
	LocationID             *int64   `json:"locationId,omitempty"`
	AssetID                *int64   `json:"assetId,omitempty"`
	TeamID                 *int64   `json:"teamId,omitempty"`
	PrimaryUserID          *int64   `json:"primaryUserId,omitempty"`
	AssignedUserIDs        []int64  `json:"assignedUserIds,omitempty"`
	CategoryID             *int64   `json:"categoryId,omitempty"`
}

type DraftListResponse struct {
	Drafts []agent.DraftView `json:"drafts"`
}

// decodeUpdateRequest builds a sparse patch from raw body members so that an
// explicit null can be told apart from an omitted member.
func decodeUpdateRequest(raw map[string]json.RawMessage) (engine.UpdateRequest, error) {
	var (
		req engine.UpdateRequest
		err error
	)
	if req.Title, err = patchField[string](raw, "title"); err != nil {
		return req, err
	}
	if req.Description, err = patchField[string](raw, "description"); err != nil {
		return req, err
	}
	if req.Priority, err = patchField[string](raw, "priority"); err != nil {
		return req, err
	}
	if req.DueDate, err = patchField[string](raw, "dueDate"); err != nil {
		return req, err
	}
	if req.EstimatedStartDate, err = patchField[string](raw, "estimatedStartDate"); err != nil {
		return req, err
	}
	if req.EstimatedDurationHours, err = patchField[float64](raw, "estimatedDurationHours"); err != nil {
		return req, err
	}
	if req.RequireSignature, err = patchField[bool](raw, "requireSignature"); err != nil {
		return req, err
	}
	if req.LocationID, err = patchField[int64](raw, "locationId"); err != nil {
		return req, err
	}
	if req.AssetID, err = patchField[int64](raw, "assetId"); err != nil {
		return req, err
	}
	if req.TeamID, err = patchField[int64](raw, "teamId"); err != nil {
		return req, err
	}
	if req.PrimaryUserID, err = patchField[int64](raw, "primaryUserId"); err != nil {
		return req, err
	}
	if req.AssignedUserIDs, err = patchField[[]int64](raw, "assignedUserIds"); err != nil {
		return req, err
	}
	if req.CategoryID, err = patchField[int64](raw, "categoryId"); err != nil {
		return req, err
	}
	return req, nil
}

func patchField[T any](raw map[string]json.RawMessage, key string) (engine.Field[T], error) {
	value, ok := raw[key]
	if !ok {
		return engine.Field[T]{}, nil
	}
	if isNullRaw(value) {
		return engine.Null[T](), nil
	}
	var out T
	if err := json.Unmarshal(value, &out); err != nil {
		return engine.Field[T]{}, apperr.InvalidInput("Invalid value for %s", key).WithDetail("field", key)
	}
	return engine.Value(out), nil
}
