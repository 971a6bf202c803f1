package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"maintline/internal/apperr"
	"maintline/internal/domain"
	"maintline/internal/engine/auth"
	"maintline/internal/events"
	"maintline/internal/repo"
)

// CreateRequest carries plain foreign-key ids; each is tenant-checked.
type CreateRequest struct {
	Code                   string   `json:"code,omitempty"`
	Title                  string   `json:"title,omitempty"`
	Description            string   `json:"description,omitempty"`
	Priority               string   `json:"priority,omitempty"`
	DueDate                string   `json:"dueDate,omitempty"`
	EstimatedStartDate     string   `json:"estimatedStartDate,omitempty"`
	EstimatedDurationHours *float64 `json:"estimatedDurationHours,omitempty"`
	RequireSignature       *bool    `json:"requireSignature,omitempty"`
	LocationID             *int64   `json:"locationId,omitempty"`
	AssetID                *int64   `json:"assetId,omitempty"`
	TeamID                 *int64   `json:"teamId,omitempty"`
	PrimaryUserID          *int64   `json:"primaryUserId,omitempty"`
	AssignedUserIDs        []int64  `json:"assignedUserIds,omitempty"`
	CategoryID             *int64   `json:"categoryId,omitempty"`
}

type CreatedWorkOrder struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code,omitempty"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateResult struct {
	Success   bool             `json:"success"`
	WorkOrder CreatedWorkOrder `json:"workOrder"`
	Message   string           `json:"message"`
}

func (e Engine) CreateWorkOrder(ctx context.Context, actor *domain.User, req CreateRequest) (CreateResult, error) {
	if err := auth.EnsureToolAccess(actor); err != nil {
		return CreateResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CreateResult{}, err
	}
	defer tx.Rollback()
	w, err := e.CreateWorkOrderTx(ctx, tx, *actor, req)
	if err != nil {
		return CreateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CreateResult{}, err
	}
	e.logger().Info("work order created", "work_order_id", w.ID, "code", w.Code, "actor_id", actor.ID)
	return CreateResult{
		Success: true,
		WorkOrder: CreatedWorkOrder{
			ID:        w.ID,
			Code:      w.Code,
			Title:     w.Title,
			Status:    string(w.Status),
			Priority:  string(w.Priority),
			CreatedAt: w.CreatedAt,
		},
		Message: "Work order created successfully",
	}, nil
}

// CreateWorkOrderTx persists a new OPEN work order inside tx.
func (e Engine) CreateWorkOrderTx(ctx context.Context, tx *sql.Tx, actor domain.User, req CreateRequest) (domain.WorkOrder, error) {
	if err := auth.EnsureToolAccess(&actor); err != nil {
		return domain.WorkOrder{}, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.WorkOrder{}, apperr.InvalidInput("Work order title is required")
	}
	now := e.now()
	w := domain.WorkOrder{
		Code:        strings.TrimSpace(req.Code),
		CompanyID:   actor.CompanyID,
		Title:       title,
		Description: trimmedPtr(&req.Description),
		Status:      domain.StatusOpen,
		Priority:    domain.PriorityLow,
		CreatedByID: &actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p, ok := domain.ParsePriority(req.Priority); ok {
		w.Priority = p
	}
	var err error
	if w.DueDate, err = ParseDate(req.DueDate); err != nil {
		return domain.WorkOrder{}, err
	}
	if w.EstimatedStartDate, err = ParseDate(req.EstimatedStartDate); err != nil {
		return domain.WorkOrder{}, err
	}
	if req.EstimatedDurationHours != nil {
		w.EstimatedDuration = *req.EstimatedDurationHours
	}
	if req.RequireSignature != nil {
		w.RequireSignature = *req.RequireSignature
	}
	refs := []struct {
		table, label string
		id           *int64
		dst          **int64
	}{
		{"locations", "Location", req.LocationID, &w.LocationID},
		{"assets", "Asset", req.AssetID, &w.AssetID},
		{"teams", "Team", req.TeamID, &w.TeamID},
		{"users", "User", req.PrimaryUserID, &w.PrimaryUserID},
		{"categories", "Category", req.CategoryID, &w.CategoryID},
	}
	for _, ref := range refs {
		if ref.id == nil {
			continue
		}
		if err := e.ensureInCompany(ctx, tx, ref.table, ref.label, *ref.id, actor.CompanyID); err != nil {
			return domain.WorkOrder{}, err
		}
		id := *ref.id
		*ref.dst = &id
	}
	if w.AssignedUserIDs, err = e.checkAssignees(ctx, tx, req.AssignedUserIDs, actor.CompanyID); err != nil {
		return domain.WorkOrder{}, err
	}
	if w.Code != "" {
		if _, err := e.Repo.GetWorkOrderByCode(ctx, tx, actor.CompanyID, w.Code); err == nil {
			return domain.WorkOrder{}, apperr.Conflict("Work order code %s already exists", w.Code)
		} else if !isNotFound(err) {
			return domain.WorkOrder{}, err
		}
	}
	id, err := e.Repo.InsertWorkOrder(ctx, tx, w)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	w.ID = id
	if w.Code == "" {
		w.Code = fmt.Sprintf("WO-%06d", id)
		if err := e.Repo.SetWorkOrderCode(ctx, tx, id, w.Code); err != nil {
			return domain.WorkOrder{}, err
		}
	}
	if err := e.history().Append(ctx, tx, w.ID, &actor.ID, "Work order created by agent", events.Payload{"code": w.Code}); err != nil {
		return domain.WorkOrder{}, err
	}
	return w, nil
}

func (e Engine) checkAssignees(ctx context.Context, tx *sql.Tx, ids []int64, companyID int64) ([]int64, error) {
	var out []int64
	seen := map[int64]bool{}
	for _, uid := range ids {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		if err := e.ensureInCompany(ctx, tx, "users", fmt.Sprintf("User with ID %d", uid), uid, companyID); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, nil
}

// UpdateRequest is a sparse patch; only Set fields are applied.
type UpdateRequest struct {
	Title                  Field[string]
	Description            Field[string]
	Priority               Field[string]
	DueDate                Field[string]
	EstimatedStartDate     Field[string]
	EstimatedDurationHours Field[float64]
	RequireSignature       Field[bool]
	LocationID             Field[int64]
	AssetID                Field[int64]
	TeamID                 Field[int64]
	PrimaryUserID          Field[int64]
	AssignedUserIDs        Field[[]int64]
	CategoryID             Field[int64]
}

type UpdatedWorkOrder struct {
	ID                int64      `json:"id"`
	Code              string     `json:"code,omitempty"`
	Title             string     `json:"title"`
	Description       *string    `json:"description,omitempty"`
	Status            string     `json:"status"`
	Priority          string     `json:"priority"`
	DueDate           *time.Time `json:"dueDate,omitempty"`
	PrimaryUserName   string     `json:"primaryUserName,omitempty"`
	AssignedUserNames []string   `json:"assignedUserNames"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type UpdateResult struct {
	Success       bool             `json:"success"`
	WorkOrder     UpdatedWorkOrder `json:"workOrder"`
	Message       string           `json:"message"`
	UpdatedFields []string         `json:"updatedFields"`
}

// UpdateWorkOrder applies a sparse field patch to the identified work order.
func (e Engine) UpdateWorkOrder(ctx context.Context, actor *domain.User, identifier string, req UpdateRequest) (UpdateResult, error) {
	if err := auth.EnsureToolAccess(actor); err != nil {
		return UpdateResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return UpdateResult{}, err
	}
	defer tx.Rollback()

	w, err := e.ResolveWorkOrder(ctx, tx, actor.CompanyID, identifier)
	if err != nil {
		return UpdateResult{}, err
	}
	if w.Archived {
		return UpdateResult{}, apperr.Forbidden("Archived work orders cannot be updated")
	}
	if err := e.ensureCanEdit(ctx, tx, *actor, w); err != nil {
		return UpdateResult{}, err
	}
	updated, err := e.applyPatch(ctx, tx, actor.CompanyID, &w, req)
	if err != nil {
		return UpdateResult{}, err
	}
	w.UpdatedAt = e.now()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return UpdateResult{}, err
	}
	if len(updated) > 0 {
		if err := e.history().Append(ctx, tx, w.ID, &actor.ID, "Agent updated: "+strings.Join(updated, ", "), events.Payload{"fields": updated}); err != nil {
			return UpdateResult{}, err
		}
	}
	summary, err := e.updatedSummary(ctx, tx, w)
	if err != nil {
		return UpdateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Success: true, WorkOrder: summary, Message: "Work order updated successfully", UpdatedFields: updated}, nil
}

func (e Engine) applyPatch(ctx context.Context, tx *sql.Tx, companyID int64, w *domain.WorkOrder, req UpdateRequest) ([]string, error) {
	updated := []string{}
	if req.Title.Set {
		title := strings.TrimSpace(req.Title.Value)
		if req.Title.Null || title == "" {
			return nil, apperr.InvalidInput("Title cannot be empty")
		}
		w.Title = title
		updated = append(updated, "title")
	}
	if req.Description.Set {
		if req.Description.Null {
			w.Description = nil
		} else {
			d := strings.TrimSpace(req.Description.Value)
			w.Description = &d
		}
		updated = append(updated, "description")
	}
	if req.Priority.Set && !req.Priority.Null && strings.TrimSpace(req.Priority.Value) != "" {
		p, ok := domain.ParsePriority(req.Priority.Value)
		if !ok {
			return nil, apperr.InvalidInput("Unsupported priority: %s", req.Priority.Value)
		}
		w.Priority = p
		updated = append(updated, "priority")
	}
	for _, df := range []struct {
		name  string
		field Field[string]
		dst   **time.Time
	}{
		{"dueDate", req.DueDate, &w.DueDate},
		{"estimatedStartDate", req.EstimatedStartDate, &w.EstimatedStartDate},
	} {
		if !df.field.Set {
			continue
		}
		var t *time.Time
		if !df.field.Null {
			var err error
			if t, err = ParseDate(df.field.Value); err != nil {
				return nil, err
			}
		}
		*df.dst = t
		updated = append(updated, df.name)
	}
	if req.EstimatedDurationHours.Set {
		w.EstimatedDuration = 0
		if !req.EstimatedDurationHours.Null {
			w.EstimatedDuration = req.EstimatedDurationHours.Value
		}
		updated = append(updated, "estimatedDuration")
	}
	if req.RequireSignature.Set {
		w.RequireSignature = !req.RequireSignature.Null && req.RequireSignature.Value
		updated = append(updated, "requireSignature")
	}
	refs := []struct {
		name, table, label string
		field              Field[int64]
		dst                **int64
	}{
		{"location", "locations", "Location", req.LocationID, &w.LocationID},
		{"asset", "assets", "Asset", req.AssetID, &w.AssetID},
		{"team", "teams", "Team", req.TeamID, &w.TeamID},
		{"primaryUser", "users", "User", req.PrimaryUserID, &w.PrimaryUserID},
	}
	for _, ref := range refs {
		if !ref.field.Set {
			continue
		}
		if err := e.patchRef(ctx, tx, companyID, ref.table, ref.label, ref.field, ref.dst); err != nil {
			return nil, err
		}
		updated = append(updated, ref.name)
	}
	if req.AssignedUserIDs.Set {
		var ids []int64
		if !req.AssignedUserIDs.Null {
			var err error
			if ids, err = e.checkAssignees(ctx, tx, req.AssignedUserIDs.Value, companyID); err != nil {
				return nil, err
			}
		}
		w.AssignedUserIDs = ids
		updated = append(updated, "assignedUsers")
	}
	if req.CategoryID.Set {
		if err := e.patchRef(ctx, tx, companyID, "categories", "Category", req.CategoryID, &w.CategoryID); err != nil {
			return nil, err
		}
		updated = append(updated, "category")
	}
	return updated, nil
}

func (e Engine) patchRef(ctx context.Context, tx *sql.Tx, companyID int64, table, label string, f Field[int64], dst **int64) error {
	if f.Null {
		*dst = nil
		return nil
	}
	if err := e.ensureInCompany(ctx, tx, table, label, f.Value, companyID); err != nil {
		return err
	}
	id := f.Value
	*dst = &id
	return nil
}

func (e Engine) updatedSummary(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) (UpdatedWorkOrder, error) {
	ids := append([]int64{}, w.AssignedUserIDs...)
	if w.PrimaryUserID != nil {
		ids = append(ids, *w.PrimaryUserID)
	}
	users, err := e.userNames(ctx, tx, ids)
	if err != nil {
		return UpdatedWorkOrder{}, err
	}
	s := UpdatedWorkOrder{
		ID:                w.ID,
		Code:              w.Code,
		Title:             w.Title,
		Description:       w.Description,
		Status:            string(w.Status),
		Priority:          string(w.Priority),
		DueDate:           w.DueDate,
		AssignedUserNames: []string{},
		UpdatedAt:         w.UpdatedAt,
	}
	if w.PrimaryUserID != nil {
		s.PrimaryUserName = displayName(users[*w.PrimaryUserID])
	}
	for _, id := range w.AssignedUserIDs {
		s.AssignedUserNames = append(s.AssignedUserNames, displayName(users[id]))
	}
	return s, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
