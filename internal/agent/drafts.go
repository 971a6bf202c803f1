package agent

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"maintline/internal/apperr"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/engine/auth"
	"maintline/internal/repo"
)

const (
	resultCreated         = "Work order created."
	resultCompleted       = "Work order marked as complete."
	resultAlreadyComplete = "Work order already complete."
)

type DraftView struct {
	ID             int64     `json:"id"`
	AgentSessionID string    `json:"agentSessionId"`
	OperationType  string    `json:"operationType"`
	Payload        string    `json:"payload"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func draftView(d domain.DraftAction) DraftView {
	return DraftView{
		ID:             d.ID,
		AgentSessionID: d.AgentSessionID,
		OperationType:  d.OperationType,
		Payload:        d.Payload,
		Status:         string(d.Status),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// ListPendingDrafts returns the actor's pending drafts, newest first.
func (s Service) ListPendingDrafts(ctx context.Context, actor *domain.User) ([]DraftView, error) {
	if actor == nil {
		return nil, apperr.Unauthorized("Authentication required")
	}
	drafts, err := s.Engine.Repo.ListPendingDrafts(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	out := make([]DraftView, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, draftView(d))
	}
	return out, nil
}

func (s Service) loadDraft(ctx context.Context, tx *sql.Tx, actor *domain.User, draftID int64) (domain.DraftAction, error) {
	if actor == nil {
		return domain.DraftAction{}, apperr.Unauthorized("Authentication required")
	}
	d, err := s.Engine.Repo.GetDraftForUser(ctx, tx, draftID, actor.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.DraftAction{}, apperr.NotFound("Draft action not found")
	}
	return d, err
}

// ConfirmDraft applies a pending draft and marks it applied in the same
// transaction. A failed apply leaves the draft failed and returns the cause.
func (s Service) ConfirmDraft(ctx context.Context, actor *domain.User, draftID int64) (DraftView, error) {
	d, err := s.loadDraft(ctx, nil, actor, draftID)
	if err != nil {
		return DraftView{}, err
	}
	if !d.IsPending() {
		return DraftView{}, apperr.Conflict("Draft action already processed")
	}
	lc := newLifecycle(d.Status)
	next, err := lc.fire(ctx, triggerApply)
	if err != nil {
		return DraftView{}, err
	}

	tx, err := s.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return DraftView{}, err
	}
	defer tx.Rollback()

	payload, err := s.apply(ctx, tx, *actor, d)
	if err != nil {
		tx.Rollback()
		return DraftView{}, s.markFailed(ctx, actor, d, err)
	}
	encoded, err := payload.encode()
	if err != nil {
		tx.Rollback()
		return DraftView{}, s.markFailed(ctx, actor, d, err)
	}
	now := s.now()
	ok, err := s.Engine.Repo.TransitionDraft(ctx, tx, d.ID, actor.ID, domain.DraftPending, next, encoded, now)
	if err != nil {
		return DraftView{}, err
	}
	if !ok {
		return DraftView{}, apperr.Conflict("Draft action already processed")
	}
	if err := tx.Commit(); err != nil {
		return DraftView{}, err
	}
	s.logger().Info("draft action applied", "draft_id", d.ID, "operation", d.OperationType, "user_id", actor.ID)
	d.Status, d.Payload, d.UpdatedAt = next, encoded, now
	return draftView(d), nil
}

// markFailed records the failure outside the rolled-back transaction and
// returns the error to surface.
func (s Service) markFailed(ctx context.Context, actor *domain.User, d domain.DraftAction, cause error) error {
	next, err := newLifecycle(d.Status).fire(ctx, triggerFail)
	if err == nil {
		_, err = s.Engine.Repo.TransitionDraft(ctx, nil, d.ID, actor.ID, domain.DraftPending, next, "", s.now())
	}
	if err != nil {
		s.logger().Error("mark draft failed", "draft_id", d.ID, "error", err)
	}
	var appErr *apperr.Error
	if errors.As(cause, &appErr) {
		s.logger().Warn("draft action rejected", "draft_id", d.ID, "operation", d.OperationType, "error", cause)
		return cause
	}
	s.logger().Error("unexpected error while applying draft action", "draft_id", d.ID, "operation", d.OperationType, "error", cause)
	return apperr.Wrap(cause, apperr.KindInternal, "Failed to apply draft action")
}

func (s Service) apply(ctx context.Context, tx *sql.Tx, actor domain.User, d domain.DraftAction) (draftPayload, error) {
	if err := auth.EnsureToolAccess(&actor); err != nil {
		return nil, err
	}
	payload, err := parsePayload(d.Payload)
	if err != nil {
		return nil, err
	}
	op, err := DecodeOperation(d.OperationType, payload)
	if err != nil {
		return nil, err
	}
	switch op := op.(type) {
	case CompleteWorkOrder:
		result, err := s.completeWorkOrder(ctx, tx, actor, op)
		if err != nil {
			return nil, err
		}
		payload["result"] = result
	case CreateWorkOrder:
		w, err := s.Engine.CreateWorkOrderTx(ctx, tx, actor, op.Request)
		if err != nil {
			return nil, err
		}
		data := payload.dataSection()
		data["workOrderId"] = w.ID
		data["workOrderCode"] = w.Code
		data["status"] = string(w.Status)
		payload["data"] = data
		payload["result"] = resultCreated
		if op.Summary != "" {
			payload["summary"] = op.Summary
		}
	default:
		return nil, apperr.NotImplemented("Unsupported draft operation: %s", d.OperationType)
	}
	payload["appliedAt"] = s.now().Format(time.RFC3339Nano)
	return payload, nil
}

func (s Service) completeWorkOrder(ctx context.Context, tx *sql.Tx, actor domain.User, op CompleteWorkOrder) (string, error) {
	w, err := s.Engine.ResolveWorkOrder(ctx, tx, actor.CompanyID, op.WorkOrderID)
	if err != nil {
		return "", err
	}
	if w.Status == domain.StatusComplete {
		return resultAlreadyComplete, nil
	}
	steps := []struct {
		status domain.Status
		notes  string
	}{
		{domain.StatusInProgress, "Started via agent"},
		{domain.StatusComplete, "Completed via agent"},
	}
	if w.Status != domain.StatusOpen {
		steps = steps[1:]
	}
	for _, step := range steps {
		notes := step.notes
		req := engine.StatusUpdateRequest{WorkOrderID: op.WorkOrderID, NewStatus: string(step.status), Notes: &notes}
		if _, err := s.Engine.UpdateStatusTx(ctx, tx, actor, req); err != nil {
			return "", err
		}
	}
	return resultCompleted, nil
}

// DeclineDraft marks a pending draft declined. Declining twice is a no-op.
// Applied or failed drafts yield Conflict.
func (s Service) DeclineDraft(ctx context.Context, actor *domain.User, draftID int64) (DraftView, error) {
	d, err := s.loadDraft(ctx, nil, actor, draftID)
	if err != nil {
		return DraftView{}, err
	}
	next, err := newLifecycle(d.Status).fire(ctx, triggerDecline)
	if err != nil {
		return DraftView{}, err
	}
	if !d.IsPending() {
		return draftView(d), nil
	}
	now := s.now()
	ok, err := s.Engine.Repo.TransitionDraft(ctx, nil, d.ID, actor.ID, domain.DraftPending, next, "", now)
	if err != nil {
		return DraftView{}, err
	}
	if !ok {
		return DraftView{}, apperr.Conflict("Draft action already processed")
	}
	s.logger().Info("draft action declined", "draft_id", d.ID, "user_id", actor.ID)
	d.Status, d.UpdatedAt = next, now
	return draftView(d), nil
}
