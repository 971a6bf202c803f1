package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"maintline/internal/apperr"
	"maintline/internal/domain"
	"maintline/internal/engine/auth"
	"maintline/internal/events"
)

const notificationTypeWorkOrder = "WORK_ORDER"

type CompletionData struct {
	SignatureFileID *int64  `json:"signatureFileId,omitempty"`
	Feedback        *string `json:"feedback,omitempty"`
}

type StatusUpdateRequest struct {
	WorkOrderID    string          `json:"workOrderId,omitempty"`
	NewStatus      string          `json:"newStatus,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	ReasonCode     *string         `json:"reasonCode,omitempty"`
	CompletionData *CompletionData `json:"completionData,omitempty"`
}

type StatusChange struct {
	ID             int64     `json:"id"`
	Code           string    `json:"code,omitempty"`
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus,omitempty"`
	UpdatedBy      string    `json:"updatedBy"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Notes          *string   `json:"notes,omitempty"`
	ReasonCode     *string   `json:"reasonCode,omitempty"`
}

type StatusUpdateResult struct {
	Success   bool         `json:"success"`
	WorkOrder StatusChange `json:"workOrder"`
	Actions   []string     `json:"actions"`
}

// ParseTargetStatus normalizes a free-text status ("in progress" -> IN_PROGRESS).
func ParseTargetStatus(candidate string) (domain.Status, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", apperr.InvalidInput("Target status is required")
	}
	status, ok := domain.ParseStatus(candidate)
	if !ok {
		return "", apperr.InvalidInput("Unsupported status: %s", candidate)
	}
	return status, nil
}

// UpdateStatus runs a status change in its own transaction.
func (e Engine) UpdateStatus(ctx context.Context, actor *domain.User, req StatusUpdateRequest) (StatusUpdateResult, error) {
	if err := auth.EnsureToolAccess(actor); err != nil {
		return StatusUpdateResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StatusUpdateResult{}, err
	}
	defer tx.Rollback()
	res, err := e.UpdateStatusTx(ctx, tx, *actor, req)
	if err != nil {
		return StatusUpdateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return StatusUpdateResult{}, err
	}
	e.logger().Info("work order status changed", "work_order_id", res.WorkOrder.ID,
		"from", res.WorkOrder.PreviousStatus, "to", res.WorkOrder.NewStatus, "actor_id", actor.ID)
	return res, nil
}

// UpdateStatusTx applies a status change inside tx. Nothing is written when
// any check fails.
func (e Engine) UpdateStatusTx(ctx context.Context, tx *sql.Tx, actor domain.User, req StatusUpdateRequest) (StatusUpdateResult, error) {
	if err := auth.EnsureToolAccess(&actor); err != nil {
		return StatusUpdateResult{}, err
	}
	target, err := ParseTargetStatus(req.NewStatus)
	if err != nil {
		return StatusUpdateResult{}, err
	}
	w, err := e.ResolveWorkOrder(ctx, tx, actor.CompanyID, req.WorkOrderID)
	if err != nil {
		return StatusUpdateResult{}, err
	}
	if w.Archived {
		return StatusUpdateResult{}, apperr.InvalidState("Archived work orders cannot be updated")
	}
	if err := e.ensureCanEdit(ctx, tx, actor, w); err != nil {
		return StatusUpdateResult{}, err
	}
	reason := ""
	if req.ReasonCode != nil {
		reason = *req.ReasonCode
	}
	plan, err := PlanTransition(TransitionInput{
		Current:          w.Status,
		Target:           target,
		Archived:         w.Archived,
		Manager:          auth.IsManager(actor),
		ReasonCode:       reason,
		StatusBeforeHold: w.StatusBeforeHold,
		Reacted:          w.FirstTimeToReact != nil,
	})
	if err != nil {
		return StatusUpdateResult{}, err
	}
	notes := trimmedPtr(req.Notes)
	actions, err := e.applyTransition(ctx, tx, actor, &w, plan, notes, req.CompletionData)
	if err != nil {
		return StatusUpdateResult{}, err
	}
	change := StatusChange{
		ID:             w.ID,
		Code:           w.Code,
		PreviousStatus: string(plan.From),
		NewStatus:      string(plan.To),
		UpdatedBy:      displayName(actor),
		UpdatedAt:      w.UpdatedAt,
		Notes:          w.StatusChangeNotes,
		ReasonCode:     w.OnHoldReasonCode,
	}
	return StatusUpdateResult{Success: true, WorkOrder: change, Actions: actions}, nil
}

func (e Engine) ensureCanEdit(ctx context.Context, tx *sql.Tx, actor domain.User, w domain.WorkOrder) error {
	ok, err := e.Auth.CanEdit(ctx, tx, actor, w)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("User cannot modify this work order")
	}
	return nil
}

// applyTransition performs the plan's side effects in order and writes the
// new status last. It returns the human-readable actions taken.
func (e Engine) applyTransition(ctx context.Context, tx *sql.Tx, actor domain.User, w *domain.WorkOrder, plan TransitionPlan, notes *string, completion *CompletionData) ([]string, error) {
	now := e.now()
	actions := []string{}

	if plan.StampFirstReaction {
		w.FirstTimeToReact = &now
	}
	w.StatusChangeNotes = notes
	if plan.EnterHold {
		from := plan.From
		reason := plan.ReasonCode
		w.StatusBeforeHold = &from
		w.OnHoldReasonCode = &reason
	} else if plan.LeaveHold {
		w.StatusBeforeHold = nil
		w.OnHoldReasonCode = nil
	}
	if err := e.applyCompletionData(ctx, tx, actor, w, completion); err != nil {
		return nil, err
	}
	if plan.EnterComplete {
		if err := e.enforceCompletionRequirements(ctx, tx, *w); err != nil {
			return nil, err
		}
		w.CompletedByID = &actor.ID
		w.CompletedOn = &now
		actions = append(actions, "Completion timestamp recorded")
	} else if plan.LeaveComplete {
		w.CompletedByID = nil
		w.CompletedOn = nil
	}
	laborActions, err := e.handleLaborTimers(ctx, tx, actor, w, plan, now)
	if err != nil {
		return nil, err
	}
	actions = append(actions, laborActions...)

	w.Status = plan.To
	w.UpdatedAt = now
	if err := e.Repo.UpdateWorkOrder(ctx, tx, *w); err != nil {
		return nil, err
	}
	if err := e.history().Append(ctx, tx, w.ID, &actor.ID, statusHistoryLine(plan, notes), events.Payload{
		"from":   plan.From,
		"to":     plan.To,
		"reason": plan.ReasonCode,
	}); err != nil {
		return nil, err
	}
	sent, err := e.queueStatusNotifications(ctx, tx, actor, *w, now)
	if err != nil {
		return nil, err
	}
	if sent > 0 {
		actions = append(actions, "Notification sent to assigned users")
	}
	return actions, nil
}

func (e Engine) applyCompletionData(ctx context.Context, tx *sql.Tx, actor domain.User, w *domain.WorkOrder, data *CompletionData) error {
	if data == nil {
		return nil
	}
	if data.SignatureFileID != nil {
		if err := e.ensureInCompany(ctx, tx, "files", "Signature file", *data.SignatureFileID, actor.CompanyID); err != nil {
			return err
		}
		id := *data.SignatureFileID
		w.SignatureFileID = &id
	}
	if data.Feedback != nil {
		w.Feedback = trimmedPtr(data.Feedback)
	}
	return nil
}

func (e Engine) enforceCompletionRequirements(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	if w.RequireSignature && w.SignatureFileID == nil {
		return apperr.PreconditionFailed("Signature required to complete this work order")
	}
	tasks, err := e.Repo.ListTasks(ctx, tx, w.ID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Incomplete() {
			return apperr.PreconditionFailed("Complete all tasks before closing the work order")
		}
	}
	return nil
}

func (e Engine) handleLaborTimers(ctx context.Context, tx *sql.Tx, actor domain.User, w *domain.WorkOrder, plan TransitionPlan, now time.Time) ([]string, error) {
	var actions []string
	running, err := e.Repo.ListRunningLabor(ctx, tx, w.ID)
	if err != nil {
		return nil, err
	}
	if plan.StartLabor {
		alreadyRunning := false
		for _, l := range running {
			if l.UserID == actor.ID {
				alreadyRunning = true
				break
			}
		}
		if !alreadyRunning {
			if _, err := e.Repo.InsertLabor(ctx, tx, domain.Labor{
				WorkOrderID: w.ID,
				UserID:      actor.ID,
				Status:      domain.LaborRunning,
				StartedAt:   now,
			}); err != nil {
				return nil, fmt.Errorf("start labor: %w", err)
			}
			actions = append(actions, "Labor timer started for "+displayName(actor))
		}
		if w.PrimaryUserID == nil {
			w.PrimaryUserID = &actor.ID
		}
	}
	if plan.StopLabor && len(running) > 0 {
		ids := make([]int64, 0, len(running))
		for _, l := range running {
			ids = append(ids, l.UserID)
		}
		users, err := e.userNames(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
		stopped := make([]string, 0, len(running))
		for _, l := range running {
			if err := e.Repo.StopLabor(ctx, tx, l, now); err != nil {
				return nil, fmt.Errorf("stop labor %d: %w", l.ID, err)
			}
			name := "technician"
			if u, ok := users[l.UserID]; ok {
				name = displayName(u)
			}
			stopped = append(stopped, name)
		}
		actions = append(actions, "Labor timers stopped for "+strings.Join(stopped, ", "))
	}
	return actions, nil
}

func statusHistoryLine(plan TransitionPlan, notes *string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status changed from %s to %s", plan.From, plan.To)
	if notes != nil {
		b.WriteString(" • ")
		b.WriteString(*notes)
	}
	if plan.EnterHold && plan.ReasonCode != "" {
		b.WriteString(" • reason: ")
		b.WriteString(plan.ReasonCode)
	}
	return b.String()
}

// queueStatusNotifications writes one outbox row per enabled recipient other
// than the actor and returns how many were queued.
func (e Engine) queueStatusNotifications(ctx context.Context, tx *sql.Tx, actor domain.User, w domain.WorkOrder, now time.Time) (int, error) {
	recipients := append([]int64{}, w.AssignedUserIDs...)
	if w.PrimaryUserID != nil {
		recipients = append(recipients, *w.PrimaryUserID)
	}
	users, err := e.userNames(ctx, tx, recipients)
	if err != nil {
		return 0, err
	}
	message := fmt.Sprintf("%s set \"%s\" to %s", displayName(actor), w.Title, w.Status.Label())
	seen := map[int64]bool{}
	sent := 0
	for _, id := range recipients {
		u, ok := users[id]
		if !ok || seen[id] || !u.Enabled || id == actor.ID {
			continue
		}
		seen[id] = true
		if _, err := e.Repo.InsertNotification(ctx, tx, domain.Notification{
			CompanyID:  w.CompanyID,
			UserID:     id,
			Type:       notificationTypeWorkOrder,
			ResourceID: w.ID,
			Message:    message,
			CreatedAt:  now,
		}); err != nil {
			return 0, fmt.Errorf("queue notification: %w", err)
		}
		sent++
	}
	return sent, nil
}
