package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"maintline/internal/domain"
)

const workOrderColumns = `id,COALESCE(code,''),company_id,title,description,status,archived,priority,due_date,estimated_start_date,
estimated_duration,require_signature,primary_user_id,team_id,category_id,location_id,asset_id,completed_by_id,completed_on,
signature_file_id,feedback,on_hold_reason_code,status_before_hold,status_change_notes,first_time_to_react,created_by_id,created_at,updated_at`

func scanWorkOrder(row scanner) (domain.WorkOrder, error) {
	var (
		w                                                                   domain.WorkOrder
		description, feedback, reason, before, notes                        sql.NullString
		due, estStart, completedOn, firstReact                              sql.NullString
		primary, team, category, location, asset, completedBy, sig, creator sql.NullInt64
		archived, requireSig                                                int
		status, priority, createdAt, updatedAt                              string
	)
	err := row.Scan(&w.ID, &w.Code, &w.CompanyID, &w.Title, &description, &status, &archived, &priority, &due, &estStart,
		&w.EstimatedDuration, &requireSig, &primary, &team, &category, &location, &asset, &completedBy, &completedOn,
		&sig, &feedback, &reason, &before, &notes, &firstReact, &creator, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Status = domain.Status(status)
	w.Priority = domain.Priority(priority)
	w.Archived = archived != 0
	w.RequireSignature = requireSig != 0
	w.Description = stringPtr(description)
	w.Feedback = stringPtr(feedback)
	w.OnHoldReasonCode = stringPtr(reason)
	w.StatusChangeNotes = stringPtr(notes)
	if before.Valid {
		s := domain.Status(before.String)
		w.StatusBeforeHold = &s
	}
	w.PrimaryUserID = int64Ptr(primary)
	w.TeamID = int64Ptr(team)
	w.CategoryID = int64Ptr(category)
	w.LocationID = int64Ptr(location)
	w.AssetID = int64Ptr(asset)
	w.CompletedByID = int64Ptr(completedBy)
	w.SignatureFileID = int64Ptr(sig)
	w.CreatedByID = int64Ptr(creator)
	for _, pair := range []struct {
		src sql.NullString
		dst **time.Time
	}{{due, &w.DueDate}, {estStart, &w.EstimatedStartDate}, {completedOn, &w.CompletedOn}, {firstReact, &w.FirstTimeToReact}} {
		t, err := parseNullTime(pair.src)
		if err != nil {
			return w, fmt.Errorf("work order %d: %w", w.ID, err)
		}
		*pair.dst = t
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return w, err
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return w, err
	}
	return w, nil
}

func statusPtrValue(s *domain.Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

// InsertWorkOrder stores w and its assignees, returning the new id.
func (r Repo) InsertWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) (int64, error) {
	q := r.q(tx)
	res, err := q.ExecContext(ctx, `INSERT INTO work_orders(code,company_id,title,description,status,archived,priority,due_date,
estimated_start_date,estimated_duration,require_signature,primary_user_id,team_id,category_id,location_id,asset_id,
completed_by_id,completed_on,signature_file_id,feedback,on_hold_reason_code,status_before_hold,status_change_notes,
first_time_to_react,created_by_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullable(w.Code), w.CompanyID, w.Title, nullableStringPtr(w.Description), string(w.Status), boolInt(w.Archived),
		string(w.Priority), formatTimePtr(w.DueDate), formatTimePtr(w.EstimatedStartDate), w.EstimatedDuration,
		boolInt(w.RequireSignature), nullableInt64Ptr(w.PrimaryUserID), nullableInt64Ptr(w.TeamID),
		nullableInt64Ptr(w.CategoryID), nullableInt64Ptr(w.LocationID), nullableInt64Ptr(w.AssetID),
		nullableInt64Ptr(w.CompletedByID), formatTimePtr(w.CompletedOn), nullableInt64Ptr(w.SignatureFileID),
		nullableStringPtr(w.Feedback), nullableStringPtr(w.OnHoldReasonCode), statusPtrValue(w.StatusBeforeHold),
		nullableStringPtr(w.StatusChangeNotes), formatTimePtr(w.FirstTimeToReact), nullableInt64Ptr(w.CreatedByID),
		formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert work order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := r.replaceAssignees(ctx, q, id, w.AssignedUserIDs); err != nil {
		return 0, err
	}
	return id, nil
}

// SetWorkOrderCode assigns the human-readable code after insert.
func (r Repo) SetWorkOrderCode(ctx context.Context, tx *sql.Tx, id int64, code string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE work_orders SET code=? WHERE id=?`, code, id)
	return err
}

// UpdateWorkOrder writes every mutable column of w in one statement.
func (r Repo) UpdateWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	q := r.q(tx)
	res, err := q.ExecContext(ctx, `UPDATE work_orders SET title=?,description=?,status=?,archived=?,priority=?,due_date=?,
estimated_start_date=?,estimated_duration=?,require_signature=?,primary_user_id=?,team_id=?,category_id=?,location_id=?,
asset_id=?,completed_by_id=?,completed_on=?,signature_file_id=?,feedback=?,on_hold_reason_code=?,status_before_hold=?,
status_change_notes=?,first_time_to_react=?,updated_at=? WHERE id=?`,
		w.Title, nullableStringPtr(w.Description), string(w.Status), boolInt(w.Archived), string(w.Priority),
		formatTimePtr(w.DueDate), formatTimePtr(w.EstimatedStartDate), w.EstimatedDuration, boolInt(w.RequireSignature),
		nullableInt64Ptr(w.PrimaryUserID), nullableInt64Ptr(w.TeamID), nullableInt64Ptr(w.CategoryID),
		nullableInt64Ptr(w.LocationID), nullableInt64Ptr(w.AssetID), nullableInt64Ptr(w.CompletedByID),
		formatTimePtr(w.CompletedOn), nullableInt64Ptr(w.SignatureFileID), nullableStringPtr(w.Feedback),
		nullableStringPtr(w.OnHoldReasonCode), statusPtrValue(w.StatusBeforeHold), nullableStringPtr(w.StatusChangeNotes),
		formatTimePtr(w.FirstTimeToReact), formatTime(w.UpdatedAt), w.ID)
	if err != nil {
		return fmt.Errorf("update work order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return r.replaceAssignees(ctx, q, w.ID, w.AssignedUserIDs)
}

func (r Repo) replaceAssignees(ctx context.Context, q DBTX, workOrderID int64, userIDs []int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM work_order_assignees WHERE work_order_id=?`, workOrderID); err != nil {
		return err
	}
	for _, uid := range userIDs {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO work_order_assignees(work_order_id,user_id) VALUES (?,?)`, workOrderID, uid); err != nil {
			return fmt.Errorf("assign user %d: %w", uid, err)
		}
	}
	return nil
}

func (r Repo) loadAssignees(ctx context.Context, q DBTX, w *domain.WorkOrder) error {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM work_order_assignees WHERE work_order_id=? ORDER BY user_id`, w.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	w.AssignedUserIDs = nil
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		w.AssignedUserIDs = append(w.AssignedUserIDs, id)
	}
	return rows.Err()
}

// GetWorkOrder looks up by id within a company.
func (r Repo) GetWorkOrder(ctx context.Context, tx *sql.Tx, companyID, id int64) (domain.WorkOrder, error) {
	q := r.q(tx)
	w, err := scanWorkOrder(q.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=? AND company_id=?`, id, companyID))
	if err != nil {
		return w, err
	}
	return w, r.loadAssignees(ctx, q, &w)
}

// GetWorkOrderByCode looks up by code, case-insensitively, within a company.
func (r Repo) GetWorkOrderByCode(ctx context.Context, tx *sql.Tx, companyID int64, code string) (domain.WorkOrder, error) {
	q := r.q(tx)
	w, err := scanWorkOrder(q.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE company_id=? AND code=? COLLATE NOCASE LIMIT 1`, companyID, code))
	if err != nil {
		return w, err
	}
	return w, r.loadAssignees(ctx, q, &w)
}

// WorkOrderFilters drive SearchWorkOrders; zero values mean "no filter".
type WorkOrderFilters struct {
	CompanyID        int64
	Statuses         []domain.Status
	Priorities       []domain.Priority
	Search           string
	DueBefore        *time.Time
	DueAfter         *time.Time
	CreatedBefore    *time.Time
	CreatedAfter     *time.Time
	UpdatedBefore    *time.Time
	UpdatedAfter     *time.Time
	AssignedToUserID *int64
	PrimaryUserID    *int64
	TeamID           *int64
	AssetID          *int64
	LocationID       *int64
	CategoryID       *int64
	SortBy           string
	Descending       bool
	Limit            int
}

var workOrderSortColumns = map[string]string{
	"dueDate":   "due_date",
	"priority":  "CASE priority WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 WHEN 'LOW' THEN 1 ELSE 0 END",
	"status":    "status",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

// SearchWorkOrders returns non-archived work orders of a company.
func (r Repo) SearchWorkOrders(ctx context.Context, f WorkOrderFilters) ([]domain.WorkOrder, error) {
	clauses := []string{"company_id=?", "archived=0"}
	args := []any{f.CompanyID}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if len(f.Priorities) > 0 {
		clauses = append(clauses, "priority IN ("+placeholders(len(f.Priorities))+")")
		for _, p := range f.Priorities {
			args = append(args, string(p))
		}
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		clauses = append(clauses, "(LOWER(title) LIKE ? OR LOWER(COALESCE(description,'')) LIKE ? OR LOWER(COALESCE(code,'')) LIKE ?)")
		args = append(args, like, like, like)
	}
	for _, rng := range []struct {
		col string
		op  string
		val *time.Time
	}{
		{"due_date", "<", f.DueBefore}, {"due_date", ">", f.DueAfter},
		{"created_at", "<", f.CreatedBefore}, {"created_at", ">", f.CreatedAfter},
		{"updated_at", "<", f.UpdatedBefore}, {"updated_at", ">", f.UpdatedAfter},
	} {
		if rng.val != nil {
			clauses = append(clauses, rng.col+" "+rng.op+" ?")
			args = append(args, formatTime(*rng.val))
		}
	}
	if f.AssignedToUserID != nil {
		clauses = append(clauses, "(primary_user_id=? OR id IN (SELECT work_order_id FROM work_order_assignees WHERE user_id=?))")
		args = append(args, *f.AssignedToUserID, *f.AssignedToUserID)
	}
	for _, eq := range []struct {
		col string
		val *int64
	}{{"primary_user_id", f.PrimaryUserID}, {"team_id", f.TeamID}, {"asset_id", f.AssetID}, {"location_id", f.LocationID}, {"category_id", f.CategoryID}} {
		if eq.val != nil {
			clauses = append(clauses, eq.col+"=?")
			args = append(args, *eq.val)
		}
	}
	order, ok := workOrderSortColumns[f.SortBy]
	if !ok {
		order = workOrderSortColumns["updatedAt"]
	}
	dir := "ASC"
	if f.Descending {
		dir = "DESC"
	}
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY ` + order + ` ` + dir + `, id ` + dir
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if err := r.loadAssignees(ctx, r.DB, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}
