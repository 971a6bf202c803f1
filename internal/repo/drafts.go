package repo

import (
	"context"
	"database/sql"
	"time"

	"maintline/internal/domain"
)

const draftColumns = `id, user_id, company_id, agent_session_id, operation_type, payload, status, created_at, updated_at`

func scanDraft(row scanner) (domain.DraftAction, error) {
	var (
		d         domain.DraftAction
		companyID sql.NullInt64
		status    string
		created   string
		updated   string
	)
	err := row.Scan(&d.ID, &d.UserID, &companyID, &d.AgentSessionID, &d.OperationType, &d.Payload, &status, &created, &updated)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.CompanyID = int64Ptr(companyID)
	d.Status = domain.DraftStatus(status)
	if d.CreatedAt, err = parseTime(created); err != nil {
		return d, err
	}
	d.UpdatedAt, err = parseTime(updated)
	return d, err
}

func (r Repo) InsertDraft(ctx context.Context, tx *sql.Tx, d domain.DraftAction) (int64, error) {
	if d.Status == "" {
		d.Status = domain.DraftPending
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO agent_draft_actions(user_id,company_id,agent_session_id,operation_type,payload,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`, d.UserID, nullableInt64Ptr(d.CompanyID), d.AgentSessionID, d.OperationType, d.Payload,
		string(d.Status), formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetDraftForUser loads a draft only when userID owns it.
func (r Repo) GetDraftForUser(ctx context.Context, tx *sql.Tx, id, userID int64) (domain.DraftAction, error) {
	return scanDraft(r.q(tx).QueryRowContext(ctx, `SELECT `+draftColumns+` FROM agent_draft_actions WHERE id=? AND user_id=?`, id, userID))
}

// ListPendingDrafts returns the user's pending drafts, newest first.
func (r Repo) ListPendingDrafts(ctx context.Context, userID int64) ([]domain.DraftAction, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+draftColumns+` FROM agent_draft_actions
WHERE user_id=? AND LOWER(status)='pending' ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drafts []domain.DraftAction
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// TransitionDraft moves a draft out of from only if it is still there.
// It reports false when another writer got there first. payload is left
// untouched when empty.
func (r Repo) TransitionDraft(ctx context.Context, tx *sql.Tx, id, userID int64, from, to domain.DraftStatus, payload string, at time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if payload == "" {
		res, err = r.q(tx).ExecContext(ctx, `UPDATE agent_draft_actions SET status=?, updated_at=?
WHERE id=? AND user_id=? AND LOWER(status)=?`, string(to), formatTime(at), id, userID, string(from))
	} else {
		res, err = r.q(tx).ExecContext(ctx, `UPDATE agent_draft_actions SET status=?, payload=?, updated_at=?
WHERE id=? AND user_id=? AND LOWER(status)=?`, string(to), payload, formatTime(at), id, userID, string(from))
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
