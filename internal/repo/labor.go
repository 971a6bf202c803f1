package repo

import (
	"context"
	"database/sql"
	"time"

	"maintline/internal/domain"
)

func scanLabor(row scanner) (domain.Labor, error) {
	var (
		l        domain.Labor
		status   string
		started  string
		stopped  sql.NullString
		category sql.NullString
	)
	if err := row.Scan(&l.ID, &l.WorkOrderID, &l.UserID, &status, &started, &stopped, &l.DurationSeconds, &category); err != nil {
		return l, err
	}
	l.Status = domain.LaborStatus(status)
	l.TimeCategory = category.String
	var err error
	if l.StartedAt, err = parseTime(started); err != nil {
		return l, err
	}
	l.StoppedAt, err = parseNullTime(stopped)
	return l, err
}

func (r Repo) listLabor(ctx context.Context, q DBTX, query string, args ...any) ([]domain.Labor, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Labor
	for rows.Next() {
		l, err := scanLabor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const laborColumns = `id, work_order_id, user_id, status, started_at, stopped_at, duration_seconds, time_category`

// ListLabor returns every labor entry of a work order in start order.
func (r Repo) ListLabor(ctx context.Context, tx *sql.Tx, workOrderID int64) ([]domain.Labor, error) {
	return r.listLabor(ctx, r.q(tx), `SELECT `+laborColumns+` FROM labor WHERE work_order_id=? ORDER BY started_at, id`, workOrderID)
}

func (r Repo) ListRunningLabor(ctx context.Context, tx *sql.Tx, workOrderID int64) ([]domain.Labor, error) {
	return r.listLabor(ctx, r.q(tx), `SELECT `+laborColumns+` FROM labor WHERE work_order_id=? AND status=? ORDER BY id`,
		workOrderID, string(domain.LaborRunning))
}

func (r Repo) InsertLabor(ctx context.Context, tx *sql.Tx, l domain.Labor) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO labor(work_order_id, user_id, status, started_at, stopped_at, duration_seconds, time_category)
VALUES (?,?,?,?,?,?,?)`, l.WorkOrderID, l.UserID, string(l.Status), formatTime(l.StartedAt), formatTimePtr(l.StoppedAt),
		l.DurationSeconds, nullable(l.TimeCategory))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// StopLabor closes a running entry, accumulating the elapsed seconds.
func (r Repo) StopLabor(ctx context.Context, tx *sql.Tx, l domain.Labor, at time.Time) error {
	elapsed := int64(at.Sub(l.StartedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	_, err := r.q(tx).ExecContext(ctx, `UPDATE labor SET status=?, stopped_at=?, duration_seconds=duration_seconds+? WHERE id=? AND status=?`,
		string(domain.LaborStopped), formatTime(at), elapsed, l.ID, string(domain.LaborRunning))
	return err
}
