package repo

import (
	"context"
	"database/sql"

	"maintline/internal/domain"
)

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_order_tasks(work_order_id, label, value, notes) VALUES (?,?,?,?)`,
		t.WorkOrderID, t.Label, nullableStringPtr(t.Value), nullableStringPtr(t.Notes))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) SetTaskValue(ctx context.Context, tx *sql.Tx, id int64, value string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_order_tasks SET value=? WHERE id=?`, value, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTasks(ctx context.Context, tx *sql.Tx, workOrderID int64) ([]domain.Task, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id, work_order_id, label, value, notes FROM work_order_tasks WHERE work_order_id=? ORDER BY id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		var value, notes sql.NullString
		if err := rows.Scan(&t.ID, &t.WorkOrderID, &t.Label, &value, &notes); err != nil {
			return nil, err
		}
		t.Value = stringPtr(value)
		t.Notes = stringPtr(notes)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
