package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"maintline/internal/domain"
)

// Writer appends work-order history entries. Entries are always written
// inside the caller's transaction so they commit with the change they record.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
}

// Append records action against the work order. actorID may be nil for system changes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, workOrderID int64, actorID *int64, action string, payload Payload) error {
	if tx == nil {
		return fmt.Errorf("history for work order %d: transaction required", workOrderID)
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal history payload: %w", err)
	}
	var actor any
	if actorID != nil {
		actor = *actorID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO work_order_history(work_order_id,user_id,action,payload_json,created_at) VALUES (?,?,?,?,?)`,
		workOrderID, actor, action, string(data), w.now().Format("2006-01-02T15:04:05.000Z07:00"))
	return err
}

// List returns the history of a work order, oldest first.
func List(ctx context.Context, db *sql.DB, workOrderID int64) ([]domain.HistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, work_order_id, user_id, action, created_at FROM work_order_history WHERE work_order_id=? ORDER BY id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e       domain.HistoryEntry
			userID  sql.NullInt64
			created string
		)
		if err := rows.Scan(&e.ID, &e.WorkOrderID, &userID, &e.Action, &created); err != nil {
			return nil, err
		}
		if userID.Valid {
			id := userID.Int64
			e.UserID = &id
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
