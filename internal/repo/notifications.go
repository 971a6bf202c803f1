package repo

import (
	"context"
	"database/sql"
	"time"

	"maintline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO notifications(company_id,user_id,type,resource_id,message,created_at) VALUES (?,?,?,?,?,?)`,
		n.CompanyID, n.UserID, n.Type, n.ResourceID, n.Message, formatTime(n.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const notificationColumns = `id, company_id, user_id, type, resource_id, message, attempts, created_at, delivered_at, last_error`

func (r Repo) scanNotifications(rows *sql.Rows) ([]domain.Notification, error) {
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var (
			n         domain.Notification
			created   string
			delivered sql.NullString
			lastErr   sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.CompanyID, &n.UserID, &n.Type, &n.ResourceID, &n.Message, &n.Attempts, &created, &delivered, &lastErr); err != nil {
			return nil, err
		}
		var err error
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if n.DeliveredAt, err = parseNullTime(delivered); err != nil {
			return nil, err
		}
		n.LastError = stringPtr(lastErr)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListUndelivered returns outbox rows still below maxAttempts, oldest first.
func (r Repo) ListUndelivered(ctx context.Context, maxAttempts, limit int) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications
WHERE delivered_at IS NULL AND attempts < ? ORDER BY id LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return r.scanNotifications(rows)
}

// ListNotificationsForResource returns notifications about one work order.
func (r Repo) ListNotificationsForResource(ctx context.Context, tx *sql.Tx, resourceID int64) ([]domain.Notification, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE resource_id=? ORDER BY id`, resourceID)
	if err != nil {
		return nil, err
	}
	return r.scanNotifications(rows)
}

func (r Repo) MarkNotificationDelivered(ctx context.Context, id int64, attempts int, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET delivered_at=?, attempts=attempts+?, last_error=NULL WHERE id=?`,
		formatTime(at), attempts, id)
	return err
}

func (r Repo) RecordNotificationFailure(ctx context.Context, id int64, attempts int, msg string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET attempts=attempts+?, last_error=? WHERE id=?`, attempts, msg, id)
	return err
}
