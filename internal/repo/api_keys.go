package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"maintline/internal/domain"
)

const apiKeyColumns = `id, user_id, COALESCE(name,''), key_hash, created_at, last_used_at, revoked_at`

// HashAPIKey returns the SHA-256 hex digest stored in place of the key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	if key.ID == "" || key.UserID == 0 || key.KeyHash == "" {
		return errors.New("api key needs id, user and hash")
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO api_keys(id, user_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.UserID, nullable(key.Name), key.KeyHash, formatTime(key.CreatedAt))
	return err
}

func scanAPIKey(row scanner) (domain.APIKey, error) {
	var (
		key       domain.APIKey
		createdAt string
		lastUsed  sql.NullString
		revoked   sql.NullString
	)
	if err := row.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &createdAt, &lastUsed, &revoked); err != nil {
		return domain.APIKey{}, err
	}
	var err error
	if key.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.APIKey{}, fmt.Errorf("api key %s created_at: %w", key.ID, err)
	}
	if key.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return domain.APIKey{}, err
	}
	if key.RevokedAt, err = parseNullTime(revoked); err != nil {
		return domain.APIKey{}, err
	}
	return key, nil
}

// GetAPIKeyByHash resolves a presented key. Revoked keys are not found.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	key, err := scanAPIKey(r.DB.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=? AND revoked_at IS NULL`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

// TouchAPIKey stamps the last successful authentication.
func (r Repo) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, formatTime(at), id)
	return err
}

// ListAPIKeys returns the keys of userID (all users when 0), newest first.
func (r Repo) ListAPIKeys(ctx context.Context, userID int64) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if userID != 0 {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks an active key of userID revoked.
func (r Repo) RevokeAPIKey(ctx context.Context, userID int64, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET revoked_at=? WHERE id=? AND user_id=? AND revoked_at IS NULL`,
		formatTime(at), strings.TrimSpace(id), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
