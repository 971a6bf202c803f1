package repo

import (
	"context"
	"database/sql"

	"maintline/internal/domain"
)

func (r Repo) InsertInvocation(ctx context.Context, tx *sql.Tx, l domain.InvocationLog) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO agent_tool_invocation_logs(user_id,company_id,tool_name,arguments_json,result_count,status,correlation_id,error_message,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`, nullableInt64Ptr(l.UserID), nullableInt64Ptr(l.CompanyID), l.ToolName, nullableStringPtr(l.ArgumentsJSON),
		nullableIntPtr(l.ResultCount), nullable(l.Status), nullable(l.CorrelationID), nullableStringPtr(l.ErrorMessage), formatTime(l.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateInvocation records the outcome of a previously queued invocation.
func (r Repo) UpdateInvocation(ctx context.Context, tx *sql.Tx, id int64, status string, resultCount *int, errMsg *string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE agent_tool_invocation_logs SET status=?, result_count=?, error_message=? WHERE id=?`,
		status, nullableIntPtr(resultCount), nullableStringPtr(errMsg), id)
	return err
}

// InvocationFilters narrow ListInvocations; zero values match everything.
type InvocationFilters struct {
	UserID        int64
	CorrelationID string
	Limit         int
}

// ListInvocations returns the newest invocation logs first.
func (r Repo) ListInvocations(ctx context.Context, f InvocationFilters) ([]domain.InvocationLog, error) {
	query := `SELECT id, user_id, company_id, tool_name, arguments_json, result_count, COALESCE(status,''), COALESCE(correlation_id,''), error_message, created_at
FROM agent_tool_invocation_logs WHERE 1=1`
	var args []any
	if f.UserID != 0 {
		query += ` AND user_id=?`
		args = append(args, f.UserID)
	}
	if f.CorrelationID != "" {
		query += ` AND correlation_id=?`
		args = append(args, f.CorrelationID)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []domain.InvocationLog
	for rows.Next() {
		var (
			l                 domain.InvocationLog
			userID, companyID sql.NullInt64
			argsJSON, errMsg  sql.NullString
			resultCount       sql.NullInt64
			created           string
		)
		if err := rows.Scan(&l.ID, &userID, &companyID, &l.ToolName, &argsJSON, &resultCount, &l.Status, &l.CorrelationID, &errMsg, &created); err != nil {
			return nil, err
		}
		l.UserID = int64Ptr(userID)
		l.CompanyID = int64Ptr(companyID)
		l.ArgumentsJSON = stringPtr(argsJSON)
		l.ErrorMessage = stringPtr(errMsg)
		if resultCount.Valid {
			n := int(resultCount.Int64)
			l.ResultCount = &n
		}
		if l.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
