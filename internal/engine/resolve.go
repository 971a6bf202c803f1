package engine

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"maintline/internal/apperr"
	"maintline/internal/domain"
	"maintline/internal/repo"
)

// ResolveWorkOrder finds a work order of companyID by numeric id or, failing
// that, by code. Numeric ids win over numeric-looking codes.
func (e Engine) ResolveWorkOrder(ctx context.Context, tx *sql.Tx, companyID int64, identifier string) (domain.WorkOrder, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return domain.WorkOrder{}, apperr.InvalidInput("Work order identifier is required")
	}
	if isNumeric(trimmed) {
		if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			w, err := e.Repo.GetWorkOrder(ctx, tx, companyID, id)
			if err == nil {
				return w, nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return domain.WorkOrder{}, err
			}
		}
	}
	w, err := e.Repo.GetWorkOrderByCode(ctx, tx, companyID, trimmed)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.WorkOrder{}, apperr.NotFound("Work order not found")
	}
	return w, err
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
