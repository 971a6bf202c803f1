package auth

import (
	"context"
	"database/sql"
	"strings"

	"maintline/internal/apperr"
	"maintline/internal/domain"
	"maintline/internal/repo"
)

var toolRoleCodes = []domain.RoleCode{
	domain.RoleAdmin,
	domain.RoleLimitedAdmin,
	domain.RoleTechnician,
	domain.RoleLimitedTechnician,
}

var toolRoleNames = map[string]bool{
	"ADMIN":      true,
	"MANAGER":    true,
	"TECHNICIAN": true,
	"SUPERVISOR": true,
}

// EnsureToolAccess is the gate every agent tool passes before touching data.
func EnsureToolAccess(user *domain.User) error {
	if user == nil || user.ID == 0 {
		return apperr.Unauthorized("Authenticated user context required")
	}
	if user.Role == nil {
		return apperr.Forbidden("User role is required")
	}
	if user.CompanyID == 0 {
		return apperr.Forbidden("Tenant context missing for user")
	}
	for _, code := range toolRoleCodes {
		if user.Role.Code == code {
			return nil
		}
	}
	if toolRoleNames[strings.ToUpper(strings.TrimSpace(user.Role.Name))] {
		return nil
	}
	return apperr.Forbidden("User is not authorised to use agent tools")
}

// IsManager reports whether the user holds an administrative role.
func IsManager(user domain.User) bool {
	return user.HasRole(domain.RoleAdmin, domain.RoleLimitedAdmin)
}

// Service answers per-record permission questions backed by SQL.
type Service struct {
	Repo repo.Repo
}

// CanEdit reports whether user may modify w: its creator, primary or
// assigned users, members of its team, and managers.
func (s Service) CanEdit(ctx context.Context, tx *sql.Tx, user domain.User, w domain.WorkOrder) (bool, error) {
	if IsManager(user) {
		return true, nil
	}
	if w.CreatedByID != nil && *w.CreatedByID == user.ID {
		return true, nil
	}
	if w.IsAssigned(user.ID) {
		return true, nil
	}
	if w.TeamID != nil {
		return s.Repo.IsTeamMember(ctx, tx, *w.TeamID, user.ID)
	}
	return false, nil
}
