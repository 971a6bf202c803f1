package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintline/internal/apperr"
	"maintline/internal/domain"
)

func TestEnsureToolAccess(t *testing.T) {
	tech := &domain.User{ID: 7, CompanyID: 1, Role: &domain.Role{Code: domain.RoleTechnician}}
	require.NoError(t, EnsureToolAccess(tech))

	supervisor := &domain.User{ID: 8, CompanyID: 1, Role: &domain.Role{Code: "CUSTOM", Name: " supervisor "}}
	require.NoError(t, EnsureToolAccess(supervisor))

	cases := []struct {
		name string
		user *domain.User
		kind apperr.Kind
		msg  string
	}{
		{"nil", nil, apperr.KindUnauthorized, "Authenticated user context required"},
		{"no role", &domain.User{ID: 1, CompanyID: 1}, apperr.KindForbidden, "User role is required"},
		{"no tenant", &domain.User{ID: 1, Role: &domain.Role{Code: domain.RoleAdmin}}, apperr.KindForbidden, "Tenant context missing for user"},
		{"requester", &domain.User{ID: 1, CompanyID: 1, Role: &domain.Role{Code: domain.RoleRequester, Name: "Requester"}}, apperr.KindForbidden, "User is not authorised to use agent tools"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := EnsureToolAccess(tc.user)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
			assert.Equal(t, tc.msg, err.Error())
		})
	}
}

func TestIsManagerMatchesRoleName(t *testing.T) {
	assert.True(t, IsManager(domain.User{Role: &domain.Role{Code: domain.RoleLimitedAdmin}}))
	assert.True(t, IsManager(domain.User{Role: &domain.Role{Code: "X", Name: "admin"}}))
	assert.False(t, IsManager(domain.User{Role: &domain.Role{Code: domain.RoleTechnician}}))
	assert.False(t, IsManager(domain.User{}))
}
