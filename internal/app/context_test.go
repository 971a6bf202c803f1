package app

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintline/internal/config"
	"maintline/internal/domain"
	"maintline/internal/repo"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	a, err := Open(context.Background(), t.TempDir(), config.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSeedCreatesAdminWithKey(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	res, err := a.Seed(ctx, SeedOptions{Company: "Acme", AdminEmail: "boss@acme.test"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.APIKey, "ml_"))
	assert.NotZero(t, res.CompanyID)

	key, err := a.Engine.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(res.APIKey))
	require.NoError(t, err)
	assert.Equal(t, res.Admin.ID, key.UserID)

	admin, err := a.ResolveActor(ctx, "boss@acme.test")
	require.NoError(t, err)
	require.NotNil(t, admin.Role)
	assert.Equal(t, domain.RoleAdmin, admin.Role.Code)
	assert.Equal(t, res.CompanyID, admin.CompanyID)

	byID, err := a.ResolveActor(ctx, strconv.FormatInt(admin.ID, 10))
	require.NoError(t, err)
	assert.Equal(t, admin.Email, byID.Email)

	for _, code := range []domain.RoleCode{domain.RoleLimitedAdmin, domain.RoleTechnician, domain.RoleLimitedTechnician} {
		role, err := a.Engine.Repo.EnsureRole(ctx, nil, res.CompanyID, code, "")
		require.NoError(t, err)
		assert.NotEqual(t, string(code), role.Name, "role %s should have been seeded with a display name", code)
	}

	_, err = a.Seed(ctx, SeedOptions{AdminEmail: "boss@acme.test"})
	require.EqualError(t, err, "user boss@acme.test already exists")
}

func TestResolveActorErrors(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	_, err := a.ResolveActor(ctx, " ")
	require.EqualError(t, err, "user not specified; use --user or run ml seed")
	_, err = a.ResolveActor(ctx, "ghost@nowhere.test")
	require.EqualError(t, err, "user ghost@nowhere.test not found")
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.TimeoutMs = 0
	_, err := Open(context.Background(), t.TempDir(), cfg, nil)
	require.EqualError(t, err, "config.agent.timeout_ms must be positive")
}

func TestIssueAndRevokeAPIKey(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()
	res, err := a.Seed(ctx, SeedOptions{})
	require.NoError(t, err)

	plain, key, err := a.IssueAPIKey(ctx, res.Admin.ID, " ci ")
	require.NoError(t, err)
	assert.Equal(t, "ci", key.Name)
	assert.NotEqual(t, res.APIKey, plain)

	keys, err := a.Engine.Repo.ListAPIKeys(ctx, res.Admin.ID)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.True(t, k.Active())
	}

	require.NoError(t, a.RevokeAPIKey(ctx, res.Admin.ID, key.ID))
	_, err = a.Engine.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	require.ErrorIs(t, err, repo.ErrNotFound)
	require.EqualError(t, a.RevokeAPIKey(ctx, res.Admin.ID, key.ID), "api key "+key.ID+" not found")
	require.EqualError(t, a.RevokeAPIKey(ctx, res.Admin.ID+1, "missing"), "api key missing not found")

	_, err = a.Engine.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(res.APIKey))
	require.NoError(t, err)
}
