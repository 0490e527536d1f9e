//go:build integration

package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/auth"
	"github.com/odyssey-erp/odyssey-admin/internal/permissions"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/roles"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
	"github.com/odyssey-erp/odyssey-admin/internal/users"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	if _, err := testcontainers.ProviderDocker.GetProvider(); err != nil {
		t.Skip("docker not available, skipping integration tests")
	}

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("odyssey_test"),
		postgres.WithUsername("odyssey"),
		postgres.WithPassword("odyssey"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

func TestRepositoriesAgainstPostgres(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	permRepo := permissions.NewRepository(pool)
	roleRepo := roles.NewRepository(pool)
	userRepo := users.NewRepository(pool)
	authRepo := auth.NewRepository(pool)
	store := rbac.NewPGStore(pool)

	userPerm, err := permRepo.Create(ctx, permissions.Normalized{
		Name: "Manage users", Source: rbac.SourceUser,
		Actions: []rbac.Action{rbac.ActionRead, rbac.ActionUpdate},
	})
	require.NoError(t, err)
	logPerm, err := permRepo.Create(ctx, permissions.Normalized{
		Name: "Read logs", Source: rbac.SourceLogs, Actions: []rbac.Action{rbac.ActionRead},
	})
	require.NoError(t, err)

	t.Run("unknown permission id is not found", func(t *testing.T) {
		_, err := roleRepo.CreateRole(ctx, roles.Input{Name: "Broken", PermissionIDs: []int64{userPerm.ID, 9999}})
		require.ErrorIs(t, err, shared.ErrNotFound)
	})

	role, err := roleRepo.CreateRole(ctx, roles.Input{Name: "Support", PermissionIDs: []int64{userPerm.ID}})
	require.NoError(t, err)
	require.Len(t, role.Permissions, 1)

	ident := auth.ProviderIdentity{Subject: "sub-1", Email: "ada@example.com", Name: "Ada"}
	created, err := authRepo.CreateUser(ctx, ident)
	require.NoError(t, err)
	assert.True(t, created.IsActive)
	assert.Nil(t, created.RoleID)

	t.Run("new user resolves to an empty set", func(t *testing.T) {
		subj, err := store.FindUser(ctx, created.ID)
		require.NoError(t, err)
		assert.Nil(t, subj.RoleID)
	})

	assigned, err := userRepo.AssignRole(ctx, created.ID, role.ID)
	require.NoError(t, err)
	require.NotNil(t, assigned.RoleName)
	assert.Equal(t, "Support", *assigned.RoleName)

	t.Run("role grants come back through the store", func(t *testing.T) {
		rwp, err := store.FindRoleWithPermissions(ctx, role.ID)
		require.NoError(t, err)
		set := rbac.NewPermissionSet(rwp.Grants...)
		assert.True(t, set.Allows(rbac.SourceUser, rbac.ActionUpdate))
		assert.False(t, set.Allows(rbac.SourceLogs, rbac.ActionRead))
	})

	t.Run("edit replaces the link set", func(t *testing.T) {
		edited, err := roleRepo.UpdateRole(ctx, role.ID, roles.Input{Name: "Support", PermissionIDs: []int64{logPerm.ID}})
		require.NoError(t, err)
		require.Len(t, edited.Permissions, 1)
		assert.Equal(t, logPerm.ID, edited.Permissions[0].ID)

		rwp, err := store.FindRoleWithPermissions(ctx, role.ID)
		require.NoError(t, err)
		set := rbac.NewPermissionSet(rwp.Grants...)
		assert.False(t, set.Allows(rbac.SourceUser, rbac.ActionRead))
		assert.True(t, set.Allows(rbac.SourceLogs, rbac.ActionRead))
	})

	t.Run("role in use cannot be deleted", func(t *testing.T) {
		_, err := roleRepo.DeleteRole(ctx, role.ID)
		require.ErrorIs(t, err, shared.ErrConflict)
	})

	t.Run("deleting a permission drops its links", func(t *testing.T) {
		_, err := permRepo.Delete(ctx, logPerm.ID)
		require.NoError(t, err)
		got, err := roleRepo.GetRole(ctx, role.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Permissions)
	})

	t.Run("deactivation is visible to the store", func(t *testing.T) {
		_, err := userRepo.SetActive(ctx, created.ID, false)
		require.NoError(t, err)
		subj, err := store.FindUser(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, subj.IsActive)
	})

	t.Run("email lookup ignores case", func(t *testing.T) {
		found, err := authRepo.FindByEmail(ctx, "ADA@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("deleted user is not found", func(t *testing.T) {
		_, err := userRepo.DeleteUser(ctx, created.ID)
		require.NoError(t, err)
		_, err = store.FindUser(ctx, created.ID)
		require.ErrorIs(t, err, shared.ErrNotFound)

		_, err = roleRepo.DeleteRole(ctx, role.ID)
		require.NoError(t, err)
	})
}

func TestAuditInsertIsIdempotent(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	repo := audit.NewRepository(pool)

	entry := audit.Entry{
		EventID:   uuid.New(),
		Type:      audit.TypeWrite,
		Source:    rbac.SourceRoles,
		UserID:    uuid.NewString(),
		Message:   `created role "Support"`,
		CreatedAt: time.Now().UTC(),
	}
	first, err := repo.Insert(ctx, entry)
	require.NoError(t, err)
	second, err := repo.Insert(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	rows, err := repo.ListAll(ctx, audit.Filters{}, audit.MaxExportRows)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, repo.Delete(ctx, first.ID))
	require.ErrorIs(t, repo.Delete(ctx, first.ID), shared.ErrNotFound)
}
