package rbac_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac/rbactest"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

func TestResolveReturnsExactlyTheRoleGrants(t *testing.T) {
	store := rbactest.NewStore()
	store.PutRole(1, "Editor", rbac.Grant{Source: rbac.SourcePosts, Actions: []rbac.Action{rbac.ActionRead, rbac.ActionWrite}})
	store.PutUser("u1", 1, true)

	set, err := rbac.NewResolver(store).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []rbac.Pair{
		{Source: rbac.SourcePosts, Action: rbac.ActionRead},
		{Source: rbac.SourcePosts, Action: rbac.ActionWrite},
	}, set.Pairs())
}

func TestResolveDeniesByDefault(t *testing.T) {
	store := rbactest.NewStore()
	store.PutUser("norole", 0, true)
	store.PutUser("dangling", 99, true)
	resolver := rbac.NewResolver(store)

	for _, id := range []string{"norole", "dangling", "unknown"} {
		t.Run(id, func(t *testing.T) {
			set, err := resolver.Resolve(context.Background(), id)
			require.NoError(t, err)
			assert.True(t, set.Empty())
			for _, s := range rbac.Sources() {
				for _, a := range rbac.Actions() {
					ok, err := resolver.Allows(context.Background(), id, s, a)
					require.NoError(t, err)
					assert.False(t, ok)
				}
			}
		})
	}
}

func TestResolvePropagatesTransientFailure(t *testing.T) {
	store := rbactest.NewStore()
	store.Err = shared.ErrTransientStore

	_, err := rbac.NewResolver(store).Allows(context.Background(), "u1", rbac.SourceUser, rbac.ActionRead)
	require.ErrorIs(t, err, shared.ErrTransientStore)
}

func TestPermissionsGroupsBySource(t *testing.T) {
	store := rbactest.NewStore()
	store.PutRole(7, "LogAdmin", rbac.Grant{Source: rbac.SourceLogs, Actions: []rbac.Action{rbac.ActionDelete, rbac.ActionRead}})
	store.PutUser("u1", 7, true)

	grants, err := rbac.NewResolver(store).Permissions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []rbac.Grant{{Source: rbac.SourceLogs, Actions: []rbac.Action{rbac.ActionRead, rbac.ActionDelete}}}, grants)
}

type failingStore struct {
	calls int
	err   error
}

func (f *failingStore) FindUser(ctx context.Context, id string) (rbac.Subject, error) {
	f.calls++
	return rbac.Subject{}, f.err
}

func (f *failingStore) FindRoleWithPermissions(ctx context.Context, roleID int64) (rbac.RoleWithPermissions, error) {
	f.calls++
	return rbac.RoleWithPermissions{}, f.err
}

func TestResilientStoreOpensBreakerAsTransient(t *testing.T) {
	inner := &failingStore{err: errors.New("connection reset")}
	cfg := rbac.DefaultResilientConfig()
	cfg.FailureThreshold = 2
	store := rbac.NewResilientStore(inner, cfg)

	for range 2 {
		_, err := store.FindUser(context.Background(), "u1")
		require.Error(t, err)
	}
	_, err := store.FindUser(context.Background(), "u1")
	require.ErrorIs(t, err, shared.ErrTransientStore)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "open", store.State())
}

func TestResilientStoreNotFoundDoesNotTrip(t *testing.T) {
	inner := &failingStore{err: shared.ErrNotFound}
	cfg := rbac.DefaultResilientConfig()
	cfg.FailureThreshold = 1
	store := rbac.NewResilientStore(inner, cfg)

	for range 3 {
		_, err := store.FindUser(context.Background(), "ghost")
		require.ErrorIs(t, err, shared.ErrNotFound)
	}
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "closed", store.State())
}

type slowStore struct{ failingStore }

func (s *slowStore) FindUser(ctx context.Context, id string) (rbac.Subject, error) {
	<-ctx.Done()
	return rbac.Subject{}, ctx.Err()
}

func TestResilientStoreTimeoutIsTransient(t *testing.T) {
	cfg := rbac.DefaultResilientConfig()
	cfg.Timeout = 10 * time.Millisecond
	store := rbac.NewResilientStore(&slowStore{}, cfg)

	_, err := store.FindUser(context.Background(), "u1")
	require.ErrorIs(t, err, shared.ErrTransientStore)
}
