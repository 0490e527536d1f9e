package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

type gatedFetcher struct {
	calls  atomic.Int32
	gate   chan struct{}
	mu     sync.Mutex
	grants []rbac.Grant
	err    error
}

func (f *gatedFetcher) Permissions(ctx context.Context) ([]rbac.Grant, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grants, f.err
}

func (f *gatedFetcher) set(grants []rbac.Grant, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants, f.err = grants, err
}

var postsRead = []rbac.Grant{{Source: rbac.SourcePosts, Actions: []rbac.Action{rbac.ActionRead}}}

func TestUsePermissionReportsLoadingUntilFetched(t *testing.T) {
	f := &gatedFetcher{gate: make(chan struct{}), grants: postsRead}
	c := NewPermissionCache(f)

	d := c.UsePermission(rbac.SourcePosts, rbac.ActionRead)
	assert.Equal(t, Decision{IsLoading: true}, d)
	d = c.UsePermission(rbac.SourcePosts, rbac.ActionWrite)
	assert.Equal(t, Decision{IsLoading: true}, d, "loading never reads as denied")

	close(f.gate)
	require.NoError(t, c.Await(context.Background()))

	assert.Equal(t, Decision{HasPermission: true}, c.UsePermission(rbac.SourcePosts, rbac.ActionRead))
	assert.Equal(t, Decision{HasPermission: false}, c.UsePermission(rbac.SourcePosts, rbac.ActionWrite))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestManyCallSitesShareOneFetch(t *testing.T) {
	f := &gatedFetcher{gate: make(chan struct{}), grants: postsRead}
	c := NewPermissionCache(f)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.UsePermission(rbac.SourcePosts, rbac.ActionRead)
			_, _ = c.Allows(context.Background(), rbac.SourcePosts, rbac.ActionRead)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for i := 0; i < 10; i++ {
		assert.True(t, c.UsePermission(rbac.SourcePosts, rbac.ActionRead).HasPermission)
	}
	assert.Equal(t, int32(1), f.calls.Load(), "no refetch without invalidation")
}

func TestInvalidateRefetches(t *testing.T) {
	f := &gatedFetcher{grants: postsRead}
	c := NewPermissionCache(f)
	require.NoError(t, c.Await(context.Background()))
	assert.True(t, c.UsePermission(rbac.SourcePosts, rbac.ActionRead).HasPermission)

	f.set(nil, nil)
	assert.True(t, c.UsePermission(rbac.SourcePosts, rbac.ActionRead).HasPermission, "stale until invalidated")

	require.NoError(t, c.Invalidate(context.Background()))
	assert.False(t, c.UsePermission(rbac.SourcePosts, rbac.ActionRead).HasPermission)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestFetchErrorRetriedOnInvalidate(t *testing.T) {
	boom := errors.New("boom")
	f := &gatedFetcher{err: boom}
	c := NewPermissionCache(f)

	assert.ErrorIs(t, c.Await(context.Background()), boom)
	assert.ErrorIs(t, c.Err(), boom)
	assert.Equal(t, Decision{}, c.UsePermission(rbac.SourcePosts, rbac.ActionRead))
	assert.ErrorIs(t, c.Await(context.Background()), boom)
	assert.Equal(t, int32(1), f.calls.Load())

	f.set(postsRead, nil)
	require.NoError(t, c.Invalidate(context.Background()))
	assert.NoError(t, c.Err())
	assert.True(t, c.UsePermission(rbac.SourcePosts, rbac.ActionRead).HasPermission)
}

func TestResetForgetsWithoutFetching(t *testing.T) {
	f := &gatedFetcher{grants: postsRead}
	c := NewPermissionCache(f)
	require.NoError(t, c.Await(context.Background()))

	c.Reset()
	assert.Nil(t, c.Grants())
	assert.Equal(t, int32(1), f.calls.Load())
	require.NoError(t, c.Await(context.Background()))
	assert.Len(t, c.Grants(), 1)
}

func TestAwaitHonoursContext(t *testing.T) {
	f := &gatedFetcher{gate: make(chan struct{})}
	c := NewPermissionCache(f)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Await(ctx), context.DeadlineExceeded)
	close(f.gate)
}

func TestCacheRegistry(t *testing.T) {
	fetchers := map[string]*gatedFetcher{}
	var mu sync.Mutex
	reg := NewCacheRegistry(2, time.Minute, func(userID string) PermissionFetcher {
		mu.Lock()
		defer mu.Unlock()
		f := &gatedFetcher{grants: postsRead}
		fetchers[userID] = f
		return f
	})

	a := reg.For("a")
	assert.Same(t, a, reg.For("a"))
	reg.For("b")
	reg.For("c")
	assert.Equal(t, 2, reg.Len())
	assert.NotSame(t, a, reg.For("a"), "evicted caches are rebuilt")

	require.NoError(t, reg.For("c").Await(context.Background()))
	require.NoError(t, reg.Invalidate(context.Background(), "c"))
	assert.Equal(t, int32(2), fetchers["c"].calls.Load())
	assert.NoError(t, reg.Invalidate(context.Background(), "unknown"))

	reg.Forget("c")
	assert.Equal(t, 1, reg.Len())
}

func TestContextPlumbing(t *testing.T) {
	c := NewPermissionCache(&gatedFetcher{})
	ctx := WithPermissionCache(context.Background(), c)
	assert.Same(t, c, PermissionCacheFromContext(ctx))
	assert.Nil(t, PermissionCacheFromContext(context.Background()))
}
