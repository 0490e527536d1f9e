package client

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

const defaultFetchTimeout = 10 * time.Second

// Decision is what a UI affordance renders from. While IsLoading is true
// callers must render neither the granted nor the denied state.
type Decision struct {
	HasPermission bool
	IsLoading     bool
}

// PermissionFetcher loads the signed-in user's full grant list.
type PermissionFetcher interface {
	Permissions(ctx context.Context) ([]rbac.Grant, error)
}

// PermissionCache holds one session's resolved permission set. Every
// UsePermission call shares a single fetch. The set is only replaced by a
// fresh fetch, never patched in place.
type PermissionCache struct {
	fetcher PermissionFetcher
	timeout time.Duration
	group   singleflight.Group

	mu         sync.Mutex
	set        rbac.PermissionSet
	loaded     bool
	inflight   bool
	generation uint64
	err        error
	waiters    []chan struct{}
}

// NewPermissionCache returns an empty cache that loads lazily.
func NewPermissionCache(fetcher PermissionFetcher) *PermissionCache {
	return &PermissionCache{fetcher: fetcher, timeout: defaultFetchTimeout}
}

// UsePermission reports the cached decision without blocking. The first call
// starts the background fetch.
func (c *PermissionCache) UsePermission(source rbac.Source, action rbac.Action) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return Decision{HasPermission: c.set.Allows(source, action)}
	}
	if c.err != nil {
		return Decision{}
	}
	c.startLocked()
	return Decision{IsLoading: true}
}

// Await blocks until the set is loaded or ctx ends. A failed fetch is
// reported once; the next Invalidate retries it.
func (c *PermissionCache) Await(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.loaded {
			c.mu.Unlock()
			return nil
		}
		if c.err != nil && !c.inflight {
			err := c.err
			c.mu.Unlock()
			return err
		}
		done := make(chan struct{})
		c.waiters = append(c.waiters, done)
		c.startLocked()
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allows blocks for the set and answers from it.
func (c *PermissionCache) Allows(ctx context.Context, source rbac.Source, action rbac.Action) (bool, error) {
	if err := c.Await(ctx); err != nil {
		return false, err
	}
	return c.UsePermission(source, action).HasPermission, nil
}

// Invalidate discards the cached set and fetches it again from the server.
// Results of fetches started before the call are dropped.
func (c *PermissionCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.loaded = false
	c.err = nil
	c.inflight = true
	c.mu.Unlock()
	return c.load(ctx, gen)
}

// Reset forgets the set without refetching; the next use loads again.
func (c *PermissionCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.loaded = false
	c.inflight = false
	c.err = nil
	c.set = rbac.PermissionSet{}
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
}

// Err returns the last fetch failure, if the set is not loaded.
func (c *PermissionCache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	return c.err
}

// Grants returns the loaded grants, or nil while loading.
func (c *PermissionCache) Grants() []rbac.Grant {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return nil
	}
	return c.set.Grants()
}

func (c *PermissionCache) startLocked() {
	if c.inflight {
		return
	}
	c.inflight = true
	c.err = nil
	gen := c.generation
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		_ = c.load(ctx, gen)
	}()
}

func (c *PermissionCache) load(ctx context.Context, gen uint64) error {
	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.fetcher.Permissions(ctx)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		// superseded by Invalidate; that load reports to the waiters
		return err
	}
	c.inflight = false
	if err != nil {
		c.err = err
	} else {
		c.set = rbac.NewPermissionSet(v.([]rbac.Grant)...)
		c.loaded = true
	}
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
	return err
}
