package client

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheRegistry keeps one PermissionCache per signed-in user for processes
// that serve many sessions. Entries expire after ttl so a cache never
// outlives the session it was built for by much.
type CacheRegistry struct {
	mu      sync.Mutex
	caches  *lru.LRU[string, *PermissionCache]
	fetcher func(userID string) PermissionFetcher
}

// NewCacheRegistry builds a registry holding at most size caches.
func NewCacheRegistry(size int, ttl time.Duration, fetcher func(userID string) PermissionFetcher) *CacheRegistry {
	if size <= 0 {
		size = 1024
	}
	return &CacheRegistry{
		caches:  lru.NewLRU[string, *PermissionCache](size, nil, ttl),
		fetcher: fetcher,
	}
}

// For returns the user's cache, creating it on first use.
func (r *CacheRegistry) For(userID string) *PermissionCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches.Get(userID); ok {
		return c
	}
	c := NewPermissionCache(r.fetcher(userID))
	r.caches.Add(userID, c)
	return c
}

// Invalidate refetches the user's cache if one exists.
func (r *CacheRegistry) Invalidate(ctx context.Context, userID string) error {
	c, ok := r.caches.Peek(userID)
	if !ok {
		return nil
	}
	return c.Invalidate(ctx)
}

// Forget drops the user's cache, e.g. on sign-out.
func (r *CacheRegistry) Forget(userID string) {
	r.caches.Remove(userID)
}

// Len reports how many caches are live.
func (r *CacheRegistry) Len() int {
	return r.caches.Len()
}
