package client

import "context"

type cacheContextKey struct{}

// WithPermissionCache stores c in ctx.
func WithPermissionCache(ctx context.Context, c *PermissionCache) context.Context {
	return context.WithValue(ctx, cacheContextKey{}, c)
}

// PermissionCacheFromContext extracts the cache stored by WithPermissionCache.
func PermissionCacheFromContext(ctx context.Context) *PermissionCache {
	c, _ := ctx.Value(cacheContextKey{}).(*PermissionCache)
	return c
}
