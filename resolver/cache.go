package resolver

import (
	"context"
	"time"

	ttlworker "github.com/FloatTech/ttl"

	"teraresolve/internal"
)

// CachedResolver memoizes successful resolutions per share URL and proxy.
// Failures are never cached.
type CachedResolver struct {
	inner internal.ShareResolver
	cache *ttlworker.Cache[string, *internal.ResolutionResult]
}

// NewCachedResolver wraps inner so repeat requests within ttl skip upstream
func NewCachedResolver(inner internal.ShareResolver, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		inner: inner,
		cache: ttlworker.NewCache[string, *internal.ResolutionResult](ttl),
	}
}

func cacheKey(req internal.ResolutionRequest) string {
	return req.URL + "\x00" + req.ProxyURL
}

// Resolve returns a cached result when present, otherwise resolves and stores
// non-empty results.
func (c *CachedResolver) Resolve(ctx context.Context, req internal.ResolutionRequest) (*internal.ResolutionResult, error) {
	key := cacheKey(req)
	if cached := c.cache.Get(key); cached != nil {
		internal.LogDebug("Cache hit for %s", req.URL)
		return cached, nil
	}

	result, err := c.inner.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.Empty() {
		c.cache.Set(key, result)
	}
	return result, nil
}

// Invalidate drops the cached result for req
func (c *CachedResolver) Invalidate(req internal.ResolutionRequest) {
	c.cache.Delete(cacheKey(req))
}
