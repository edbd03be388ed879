package scrape

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedFetcher memoizes successful fetches for a bounded time. Failures are
// never cached, and cache hits report zero reader tokens.
type CachedFetcher struct {
	next  Fetcher
	cache *expirable.LRU[string, *Result]
}

// NewCachedFetcher wraps next with an LRU of the given size and TTL.
func NewCachedFetcher(next Fetcher, size int, ttl time.Duration) *CachedFetcher {
	if size <= 0 {
		size = 512
	}
	return &CachedFetcher{
		next:  next,
		cache: expirable.NewLRU[string, *Result](size, nil, ttl),
	}
}

// Name implements Fetcher.
func (c *CachedFetcher) Name() string { return c.next.Name() }

// Fetch implements Fetcher.
func (c *CachedFetcher) Fetch(ctx context.Context, targetURL string) (*Result, error) {
	if r, ok := c.cache.Get(targetURL); ok {
		cp := *r
		cp.Tokens = 0
		return &cp, nil
	}
	r, err := c.next.Fetch(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	c.cache.Add(targetURL, r)
	cp := *r
	return &cp, nil
}

// Len reports the number of cached pages.
func (c *CachedFetcher) Len() int { return c.cache.Len() }
