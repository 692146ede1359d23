package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes another Source's results for a TTL.
type Cached struct {
	next  Source
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCached wraps next with a bounded cache holding about maxEntries results.
func NewCached(next Source, maxEntries int64, ttl time.Duration) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge cache: %w", err)
	}
	return &Cached{next: next, cache: cache, ttl: ttl}, nil
}

func (c *Cached) Search(ctx context.Context, domain, query string, topK int) ([]Match, error) {
	key := fmt.Sprintf("%s|%d|%s", domain, topK, strings.ToLower(strings.TrimSpace(query)))
	if v, ok := c.cache.Get(key); ok {
		return v.([]Match), nil
	}
	matches, err := c.next.Search(ctx, domain, query, topK)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(key, matches, 1, c.ttl)
	return matches, nil
}

// Wait blocks until buffered writes are visible.
func (c *Cached) Wait() { c.cache.Wait() }

func (c *Cached) Close() { c.cache.Close() }
