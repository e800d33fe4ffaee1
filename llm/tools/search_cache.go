package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// SearchCache is the key/value store behind CachedSearchProvider.
// internal/cache.Manager satisfies it.
type SearchCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CacheObserver receives hit/miss events, e.g. the prometheus collector.
type CacheObserver interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// CachedSearchProvider memoizes search results per (provider, query, options).
// Cache failures never fail the search.
type CachedSearchProvider struct {
	next     WebSearchProvider
	cache    SearchCache
	ttl      time.Duration
	observer CacheObserver
	logger   *zap.Logger
}

// NewCachedSearchProvider wraps next with a result cache. observer may be nil.
func NewCachedSearchProvider(next WebSearchProvider, cache SearchCache, ttl time.Duration, observer CacheObserver, logger *zap.Logger) *CachedSearchProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSearchProvider{
		next:     next,
		cache:    cache,
		ttl:      ttl,
		observer: observer,
		logger:   logger.With(zap.String("component", "search_cache")),
	}
}

// Name returns the wrapped provider name.
func (c *CachedSearchProvider) Name() string { return c.next.Name() }

// Search returns cached results when present, otherwise queries and stores them.
func (c *CachedSearchProvider) Search(ctx context.Context, query string, opts WebSearchOptions) ([]WebSearchResult, error) {
	key := SearchCacheKey(c.next.Name(), query, opts)

	var cached []WebSearchResult
	if err := c.cache.GetJSON(ctx, key, &cached); err == nil {
		c.observe(true)
		c.logger.Debug("search cache hit", zap.String("query", query))
		return cached, nil
	}
	c.observe(false)

	results, err := c.next.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, key, results, c.ttl); err != nil {
		c.logger.Warn("search cache write failed", zap.String("query", query), zap.Error(err))
	}
	return results, nil
}

func (c *CachedSearchProvider) observe(hit bool) {
	if c.observer == nil {
		return
	}
	if hit {
		c.observer.RecordCacheHit("search")
	} else {
		c.observer.RecordCacheMiss("search")
	}
}

// SearchCacheKey derives a stable key from the provider, query and options.
func SearchCacheKey(provider, query string, opts WebSearchOptions) string {
	payload, _ := json.Marshal(struct {
		Query string           `json:"q"`
		Opts  WebSearchOptions `json:"o"`
	}{query, opts})
	sum := sha256.Sum256(payload)
	return "search:" + provider + ":" + hex.EncodeToString(sum[:16])
}
