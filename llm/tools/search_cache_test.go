package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/cache"
	"go.uber.org/zap"
)

type countingObserver struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (o *countingObserver) RecordCacheHit(string)  { o.mu.Lock(); o.hits++; o.mu.Unlock() }
func (o *countingObserver) RecordCacheMiss(string) { o.mu.Lock(); o.misses++; o.mu.Unlock() }

func newTestCache(t *testing.T) (*miniredis.Miniredis, *cache.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "dr:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestCachedSearchProvider_HitAfterMiss(t *testing.T) {
	_, store := newTestCache(t)
	inner := &mockWebSearchProvider{
		name:    "mock",
		results: []WebSearchResult{{Title: "A", URL: "https://a", Content: "c", RawContent: "raw"}},
	}
	obs := &countingObserver{}
	p := NewCachedSearchProvider(inner, store, time.Hour, obs, zap.NewNop())
	ctx := context.Background()

	first, err := p.Search(ctx, "q", DefaultWebSearchOptions())
	require.NoError(t, err)
	second, err := p.Search(ctx, "q", DefaultWebSearchOptions())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, "mock", p.Name())

	// different options are a different key
	opts := DefaultWebSearchOptions()
	opts.Topic = "news"
	_, err = p.Search(ctx, "q", opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedSearchProvider_ErrorsAreNotCached(t *testing.T) {
	_, store := newTestCache(t)
	inner := &mockWebSearchProvider{name: "mock", err: errors.New("down")}
	p := NewCachedSearchProvider(inner, store, time.Hour, nil, nil)

	_, err := p.Search(context.Background(), "q", DefaultWebSearchOptions())
	require.Error(t, err)
	_, err = p.Search(context.Background(), "q", DefaultWebSearchOptions())
	require.Error(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedSearchProvider_CacheDownStillSearches(t *testing.T) {
	mr, store := newTestCache(t)
	inner := &mockWebSearchProvider{name: "mock", results: []WebSearchResult{{Title: "A", URL: "https://a"}}}
	p := NewCachedSearchProvider(inner, store, time.Hour, nil, nil)

	mr.Close()
	results, err := p.Search(context.Background(), "q", DefaultWebSearchOptions())
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchCacheKey(t *testing.T) {
	opts := DefaultWebSearchOptions()
	a := SearchCacheKey("tavily", "q", opts)
	assert.Equal(t, a, SearchCacheKey("tavily", "q", opts))
	assert.NotEqual(t, a, SearchCacheKey("tavily", "q2", opts))
	assert.NotEqual(t, a, SearchCacheKey("other", "q", opts))
	assert.Contains(t, a, "search:tavily:")
}
