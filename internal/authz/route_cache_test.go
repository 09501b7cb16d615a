package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souqline/souqline/internal/routemap"
	"github.com/souqline/souqline/internal/shared"
)

type countingStore struct {
	calls    int
	mappings map[string]*routemap.Mapping
	err      error
}

func (s *countingStore) FindMapping(_ context.Context, method, path string) (*routemap.Mapping, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if m, ok := s.mappings[method+" "+path]; ok {
		return m, nil
	}
	return nil, shared.ErrNotFound
}

func TestRouteCacheServesFromCacheWithinTTL(t *testing.T) {
	perm := "view_products"
	store := &countingStore{mappings: map[string]*routemap.Mapping{
		"GET /api/v1/products": {ID: 1, Path: "/api/v1/products", Method: "GET", PermissionName: &perm},
	}}
	cache := NewRouteCache(store, time.Minute, nil)

	for i := 0; i < 5; i++ {
		m, err := cache.Lookup(context.Background(), "GET", "/api/v1/products")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "view_products", *m.PermissionName)
	}
	assert.Equal(t, 1, store.calls)
}

func TestRouteCacheCachesNotFound(t *testing.T) {
	store := &countingStore{}
	cache := NewRouteCache(store, time.Minute, nil)

	for i := 0; i < 3; i++ {
		m, err := cache.Lookup(context.Background(), "GET", "/api/v1/unmapped")
		require.NoError(t, err)
		assert.Nil(t, m)
	}
	assert.Equal(t, 1, store.calls, "not-found result must be cached, not re-queried")
}

func TestRouteCacheExpiryRefetches(t *testing.T) {
	store := &countingStore{}
	cache := NewRouteCache(store, time.Minute, nil)
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Lookup(context.Background(), "GET", "/api/v1/orders")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	now = now.Add(59 * time.Second)
	_, err = cache.Lookup(context.Background(), "GET", "/api/v1/orders")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls, "entry within TTL must be served from cache")

	now = now.Add(2 * time.Second)
	_, err = cache.Lookup(context.Background(), "GET", "/api/v1/orders")
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls, "expired entry must be refetched")
}

func TestRouteCacheStoreErrorNotCached(t *testing.T) {
	store := &countingStore{err: errors.New("connection refused")}
	cache := NewRouteCache(store, time.Minute, nil)

	_, err := cache.Lookup(context.Background(), "GET", "/api/v1/orders")
	require.Error(t, err)
	_, err = cache.Lookup(context.Background(), "GET", "/api/v1/orders")
	require.Error(t, err)
	assert.Equal(t, 2, store.calls, "errors must not populate the cache")
	assert.Equal(t, 0, cache.Len())
}

func TestRouteCacheSweepEvictsExpired(t *testing.T) {
	store := &countingStore{}
	cache := NewRouteCache(store, time.Minute, nil)
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Lookup(context.Background(), "GET", "/api/v1/a")
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = cache.Lookup(context.Background(), "GET", "/api/v1/b")
	require.NoError(t, err)
	require.Equal(t, 2, cache.Len())

	now = now.Add(45 * time.Second)
	cache.sweep()
	assert.Equal(t, 1, cache.Len(), "only the stale entry is evicted")
}

func TestRouteCacheInvalidate(t *testing.T) {
	store := &countingStore{}
	cache := NewRouteCache(store, time.Minute, nil)

	_, err := cache.Lookup(context.Background(), "GET", "/api/v1/orders")
	require.NoError(t, err)
	cache.Invalidate("GET", "/api/v1/orders")

	_, err = cache.Lookup(context.Background(), "GET", "/api/v1/orders")
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}
