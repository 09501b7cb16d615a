package authz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/souqline/souqline/internal/observability"
	"github.com/souqline/souqline/internal/routemap"
	"github.com/souqline/souqline/internal/shared"
)

// DefaultRouteCacheTTL bounds how long a resolved mapping may be served
// without consulting the store again.
const DefaultRouteCacheTTL = 5 * time.Minute

// MappingStore resolves route mappings. shared.ErrNotFound signals an
// unmapped route, which the cache stores as an explicit sentinel.
type MappingStore interface {
	FindMapping(ctx context.Context, method, path string) (*routemap.Mapping, error)
}

type cacheEntry struct {
	mapping  *routemap.Mapping // nil = cached "not found"
	cachedAt time.Time
}

// RouteCache is an in-process, time-bounded cache over a MappingStore.
// Concurrent cold-cache lookups for the same key are not deduplicated; the
// duplicate store queries are acceptable for this read-mostly workload.
type RouteCache struct {
	store   MappingStore
	ttl     time.Duration
	metrics *observability.Metrics

	mu      sync.RWMutex
	entries map[string]cacheEntry

	now func() time.Time
}

// NewRouteCache constructs a RouteCache. ttl <= 0 selects the default.
func NewRouteCache(store MappingStore, ttl time.Duration, metrics *observability.Metrics) *RouteCache {
	if ttl <= 0 {
		ttl = DefaultRouteCacheTTL
	}
	return &RouteCache{
		store:   store,
		ttl:     ttl,
		metrics: metrics,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Lookup resolves method+path to a mapping, consulting the store on miss and
// caching the result, including the "not found" case. A nil mapping with nil
// error means the route has no mapping.
func (c *RouteCache) Lookup(ctx context.Context, method, path string) (*routemap.Mapping, error) {
	key := method + ":" + path

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		// The lookup path owns the staleness check; the background sweep is
		// only a memory bound.
		if c.now().Sub(entry.cachedAt) <= c.ttl {
			c.metrics.ObserveRouteCache(observability.CacheHit)
			return entry.mapping, nil
		}
		c.metrics.ObserveRouteCache(observability.CacheExpired)
	} else {
		c.metrics.ObserveRouteCache(observability.CacheMiss)
	}

	mapping, err := c.store.FindMapping(ctx, method, path)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		mapping = nil
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{mapping: mapping, cachedAt: c.now()}
	c.mu.Unlock()
	return mapping, nil
}

// Invalidate drops a single cached entry, used by mapping administration.
func (c *RouteCache) Invalidate(method, path string) {
	c.mu.Lock()
	delete(c.entries, method+":"+path)
	c.mu.Unlock()
}

// Len reports the number of cached entries, expired or not.
func (c *RouteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartSweep runs the periodic eviction loop until ctx is cancelled. The
// interval equals the TTL; expired-but-unswept entries are already treated as
// misses by Lookup.
func (c *RouteCache) StartSweep(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *RouteCache) sweep() {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.cachedAt.Before(cutoff) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
