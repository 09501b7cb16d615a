package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "vendors:summary:"

// CachedStore caches dashboard summaries in Redis. The aggregates are scalar
// subqueries over three tables, cheap enough to recompute but hot on vendor
// home screens. A nil client degrades to pass-through.
type CachedStore struct {
	store  SummaryStore
	client *redis.Client
	ttl    time.Duration
}

var _ SummaryStore = (*CachedStore)(nil)

// NewCachedStore wraps store with a Redis cache.
func NewCachedStore(store SummaryStore, client *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{store: store, client: client, ttl: ttl}
}

// Summary returns the cached aggregate, loading and storing on miss. Cache
// failures fall back to the underlying store.
func (c *CachedStore) Summary(ctx context.Context, vendorID int64) (*Summary, error) {
	if c.client == nil {
		return c.store.Summary(ctx, vendorID)
	}
	key := fmt.Sprintf("%s%d", cacheKeyPrefix, vendorID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var summary Summary
		if err := json.Unmarshal(payload, &summary); err == nil {
			return &summary, nil
		}
	}
	summary, err := c.store.Summary(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(summary); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return summary, nil
}

// Invalidate drops one vendor's cached summary.
func (c *CachedStore) Invalidate(ctx context.Context, vendorID int64) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, fmt.Sprintf("%s%d", cacheKeyPrefix, vendorID)).Err()
}
