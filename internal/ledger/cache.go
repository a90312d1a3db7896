package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache is a redis read-through cache for current-stock lookups.
// Best effort: every method degrades to a miss or no-op when redis is
// unavailable, and writers invalidate after each committed append.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache constructs the cache.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(productID int64) string {
	return fmt.Sprintf("ledger:snapshot:%d", productID)
}

// Get returns the cached snapshot and whether it was present.
func (c *SnapshotCache) Get(ctx context.Context, productID int64) (Snapshot, bool) {
	if c == nil || c.client == nil {
		return Snapshot{}, false
	}
	payload, err := c.client.Get(ctx, snapshotKey(productID)).Bytes()
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// Set stores the snapshot with the configured TTL.
func (c *SnapshotCache) Set(ctx context.Context, snap Snapshot) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	c.client.Set(ctx, snapshotKey(snap.ProductID), payload, c.ttl)
}

// Invalidate drops the cached snapshot after a write.
func (c *SnapshotCache) Invalidate(ctx context.Context, productID int64) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, snapshotKey(productID))
}
