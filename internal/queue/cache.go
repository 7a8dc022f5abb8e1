package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
)

const cacheVersionKey = "receiving:queue:version"

// Cache is the Redis-backed queue view cache. Mutations bump a version
// counter instead of deleting keys, so stale entries simply age out under
// their TTL. Concurrent cache misses for the same version collapse into a
// single repository load.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the queue cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// TryRebuildLock claims the short-lived rebuild lock. A false return means
// another process is already resynchronising the view and this caller
// should skip its rebuild.
func (c *Cache) TryRebuildLock(ctx context.Context, ttl time.Duration) (bool, error) {
	if c == nil || c.client == nil {
		return true, nil
	}
	return c.client.SetNX(ctx, shared.ReceivingQueueLockKey(), 1, ttl).Result()
}

// ReleaseRebuildLock drops the rebuild lock early instead of waiting for
// its TTL to lapse.
func (c *Cache) ReleaseRebuildLock(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, shared.ReceivingQueueLockKey()).Err()
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Invalidate bumps the version so every cached view key goes stale.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// Items serves the queue view from cache, loading through the repository on
// a miss. The loader runs at most once per version key at a time.
func (c *Cache) Items(ctx context.Context, loader func(context.Context) ([]Item, error)) ([]Item, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("receiving:queue:items:%d", ver)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var items []Item
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	if err != redis.Nil {
		return nil, err
	}

	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		items, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return items, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Item), nil
	}
}
