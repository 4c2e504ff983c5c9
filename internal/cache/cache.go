// Package cache is the region-prefixed result cache in front of the
// search index. Regions are invalidated wholesale whenever a write
// lands, so readers only ever see results at most one expiration stale.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache regions. Every cached key is prefixed "<region>:".
const (
	RegionTraceback = "traceback"
	RegionJira      = "jira"
)

const (
	// logicalTTL is how long a cached result is served.
	logicalTTL = 15 * time.Minute
	// serverTTL is the redis-side safety expiry, slightly longer so
	// entries die on their own even if invalidation never comes.
	serverTTL = 20 * time.Minute
)

// envelope wraps cached payloads with their build time so the logical
// expiry can be shorter than the redis TTL.
type envelope struct {
	CachedAt time.Time       `json:"cached_at"`
	Payload  json.RawMessage `json:"payload"`
}

func (e envelope) stale(now time.Time) bool {
	return now.Sub(e.CachedAt) > logicalTTL
}

// Coordinator is the shared cache handle. With caching configured off
// it degrades to a null cache that always misses, satisfying the same
// interface.
type Coordinator struct {
	rdb     *redis.Client
	log     *zap.Logger
	enabled bool
	now     func() time.Time

	// onInvalidate runs after a region wipe; wired to the cache-warming
	// task enqueue.
	onInvalidate func(ctx context.Context)
}

func NewCoordinator(rdb *redis.Client, enabled bool, log *zap.Logger) *Coordinator {
	return &Coordinator{rdb: rdb, log: log, enabled: enabled, now: time.Now}
}

// SetInvalidationHook installs the post-invalidation callback. Set once
// at wiring time, before any traffic.
func (c *Coordinator) SetInvalidationHook(fn func(ctx context.Context)) {
	c.onInvalidate = fn
}

// Get is cache-aside: return the cached value for region:key, or run
// build, cache its result, and return it. out must be a pointer.
func (c *Coordinator) Get(ctx context.Context, region, key string, out any, build func(ctx context.Context) (any, error)) error {
	fullKey := region + ":" + key

	if c.enabled {
		raw, err := c.rdb.Get(ctx, fullKey).Bytes()
		if err == nil {
			var env envelope
			if json.Unmarshal(raw, &env) == nil && !env.stale(c.now()) {
				return json.Unmarshal(env.Payload, out)
			}
		} else if err != redis.Nil {
			c.log.Warn("cache read failed, building", zap.String("key", fullKey), zap.Error(err))
		}
	}

	value, err := build(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value %s: %w", fullKey, err)
	}

	if c.enabled {
		env, err := json.Marshal(envelope{CachedAt: c.now(), Payload: payload})
		if err == nil {
			if err := c.rdb.Set(ctx, fullKey, env, serverTTL).Err(); err != nil {
				c.log.Warn("cache write failed", zap.String("key", fullKey), zap.Error(err))
			}
		}
	}
	return json.Unmarshal(payload, out)
}

// Invalidate wipes every key in the region, then fires the warm-up
// hook.
func (c *Coordinator) Invalidate(ctx context.Context, region string) error {
	if c.enabled {
		iter := c.rdb.Scan(ctx, 0, region+":*", 500).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan region %s: %w", region, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete region %s: %w", region, err)
			}
		}
		c.log.Info("cache region invalidated", zap.String("region", region), zap.Int("keys", len(keys)))
	}
	if c.onInvalidate != nil {
		c.onInvalidate(ctx)
	}
	return nil
}

// InvalidateAll wipes both regions.
func (c *Coordinator) InvalidateAll(ctx context.Context) error {
	for _, region := range []string{RegionTraceback, RegionJira} {
		if err := c.Invalidate(ctx, region); err != nil {
			return err
		}
	}
	return nil
}
