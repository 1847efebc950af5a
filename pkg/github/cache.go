package github

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gitrewind/platform/pkg/common/logger"
)

// responseCache is a read-through cache over API responses. A nil
// cache disables caching; a cache failure is never allowed to fail
// the fetch it fronts.
type responseCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newResponseCache(client *redis.Client, ttl time.Duration) *responseCache {
	if client == nil {
		return nil
	}
	return &responseCache{client: client, ttl: ttl}
}

func (c *responseCache) get(ctx context.Context, key string, out interface{}) bool {
	if c == nil {
		return false
	}
	data, err := c.client.Get(ctx, "ghcache:"+key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("corrupt cache entry, refetching")
		return false
	}
	return true
}

func (c *responseCache) set(ctx context.Context, key string, value interface{}) {
	if c == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, "ghcache:"+key, data, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).WithField("key", key).Debug("cache write failed")
	}
}
