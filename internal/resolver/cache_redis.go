package resolver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matst80/wsgate/internal/obs"
)

const redisKeyPrefix = "wsgate:resolve:"

// RedisCache shares resolved addresses between instances. Expiry is delegated
// to Redis key TTLs, so a read never observes a stale entry.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache connects to Redis and verifies the connection before use.
func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisCache{client: rdb, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, host string) (string, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+host).Result()
	if err != nil {
		if err != redis.Nil {
			obs.Error("resolver.cache.redis_get", obs.Fields{"err": err.Error(), "host": host})
		}
		c.misses.Add(1)
		obs.ResolverCacheMisses.Inc()
		return "", false
	}
	c.hits.Add(1)
	obs.ResolverCacheHits.Inc()
	return val, true
}

func (c *RedisCache) Put(ctx context.Context, host, addr string) {
	if err := c.client.Set(ctx, redisKeyPrefix+host, addr, c.ttl).Err(); err != nil {
		obs.Error("resolver.cache.redis_set", obs.Fields{"err": err.Error(), "host": host})
	}
}

func (c *RedisCache) Stats() CacheStats {
	return CacheStats{
		Backend: "redis",
		Size:    -1, // not tracked; keys expire server-side
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
