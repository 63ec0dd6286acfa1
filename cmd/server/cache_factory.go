package main

import (
	"github.com/matst80/wsgate/internal/obs"
	"github.com/matst80/wsgate/internal/resolver"
)

// newResolverCache creates either the in-process LRU cache or a Redis-backed
// one shared across instances, based on configuration.
func newResolverCache(cfg *Config) (resolver.Cache, error) {
	if cfg.RedisAddr == "" {
		obs.Info("resolver.cache", obs.Fields{"type": "memory", "capacity": cfg.CacheCapacity, "ttl": cfg.CacheTTL.String()})
		return resolver.NewMemoryCache(cfg.CacheCapacity, cfg.CacheTTL), nil
	}
	obs.Info("resolver.cache", obs.Fields{"type": "redis", "addr": cfg.RedisAddr, "ttl": cfg.CacheTTL.String()})
	return resolver.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
}
