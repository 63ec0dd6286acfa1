package resolver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"

	"github.com/matst80/wsgate/internal/obs"
)

// Cache maps a hostname to its last successfully resolved address. Entries
// older than the configured TTL are treated as absent.
type Cache interface {
	Get(ctx context.Context, host string) (addr string, ok bool)
	Put(ctx context.Context, host, addr string)
	Stats() CacheStats
}

// CacheStats is a point-in-time snapshot for the diagnostics endpoint.
type CacheStats struct {
	Backend string `json:"backend"`
	Size    int    `json:"size"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Stale   int64  `json:"stale"`
}

type memoryEntry struct {
	addr string
	at   time.Time
}

// MemoryCache is an LRU cache with a hard capacity cap. Staleness is checked
// on read against the entry timestamp, so a stale entry is bypassed rather
// than served even if the LRU has not evicted it yet.
type MemoryCache struct {
	lru gcache.Cache
	ttl time.Duration
	now func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
	stale  atomic.Int64
}

// NewMemoryCache builds an in-memory cache holding at most capacity entries,
// serving each for at most ttl after the resolution that stored it.
func NewMemoryCache(capacity int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: gcache.New(capacity).LRU().Build(),
		ttl: ttl,
		now: time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, host string) (string, bool) {
	v, err := c.lru.Get(host)
	if err != nil {
		c.misses.Add(1)
		obs.ResolverCacheMisses.Inc()
		return "", false
	}
	e := v.(memoryEntry)
	if c.now().Sub(e.at) >= c.ttl {
		c.stale.Add(1)
		c.misses.Add(1)
		obs.ResolverCacheMisses.Inc()
		return "", false
	}
	c.hits.Add(1)
	obs.ResolverCacheHits.Inc()
	return e.addr, true
}

func (c *MemoryCache) Put(_ context.Context, host, addr string) {
	_ = c.lru.Set(host, memoryEntry{addr: addr, at: c.now()})
}

func (c *MemoryCache) Stats() CacheStats {
	return CacheStats{
		Backend: "memory",
		Size:    c.lru.Len(false),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Stale:   c.stale.Load(),
	}
}
