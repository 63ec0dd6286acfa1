package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matst80/wsgate/internal/resolver"
)

// Config holds all runtime configuration. Defaults come from the environment
// so the binary runs unmodified on platforms that only inject env vars; flags
// override.
type Config struct {
	ListenAddr    string
	MetricsAddr   string
	Secret        string
	FallbackHosts []string
	DoHBackends   []string
	CacheTTL      time.Duration
	CacheCapacity int
	DialTimeout   time.Duration

	// Redis-backed resolver cache; empty addr selects the in-memory LRU.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GlobalSessionRate int
	RemoteSessionRate int
	SessionBurst      int

	Debug bool
}

var (
	cfg          Config
	rawFallbacks string
	rawBackends  string
)

func init() {
	listenDefault := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		listenDefault = ":" + port
	}
	flag.StringVar(&cfg.ListenAddr, "listen", envOr("WSGATE_LISTEN", listenDefault), "tunnel and diagnostics listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", envOr("WSGATE_METRICS", ":9100"), "metrics and health listen address")
	flag.StringVar(&cfg.Secret, "secret", envOr("WSGATE_SECRET", ""), "shared secret clients must present as a subprotocol; empty disables the gate")
	flag.StringVar(&rawFallbacks, "fallback-hosts", envOr("WSGATE_FALLBACK_HOSTS", ""), "comma-separated egress hosts tried when the requested host is unreachable")
	flag.StringVar(&rawBackends, "doh-backends", envOr("WSGATE_DOH_URLS", strings.Join(resolver.DefaultBackendSpecs, ",")), "comma-separated DoH backend URLs; prefix wire+ for RFC 8484 wire format")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", envDuration("WSGATE_CACHE_TTL", resolver.DefaultTTL), "resolver cache entry lifetime")
	flag.IntVar(&cfg.CacheCapacity, "cache-capacity", envInt("WSGATE_CACHE_CAPACITY", 4096), "resolver cache entry cap (memory backend)")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", envDuration("WSGATE_DIAL_TIMEOUT", 10*time.Second), "per-attempt TCP connect timeout")
	flag.StringVar(&cfg.RedisAddr, "redis", envOr("WSGATE_REDIS_ADDR", ""), "redis address for a shared resolver cache; empty keeps the cache in-process")
	flag.StringVar(&cfg.RedisPassword, "redis-password", envOr("WSGATE_REDIS_PASSWORD", ""), "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", envInt("WSGATE_REDIS_DB", 0), "redis database number")
	flag.IntVar(&cfg.GlobalSessionRate, "session-rate", envInt("WSGATE_SESSION_RATE", 0), "global new-session rate per second; 0 disables")
	flag.IntVar(&cfg.RemoteSessionRate, "session-rate-per-remote", envInt("WSGATE_SESSION_RATE_PER_REMOTE", 0), "per-remote new-session rate per second; 0 disables")
	flag.IntVar(&cfg.SessionBurst, "session-burst", envInt("WSGATE_SESSION_BURST", 10), "session rate limiter burst size")
	flag.BoolVar(&cfg.Debug, "debug", os.Getenv("WSGATE_DEBUG") != "", "enable debug logs")
}

// parseConfig finalizes cfg from the command line. Parse must not run during
// package init: the test binary registers its own flags after init.
func parseConfig() {
	flag.Parse()
	cfg.FallbackHosts = splitList(rawFallbacks)
	cfg.DoHBackends = splitList(rawBackends)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
