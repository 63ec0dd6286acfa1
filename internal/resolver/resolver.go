// Package resolver resolves hostnames to IPv4 addresses through an ordered
// chain of DNS-over-HTTPS backends with a TTL-bounded cache in front and the
// system resolver as last resort.
package resolver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/matst80/wsgate/internal/obs"
)

// ErrExhausted is returned when every backend and the system resolver failed.
var ErrExhausted = errors.New("resolver: all backends exhausted")

// DefaultTTL bounds how long a cached resolution is served.
const DefaultTTL = 5 * time.Minute

// DefaultTimeout bounds each individual backend query.
const DefaultTimeout = 5 * time.Second

// DefaultBackendSpecs is the stock DoH chain.
var DefaultBackendSpecs = []string{
	"https://dns.google/resolve",
	"https://cloudflare-dns.com/dns-query",
	"wire+https://dns.quad9.net/dns-query",
}

// SystemLookup resolves a hostname to one IPv4 address without DoH.
type SystemLookup func(ctx context.Context, host string) (string, error)

type backendStats struct {
	success atomic.Int64
	failure atomic.Int64
}

// Resolver implements the cache -> DoH chain -> system fallback ordering.
// Backend failures are never retried in place; they only advance the chain.
type Resolver struct {
	backends []Backend
	cache    Cache
	system   SystemLookup
	timeout  time.Duration
	stats    []*backendStats
}

// Option tweaks a Resolver.
type Option func(*Resolver)

// WithTimeout overrides the per-backend query bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithSystemLookup replaces the system-resolver fallback.
func WithSystemLookup(fn SystemLookup) Option {
	return func(r *Resolver) { r.system = fn }
}

// New builds a Resolver over the given cache and backend chain.
func New(cache Cache, backends []Backend, opts ...Option) *Resolver {
	r := &Resolver{
		backends: backends,
		cache:    cache,
		system:   systemLookupIPv4,
		timeout:  DefaultTimeout,
		stats:    make([]*backendStats, len(backends)),
	}
	for i := range r.stats {
		r.stats[i] = &backendStats{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromSpecs builds a Resolver from backend spec strings (see
// ParseBackendSpec). The HTTP client carries the per-query timeout as a
// second bound alongside the request context.
func NewFromSpecs(cache Cache, specs []string, opts ...Option) (*Resolver, error) {
	client := &http.Client{Timeout: DefaultTimeout}
	backends := make([]Backend, 0, len(specs))
	for _, spec := range specs {
		b, err := ParseBackendSpec(spec, client)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return New(cache, backends, opts...), nil
}

// Resolve maps a hostname to an IPv4 address. Literal IP addresses (v4 or v6)
// are returned unchanged without any lookup.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	if addr, ok := r.cache.Get(ctx, host); ok {
		return addr, nil
	}
	for i, b := range r.backends {
		qctx, cancel := context.WithTimeout(ctx, r.timeout)
		addr, err := b.LookupA(qctx, host)
		cancel()
		if err != nil {
			r.stats[i].failure.Add(1)
			obs.ResolverLookupsTotal.WithLabelValues(b.Name(), "error").Inc()
			obs.Debug("resolver.backend.miss", obs.Fields{"backend": b.Name(), "host": host, "err": err.Error()})
			continue
		}
		r.stats[i].success.Add(1)
		obs.ResolverLookupsTotal.WithLabelValues(b.Name(), "ok").Inc()
		r.cache.Put(ctx, host, addr)
		return addr, nil
	}
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	addr, err := r.system(qctx, host)
	if err != nil {
		obs.ResolverLookupsTotal.WithLabelValues("system", "error").Inc()
		return "", ErrExhausted
	}
	obs.ResolverLookupsTotal.WithLabelValues("system", "ok").Inc()
	r.cache.Put(ctx, host, addr)
	return addr, nil
}

// BackendStats is a per-backend snapshot for the diagnostics endpoint.
type BackendStats struct {
	Name    string `json:"name"`
	Success int64  `json:"success"`
	Failure int64  `json:"failure"`
}

// Stats reports the cache snapshot and per-backend counters.
func (r *Resolver) Stats() (CacheStats, []BackendStats) {
	out := make([]BackendStats, len(r.backends))
	for i, b := range r.backends {
		out[i] = BackendStats{
			Name:    b.Name(),
			Success: r.stats[i].success.Load(),
			Failure: r.stats[i].failure.Load(),
		}
	}
	return r.cache.Stats(), out
}

func systemLookupIPv4(ctx context.Context, host string) (string, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no IPv4 address")
	}
	return ips[0].String(), nil
}
