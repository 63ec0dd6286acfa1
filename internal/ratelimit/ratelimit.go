// Package ratelimit provides token-bucket admission control for new tunnel
// sessions, keyed by the remote address.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a refilling token bucket.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a bucket refilling at rate tokens/second up to capacity.
func NewTokenBucket(rate, capacity int) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		rate:       float64(rate),
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

type remoteBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// SessionLimiter gates new sessions globally and per remote host.
// Rates of 0 disable the corresponding check.
type SessionLimiter struct {
	mu        sync.Mutex
	global    *TokenBucket
	perRemote map[string]*remoteBucket
	rate      int
	burst     int
}

// NewSessionLimiter builds a limiter with the given global and per-remote
// session rates (sessions per second) and shared burst size.
func NewSessionLimiter(globalRate, perRemoteRate, burst int) *SessionLimiter {
	l := &SessionLimiter{
		perRemote: make(map[string]*remoteBucket),
		rate:      perRemoteRate,
		burst:     burst,
	}
	if globalRate > 0 {
		l.global = NewTokenBucket(globalRate, burst)
	}
	return l
}

// Allow reports whether a new session from remote may be admitted.
func (l *SessionLimiter) Allow(remote string) bool {
	if l.global != nil && !l.global.Allow() {
		return false
	}
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	rb, ok := l.perRemote[remote]
	if !ok {
		rb = &remoteBucket{bucket: NewTokenBucket(l.rate, l.burst)}
		l.perRemote[remote] = rb
	}
	rb.lastSeen = time.Now()
	l.mu.Unlock()
	return rb.bucket.Allow()
}

// Prune drops per-remote buckets idle for longer than maxIdle.
func (l *SessionLimiter) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for remote, rb := range l.perRemote {
		if rb.lastSeen.Before(cutoff) {
			delete(l.perRemote, remote)
			removed++
		}
	}
	return removed
}
