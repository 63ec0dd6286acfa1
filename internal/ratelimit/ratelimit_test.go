package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	bucket := NewTokenBucket(2, 5)

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("initial request %d denied", i)
		}
	}
	if bucket.Allow() {
		t.Error("request allowed with empty bucket")
	}

	time.Sleep(1100 * time.Millisecond)

	// Roughly 2 tokens refilled after a second.
	if !bucket.Allow() {
		t.Error("request denied after refill")
	}
	if !bucket.Allow() {
		t.Error("second request denied after refill")
	}
	if bucket.Allow() {
		t.Error("third request allowed, bucket should be empty again")
	}
}

func TestSessionLimiterPerRemote(t *testing.T) {
	l := NewSessionLimiter(0, 1, 2)

	for i := 0; i < 2; i++ {
		if !l.Allow("10.0.0.1") {
			t.Errorf("burst session %d denied", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("session allowed past per-remote burst")
	}
	// A different remote has its own bucket.
	if !l.Allow("10.0.0.2") {
		t.Error("independent remote denied")
	}
}

func TestSessionLimiterDisabled(t *testing.T) {
	l := NewSessionLimiter(0, 0, 1)
	for i := 0; i < 100; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatal("disabled limiter denied a session")
		}
	}
}

func TestSessionLimiterPrune(t *testing.T) {
	l := NewSessionLimiter(0, 1, 1)
	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")
	if removed := l.Prune(0); removed != 2 {
		t.Errorf("Prune removed %d, want 2", removed)
	}
	if removed := l.Prune(time.Hour); removed != 0 {
		t.Errorf("Prune on empty limiter removed %d", removed)
	}
}
