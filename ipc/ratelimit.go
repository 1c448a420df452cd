package ipc

import (
	"sync"
	"time"
)

// bucket is one caller identity's token bucket.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// rateLimiter is a per-caller-identity token bucket with periodic cleanup.
// Cleanup piggybacks on call handling rather than running its own timer, so
// the limiter never needs a goroutine of its own, and memory stays bounded
// by the number of distinct recently-active callers rather than growing
// without limit.
type rateLimiter struct {
	mu            sync.Mutex
	buckets       map[uint32]*bucket
	capacity      float64
	refillPerSec  float64
	idleEviction  time.Duration
	lastCleanup   time.Time
	cleanupPeriod time.Duration
}

func newRateLimiter(capacity int, refillPerSec float64) *rateLimiter {
	return &rateLimiter{
		buckets:       make(map[uint32]*bucket),
		capacity:      float64(capacity),
		refillPerSec:  refillPerSec,
		idleEviction:  10 * time.Minute,
		cleanupPeriod: time.Minute,
	}
}

// Allow reports whether caller uid may proceed now, consuming one token if
// so.
func (r *rateLimiter) Allow(uid uint32) bool {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cleanupLocked(now)

	b, ok := r.buckets[uid]
	if !ok {
		b = &bucket{tokens: r.capacity, lastRefill: now}
		r.buckets[uid] = b
	}
	b.lastSeen = now

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * r.refillPerSec
	if b.tokens > r.capacity {
		b.tokens = r.capacity
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// cleanupLocked evicts buckets idle for longer than idleEviction. Caller
// must hold r.mu.
func (r *rateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(r.lastCleanup) < r.cleanupPeriod {
		return
	}
	r.lastCleanup = now
	for uid, b := range r.buckets {
		if now.Sub(b.lastSeen) > r.idleEviction {
			delete(r.buckets, uid)
		}
	}
}
