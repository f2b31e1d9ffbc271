// Package ratelimit keeps one token bucket per key (a chat user or an API
// caller) and forgets buckets that sat idle.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultIdle = 10 * time.Minute
	sweepEveryN = 5000
)

// Buckets is a set of keyed token buckets. Safe for concurrent use.
type Buckets struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	byKey   map[string]*bucket
	lookups uint64
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New returns buckets refilling rps tokens per second up to burst (at least
// 1). rps <= 0 makes Allow always true.
func New(rps float64, burst int) *Buckets {
	if burst <= 0 {
		burst = 1
	}
	return &Buckets{
		limit: rate.Limit(rps),
		burst: burst,
		idle:  defaultIdle,
		now:   time.Now,
		byKey: make(map[string]*bucket),
	}
}

// Allow spends one token from key's bucket.
func (b *Buckets) Allow(key string) bool {
	if b.limit <= 0 {
		return true
	}
	return b.get(key).AllowN(b.now(), 1)
}

// Wait reports whether key may proceed now and, when it may not, how long
// until a token is available.
func (b *Buckets) Wait(key string) (bool, time.Duration) {
	if b.limit <= 0 {
		return true, 0
	}
	now := b.now()
	r := b.get(key).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Len returns the number of live buckets.
func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey)
}

// get returns key's bucket. Every sweepEveryN lookups, buckets idle longer
// than b.idle are dropped first.
func (b *Buckets) get(key string) *rate.Limiter {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lookups++
	if b.lookups >= sweepEveryN {
		for k, v := range b.byKey {
			if now.Sub(v.lastSeen) >= b.idle {
				delete(b.byKey, k)
			}
		}
		b.lookups = 0
	}
	if v, ok := b.byKey[key]; ok {
		v.lastSeen = now
		return v.lim
	}
	lim := rate.NewLimiter(b.limit, b.burst)
	b.byKey[key] = &bucket{lim: lim, lastSeen: now}
	return lim
}
