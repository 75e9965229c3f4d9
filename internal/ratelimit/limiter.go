// Package ratelimit throttles report requests per client with token buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sets the sustained rate and the burst allowed per client.
type Config struct {
	PerMinute int
	Burst     int
}

// DefaultConfig allows five report requests a minute with a burst of three.
func DefaultConfig() Config {
	return Config{PerMinute: 5, Burst: 3}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client key. Buckets idle for longer than
// the sweep age are dropped by Sweep. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// New creates a limiter. A non-positive PerMinute disables limiting.
func New(cfg Config) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Inf,
		burst:   max(cfg.Burst, 1),
		now:     time.Now,
	}
	if cfg.PerMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(cfg.PerMinute))
	}
	return l
}

// Allow takes a token for key. When none is available it returns false and
// how long the client should wait before retrying.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l.limit == rate.Inf {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// Sweep drops buckets not used within idle and returns how many were removed.
func (l *Limiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
