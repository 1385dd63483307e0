// Package ratelimit counts events per key in fixed windows. The gateway uses
// it to lock out clients that repeatedly fail authentication.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"grimm.is/vpnadmin/internal/clock"
)

// Limiter allows up to limit events per key in each interval.
type Limiter struct {
	limit    int
	interval time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket is a fixed-window token bucket.
type bucket struct {
	tokens   int
	lastFill time.Time
}

// NewLimiter creates a limiter.
func NewLimiter(limit int, interval time.Duration) *Limiter {
	return &Limiter{
		limit:    limit,
		interval: interval,
		buckets:  make(map[string]*bucket),
	}
}

// Allow consumes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN consumes n tokens for key if that many are available.
func (l *Limiter) AllowN(key string, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Exhausted reports whether key has no tokens left, without consuming one.
func (l *Limiter) Exhausted(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return false
	}
	if clock.Since(b.lastFill) >= l.interval {
		return false
	}
	return b.tokens <= 0
}

// refill returns the bucket for key, resetting it once its window has passed.
// Callers hold l.mu.
func (l *Limiter) refill(key string) *bucket {
	now := clock.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.buckets[key] = b
		return b
	}
	if now.Sub(b.lastFill) >= l.interval {
		b.tokens = l.limit
		b.lastFill = now
	}
	return b
}

// Reset clears the state for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CleanupExpired drops buckets whose window started more than maxAge ago.
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := clock.Now()
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
		}
	}
}

// RunCleanup calls CleanupExpired every interval until ctx is cancelled.
func (l *Limiter) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.CleanupExpired(maxAge)
		}
	}
}
