package util

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimiter spaces API calls with a token bucket: up to burst calls may
// go out back to back, after which they are admitted at perMinute. Each
// Wait reserves its token up front, so concurrent workers queue in arrival
// order instead of polling. A nil *RateLimiter never blocks.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration // time to earn one token
	burst    float64
	tokens   float64 // negative while callers hold reservations
	last     time.Time
	now      func() time.Time
}

// NewRateLimiter returns a limiter admitting perMinute calls per minute
// with the given burst (at least 1). perMinute ≤ 0 disables limiting and
// returns nil.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		interval: time.Minute / time.Duration(perMinute),
		burst:    float64(burst),
		tokens:   float64(burst),
		last:     time.Now(),
		now:      time.Now,
	}
}

// Wait blocks until the caller's token is due or ctx is cancelled. A
// cancelled wait keeps its reservation.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	delay := rl.reserve()
	rl.mu.Unlock()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve refills the bucket, takes one token and returns how long the
// caller must wait for it. Must be called with mu held.
func (rl *RateLimiter) reserve() time.Duration {
	now := rl.now()
	earned := float64(now.Sub(rl.last)) / float64(rl.interval)
	rl.tokens = math.Min(rl.burst, rl.tokens+earned)
	rl.last = now

	rl.tokens--
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens * float64(rl.interval))
}
