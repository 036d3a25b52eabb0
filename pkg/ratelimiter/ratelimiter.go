// Package ratelimiter provides a token bucket that throttles outbound API calls.
package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// RateLimiter gates callers until a request may proceed.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// TokenBucket admits at most rate requests per period, refilling continuously.
// Admission decisions are serialized by a single mutex, including the wait
// when the bucket is empty, so concurrent callers never overshoot the rate.
type TokenBucket struct {
	rate   float64
	period time.Duration

	mu        sync.Mutex
	allowance float64
	lastCheck time.Time

	// snapshot of the budget for readers that must not wait behind Acquire
	snapMu        sync.Mutex
	snapAllowance float64
	snapAt        time.Time

	now func() time.Time
}

// NewTokenBucket creates a full bucket allowing rate requests per period.
func NewTokenBucket(rate int, period time.Duration) *TokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if period <= 0 {
		period = time.Second
	}

	now := time.Now()
	return &TokenBucket{
		rate:          float64(rate),
		period:        period,
		allowance:     float64(rate),
		lastCheck:     now,
		snapAllowance: float64(rate),
		snapAt:        now,
		now:           time.Now,
	}
}

// Acquire blocks until one unit of budget is available and consumes it.
// The only error is ctx's, returned when it ends during the wait.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.allowance >= 1 {
		tb.allowance--
		tb.publishLocked()
		return nil
	}
	tb.publishLocked()

	wait := time.Duration((1 - tb.allowance) * float64(tb.period) / tb.rate)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	// The unit that accrued while sleeping is the one being spent.
	tb.allowance = 0
	tb.lastCheck = tb.now()
	tb.publishLocked()
	return nil
}

// Allowance reports the budget currently available, after refill. It reads
// the last published budget and never waits for a sleeping Acquire.
func (tb *TokenBucket) Allowance() float64 {
	tb.snapMu.Lock()
	defer tb.snapMu.Unlock()

	return tb.refilled(tb.snapAllowance, tb.now().Sub(tb.snapAt))
}

// publishLocked copies the budget into the snapshot; tb.mu must be held.
func (tb *TokenBucket) publishLocked() {
	tb.snapMu.Lock()
	tb.snapAllowance = tb.allowance
	tb.snapAt = tb.lastCheck
	tb.snapMu.Unlock()
}

func (tb *TokenBucket) refilled(allowance float64, elapsed time.Duration) float64 {
	if elapsed > 0 {
		allowance += elapsed.Seconds() * (tb.rate / tb.period.Seconds())
	}
	if allowance > tb.rate {
		allowance = tb.rate
	}
	return allowance
}

func (tb *TokenBucket) refillLocked() {
	current := tb.now()
	tb.allowance = tb.refilled(tb.allowance, current.Sub(tb.lastCheck))
	tb.lastCheck = current
}
