// Package limiter bounds how fast and how often the model is called.
package limiter

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sweetpotato0/paper-survey/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter paces calls with a token bucket
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows perMinute calls per minute with the given burst.
func NewRateLimiter(perMinute int, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(perMinute, 1))), burst)}
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Execute waits for a token or the request context to end.
func (m *RateLimiter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if err := m.limiter.Wait(ctx.Context()); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return next(ctx)
}

// Budget rejects calls once maxRequests have been made
type Budget struct {
	maxRequests int64
	counter     atomic.Int64
}

// NewBudget creates a call budget middleware
func NewBudget(maxRequests int) *Budget {
	return &Budget{maxRequests: int64(maxRequests)}
}

// Name returns the middleware name
func (m *Budget) Name() string {
	return "Budget"
}

// Execute checks the budget
func (m *Budget) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.counter.Add(1) > m.maxRequests {
		m.counter.Add(-1)
		return middleware.ErrRateLimitExceeded
	}
	return next(ctx)
}

// Reset resets the counter
func (m *Budget) Reset() {
	m.counter.Store(0)
}

// Used returns current request count
func (m *Budget) Used() int {
	return int(m.counter.Load())
}
