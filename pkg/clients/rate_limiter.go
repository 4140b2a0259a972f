package clients

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces requests with a token bucket and adapts to the server: a 429 halves the
// rate (down to a floor) and each later success restores part of it.
type RateLimiter struct {
	limiter  *rate.Limiter
	baseRate rate.Limit
	minRate  rate.Limit

	allowedRequests int64
	penalties       int64
	totalWaitTime   int64

	mu sync.Mutex
}

// NewRateLimiter creates a limiter allowing perSecond requests with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	base := rate.Limit(perSecond)
	return &RateLimiter{
		limiter:  rate.NewLimiter(base, burst),
		baseRate: base,
		minRate:  base / 16,
	}
}

// Wait blocks until a request is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := rl.limiter.Wait(ctx); err != nil {
		return err
	}
	atomic.AddInt64(&rl.allowedRequests, 1)
	atomic.AddInt64(&rl.totalWaitTime, time.Since(start).Nanoseconds())
	return nil
}

// Penalize halves the current rate after the server signalled rate limiting.
func (rl *RateLimiter) Penalize() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	atomic.AddInt64(&rl.penalties, 1)
	next := rl.limiter.Limit() / 2
	if next < rl.minRate {
		next = rl.minRate
	}
	rl.limiter.SetLimit(next)
}

// Recover moves the current rate a quarter of the way back to the configured rate.
func (rl *RateLimiter) Recover() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	current := rl.limiter.Limit()
	if current >= rl.baseRate {
		return
	}
	next := current + (rl.baseRate-current)/4
	if rl.baseRate-next < rl.baseRate/100 {
		next = rl.baseRate
	}
	rl.limiter.SetLimit(next)
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() RateLimiterStats {
	allowed := atomic.LoadInt64(&rl.allowedRequests)
	stats := RateLimiterStats{
		Rate:            float64(rl.limiter.Limit()),
		BaseRate:        float64(rl.baseRate),
		Burst:           rl.limiter.Burst(),
		AllowedRequests: allowed,
		Penalties:       atomic.LoadInt64(&rl.penalties),
	}
	if allowed > 0 {
		stats.AverageWaitTime = time.Duration(atomic.LoadInt64(&rl.totalWaitTime) / allowed)
	}
	return stats
}

// RateLimiterStats provides statistics about rate limiter state
type RateLimiterStats struct {
	Rate            float64       `json:"rate"`
	BaseRate        float64       `json:"base_rate"`
	Burst           int           `json:"burst"`
	AllowedRequests int64         `json:"allowed_requests"`
	Penalties       int64         `json:"penalties"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}
