package clients

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter limits how often requests may be issued.
type RateLimiter interface {
	// Allow checks if a request is allowed now and consumes a token if so
	Allow() bool

	// Wait blocks until a request is allowed or ctx is done
	Wait(ctx context.Context) error

	// GetStats returns rate limiter statistics
	GetStats() RateLimiterStats
}

// RateLimiterStats provides statistics about rate limiter state.
type RateLimiterStats struct {
	Rate            float64       `json:"rate"`
	Burst           int           `json:"burst"`
	AllowedRequests int64         `json:"allowed_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// E-utilities request limits per second, without and with an API key.
const (
	NCBIRate      = 3
	NCBIKeyedRate = 10
)

// TokenBucketRateLimiter implements the token bucket algorithm. The bucket is
// refilled continuously at the configured rate; HTTPConfigFrom picks NCBIRate
// or NCBIKeyedRate unless the rate is set explicitly.
type TokenBucketRateLimiter struct {
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time

	allowedRequests int64
	blockedRequests int64
	totalWaitTime   int64

	mu sync.Mutex
}

// NewTokenBucketRateLimiter creates a limiter issuing rate tokens per second
// with at most burst tokens banked.
func NewTokenBucketRateLimiter(rate float64, burst int) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketRateLimiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// Allow checks if a request is allowed immediately.
func (tb *TokenBucketRateLimiter) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		atomic.AddInt64(&tb.allowedRequests, 1)
		return true
	}

	atomic.AddInt64(&tb.blockedRequests, 1)
	return false
}

// Wait blocks until a token is available.
func (tb *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	start := time.Now()

	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens--
			tb.mu.Unlock()
			atomic.AddInt64(&tb.allowedRequests, 1)
			atomic.AddInt64(&tb.totalWaitTime, time.Since(start).Nanoseconds())
			return nil
		}
		wait := time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			atomic.AddInt64(&tb.blockedRequests, 1)
			return ctx.Err()
		}
	}
}

// refill adds tokens based on elapsed time. Callers hold mu.
func (tb *TokenBucketRateLimiter) refill() {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastTime = now
}

// GetStats returns rate limiter statistics.
func (tb *TokenBucketRateLimiter) GetStats() RateLimiterStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	allowed := atomic.LoadInt64(&tb.allowedRequests)
	avgWait := time.Duration(0)
	if allowed > 0 {
		avgWait = time.Duration(atomic.LoadInt64(&tb.totalWaitTime) / allowed)
	}

	return RateLimiterStats{
		Rate:            tb.rate,
		Burst:           tb.burst,
		AllowedRequests: allowed,
		BlockedRequests: atomic.LoadInt64(&tb.blockedRequests),
		AverageWaitTime: avgWait,
	}
}
