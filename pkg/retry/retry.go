// Package retry runs remote operations with exponential backoff. Only errors
// classified as transient by hgderrors.IsRetryable are retried; every other
// error is returned after the first attempt.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// Policy defines retry behavior.
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// defaultPolicy returns three attempts starting at one second.
func defaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// NoRetry returns a policy that makes a single attempt.
func NoRetry() *Policy {
	return &Policy{MaxAttempts: 1}
}

// FromConfig builds a policy from the reliability settings. RetryAttempts
// counts retries, so the policy makes one more attempt than that.
func FromConfig(cfg config.ReliabilityConfig) *Policy {
	p := defaultPolicy()
	p.MaxAttempts = cfg.RetryAttempts + 1
	if cfg.RetryDelay > 0 {
		p.InitialDelay = cfg.RetryDelay
	}
	if cfg.MaxRetryDelay > 0 {
		p.MaxDelay = cfg.MaxRetryDelay
	}
	if cfg.RetryMultiplier > 0 {
		p.Multiplier = cfg.RetryMultiplier
	}
	return p
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts or ctx is done. op names the operation in logs.
func (p *Policy) Do(ctx context.Context, op string, logger *zap.Logger, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !hgderrors.IsRetryable(err) || attempt == attempts-1 {
			break
		}

		delay := p.Delay(attempt)
		logger.Warn("retrying after transient error",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return hgderrors.Wrap(ctx.Err(), hgderrors.TypeOf(lastErr), "retry cancelled").
				WithDetail("operation", op).
				WithDetail("last_error", lastErr.Error())
		case <-timer.C:
		}
	}

	if attempts > 1 && hgderrors.IsRetryable(lastErr) {
		return hgderrors.Wrap(lastErr, hgderrors.TypeOf(lastErr), "all attempts failed").
			WithDetail("operation", op).
			WithDetail("attempts", attempts)
	}
	return lastErr
}

// Delay returns the backoff before retry number attempt+1.
func (p *Policy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.RandomizeFactor > 0 {
		delta := delay * p.RandomizeFactor
		delay = delay - delta + rand.Float64()*(2*delta) //nolint:gosec // jitter only
	}
	return time.Duration(delay)
}
