package clients

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
)

// RetryPolicy defines retry behavior: exponential backoff with jitter, except that a delay
// requested by the server (Retry-After) is used as given.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        5 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// DefaultRetryPolicy returns the policy used for QuickStats page requests.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     4,
		InitialDelay:    1 * time.Second,
		MaxDelay:        60 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// RetryPolicyFromConfig builds a policy from the reliability section.
func RetryPolicyFromConfig(cfg *config.Config) *RetryPolicy {
	r := cfg.Reliability
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = r.RetryAttempts
	if r.RetryDelay > 0 {
		policy.InitialDelay = r.RetryDelay
	}
	if r.MaxRetryDelay > 0 {
		policy.MaxDelay = r.MaxRetryDelay
	}
	if r.RetryMultiplier >= 1 {
		policy.Multiplier = r.RetryMultiplier
	}
	return policy
}

// Execute runs fn, retrying errors that errors.IsRetryable accepts.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}

// ExecuteWithCondition runs fn with retry only while shouldRetry accepts the error. The
// last error is returned unchanged so callers can still classify it.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == attempts-1 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		delay := rp.calculateDelay(attempt)
		if serverDelay, ok := errors.RetryAfter(err); ok {
			if rp.MaxDelay > 0 && serverDelay > rp.MaxDelay {
				// waiting that long is the caller's decision, not ours
				return err
			}
			delay = serverDelay
		}

		if rp.OnRetry != nil {
			rp.OnRetry(attempt+1, delay, err)
		}

		if err := rp.wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}

	return lastErr
}

func (rp *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if rp.sleep != nil {
		return rp.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// calculateDelay calculates the delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay)) //nolint:gosec // jitter only
	}

	return time.Duration(delay)
}

// GetDelay returns the delay for a specific attempt (for testing/preview)
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	return rp.calculateDelay(attempt)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	c := *rp
	return &c
}

// WithDelay returns a new policy with updated delays
func (rp *RetryPolicy) WithDelay(initial, maxDelay time.Duration) *RetryPolicy {
	policy := rp.Clone()
	policy.InitialDelay = initial
	policy.MaxDelay = maxDelay
	return policy
}
