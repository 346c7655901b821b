package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ExhaustedError reports that every attempt allowed by the policy failed.
// It wraps the last underlying error for diagnostics.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Execute runs fn up to policy.MaxAttempts times. fn must be idempotent or
// safely retryable; inference calls with a stable prompt qualify.
//
// A fatal error (per policy.Retryable) aborts immediately and is returned
// as-is. When ctx is cancelled while waiting to retry, the wait aborts and
// the context error is returned wrapped around the last failure.
func Execute(ctx context.Context, policy Policy, fn func(context.Context) (any, error)) (any, error) {
	policy = policy.withDefaults()

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.Delay(attempt)
			delay += jitter(delay, policy.JitterFraction)

			if err := sleepContext(ctx, delay); err != nil {
				return nil, fmt.Errorf("retry aborted while waiting for attempt %d: %w (last error: %v)",
					attempt, err, lastErr)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if policy.Retryable == nil || !policy.Retryable(err) {
			return nil, err
		}
	}

	return nil, &ExhaustedError{Attempts: policy.MaxAttempts, Err: lastErr}
}

// Delay returns the jitter-free backoff before the given attempt (attempt 2
// is the first retry): min(MaxDelay, InitialDelay * Multiplier^(attempt-2)).
// Attempts below 2 carry no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}

	p = p.withDefaults()

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

func jitter(delay time.Duration, fraction float64) time.Duration {
	if delay <= 0 || fraction <= 0 {
		return 0
	}

	return time.Duration(rand.Float64() * fraction * float64(delay)) // #nosec G404 -- jitter needs no cryptographic strength
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
