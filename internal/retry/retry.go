package retry

import (
	"context"
	"time"
)

// Policy bounds an exponential backoff loop.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// Do runs fn up to p.MaxAttempts times. Between attempts it sleeps
// min(InitialDelay * BackoffMultiplier^(attempt-1), MaxDelay). An error for
// which isRetryable returns false aborts immediately without consuming the
// remaining attempts; exhaustion returns the last error.
func Do(ctx context.Context, p Policy, isRetryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 2
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
