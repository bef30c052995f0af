// Package backoff consolidates the retry-with-exponential-backoff pattern
// used by every outbound call. A single Policy is parameterized by attempt
// count, base delay, and jitter ratio; a classifier decides retryability
// per error.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls retry behavior.
type Policy struct {
	Attempts  int           // total attempts, including the first
	Base      time.Duration // delay before attempt n is Base * 2^(n-1)
	JitterPct float64       // e.g. 0.1 for ±10%
}

// DefaultPolicy matches the engine defaults: 3 attempts, 500ms base, ±10%.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: 500 * time.Millisecond, JitterPct: 0.1}
}

// Delay returns the jittered delay to wait after the given zero-based
// failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if p.JitterPct > 0 {
		span := float64(d) * p.JitterPct
		d += time.Duration((rand.Float64()*2 - 1) * span)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Retry runs fn up to p.Attempts times. It stops immediately when ctx is
// cancelled or when retryable returns false for the error. The last error
// is returned after exhaustion.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func(context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.Attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}
