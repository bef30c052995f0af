package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, JitterPct: 0.1}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	want := errors.New("always")
	err := Retry(context.Background(), fastPolicy(3), nil, func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	fatal := errors.New("bad request")
	err := Retry(context.Background(), fastPolicy(5), func(err error) bool {
		return !errors.Is(err, fatal)
	}, func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("error = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on non-retryable)", calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Policy{Attempts: 10, Base: time.Hour}, nil, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{Attempts: 4, Base: 100 * time.Millisecond} // no jitter
	for i, want := range []time.Duration{100, 200, 400, 800} {
		if got := p.Delay(i); got != want*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want %v", i, got, want*time.Millisecond)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{Attempts: 1, Base: 100 * time.Millisecond, JitterPct: 0.1}
	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		if d < 90*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±10%% of 100ms", d)
		}
	}
}
