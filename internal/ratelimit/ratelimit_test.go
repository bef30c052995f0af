package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests control elapsed time deterministically.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(capacity int, interval time.Duration) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(capacity, interval)
	l.now = clk.now
	l.last = clk.t
	return l, clk
}

func TestAllowDrainsBucket(t *testing.T) {
	l, _ := newTestLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("allow %d should succeed", i)
		}
	}
	if l.Allow() {
		t.Fatal("allow on empty bucket should fail")
	}
}

func TestLazyRefill(t *testing.T) {
	l, clk := newTestLimiter(2, time.Second)
	l.Allow()
	l.Allow()

	clk.advance(500 * time.Millisecond)
	if l.Allow() {
		t.Fatal("no full interval elapsed, should deny")
	}

	clk.advance(600 * time.Millisecond) // 1.1s total
	if !l.Allow() {
		t.Fatal("one interval elapsed, should allow exactly once")
	}
	if l.Allow() {
		t.Fatal("second allow within same interval should deny")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	l, clk := newTestLimiter(2, time.Second)
	l.Allow()
	l.Allow()

	clk.advance(10 * time.Second)
	if got := l.Tokens(); got != 2 {
		t.Fatalf("tokens = %d, want capacity 2", got)
	}
}

func TestOnePerSecondUnderLoad(t *testing.T) {
	l, clk := newTestLimiter(1, time.Second)
	if !l.Allow() {
		t.Fatal("initial token should be available")
	}

	// Hammer Allow across 5 simulated seconds; exactly one grant per second.
	granted := 0
	for i := 0; i < 50; i++ {
		clk.advance(100 * time.Millisecond)
		if l.Allow() {
			granted++
		}
	}
	if granted != 5 {
		t.Fatalf("granted %d tokens over 5s, want 5", granted)
	}
}
