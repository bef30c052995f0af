// Package ratelimit provides a token-bucket admission gate for outbound API
// calls. Tokens refill lazily from elapsed wall time on each Allow call, so
// no background timer is needed.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a thread-safe token bucket. A denied Allow means "skip this
// tick"; callers must not queue behind it.
type Limiter struct {
	mu             sync.Mutex
	capacity       int
	tokens         int
	refillInterval time.Duration
	last           time.Time

	now func() time.Time // swapped in tests
}

// New creates a full bucket with the given capacity and refill interval.
// One token is restored per elapsed interval, up to capacity.
func New(capacity int, refillInterval time.Duration) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if refillInterval <= 0 {
		refillInterval = time.Second
	}
	l := &Limiter{
		capacity:       capacity,
		tokens:         capacity,
		refillInterval: refillInterval,
		now:            time.Now,
	}
	l.last = l.now()
	return l
}

// Allow consumes a token if one is available and reports whether the caller
// may proceed.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens == 0 {
		return false
	}
	l.tokens--
	return true
}

// Tokens returns the current token count after lazy refill.
func (l *Limiter) Tokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// refill restores ⌊elapsed/interval⌋ tokens capped at capacity.
// Caller must hold l.mu.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.last)
	if elapsed < l.refillInterval {
		return
	}
	n := int(elapsed / l.refillInterval)
	l.tokens += n
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	// Advance by whole intervals only, so fractional elapsed time is not lost.
	l.last = l.last.Add(time.Duration(n) * l.refillInterval)
}
