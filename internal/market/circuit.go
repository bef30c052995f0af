package market

import (
	"sync"
	"time"
)

// Circuit state per symbol.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// Circuit trips a symbol after maxFailures consecutive protocol errors.
// While open, ticks for that symbol are skipped; after resetTimeout one
// probe tick is allowed through, and its outcome closes or reopens the
// circuit.
type Circuit struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	symbols      map[string]*symbolCircuit

	OnTrip func(symbol string)
}

type symbolCircuit struct {
	state       circuitState
	failures    int
	lastFailure time.Time
}

// NewCircuit creates a per-symbol breaker.
func NewCircuit(maxFailures int, resetTimeout time.Duration) *Circuit {
	if maxFailures < 1 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Circuit{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		symbols:      make(map[string]*symbolCircuit),
	}
}

// Allow reports whether the symbol's tick may proceed.
func (c *Circuit) Allow(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.symbols[symbol]
	if !ok || sc.state == circuitClosed {
		return true
	}
	if sc.state == circuitOpen && time.Since(sc.lastFailure) > c.resetTimeout {
		sc.state = circuitHalfOpen
		return true
	}
	return sc.state == circuitHalfOpen
}

// Failure records a protocol error for the symbol, tripping the circuit
// at the threshold.
func (c *Circuit) Failure(symbol string) {
	c.mu.Lock()
	sc, ok := c.symbols[symbol]
	if !ok {
		sc = &symbolCircuit{}
		c.symbols[symbol] = sc
	}
	sc.failures++
	sc.lastFailure = time.Now()

	tripped := false
	if sc.state == circuitHalfOpen || (sc.state == circuitClosed && sc.failures >= c.maxFailures) {
		if sc.state != circuitOpen {
			tripped = true
		}
		sc.state = circuitOpen
	}
	onTrip := c.OnTrip
	c.mu.Unlock()

	if tripped && onTrip != nil {
		onTrip(symbol)
	}
}

// Success resets the symbol's circuit.
func (c *Circuit) Success(symbol string) {
	c.mu.Lock()
	if sc, ok := c.symbols[symbol]; ok {
		sc.state = circuitClosed
		sc.failures = 0
	}
	c.mu.Unlock()
}
