// Package candlestore maintains a bounded rolling window of OHLCV candles
// per symbol. Each window is a fixed-size ring with a single writer and
// many snapshot readers; appends are total-ordered by openTime.
package candlestore

import (
	"sync"

	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/model"
)

// DefaultMaxWindow holds enough history for the 200-period EMA warm-up
// plus headroom.
const DefaultMaxWindow = 500

// MinWindow is the smallest usable capacity (EMA200 warm-up).
const MinWindow = 200

// Store holds the candle windows for every watched symbol.
type Store struct {
	mu        sync.RWMutex
	maxWindow int
	windows   map[string]*window
}

// window is a ring of at most maxWindow candles ordered oldest first.
type window struct {
	mu    sync.RWMutex
	buf   []model.Candle
	start int
	n     int
}

// New creates a Store. Capacities below MinWindow are raised to it.
func New(maxWindow int) *Store {
	if maxWindow < MinWindow {
		maxWindow = MinWindow
	}
	return &Store{
		maxWindow: maxWindow,
		windows:   make(map[string]*window),
	}
}

// Append adds a candle to its symbol's window. An openTime equal to the
// current tail replaces the tail in place (streaming update of the forming
// candle); an older openTime is rejected with an OutOfOrder error. The
// oldest candle is evicted when the window is full.
func (s *Store) Append(c model.Candle) error {
	w := s.windowFor(c.Symbol)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.n > 0 {
		tail := &w.buf[(w.start+w.n-1)%len(w.buf)]
		if c.OpenTime == tail.OpenTime {
			*tail = c
			return nil
		}
		if c.OpenTime < tail.OpenTime {
			return errs.Errorf(errs.OutOfOrder, "candlestore.Append",
				"%s: openTime %d behind tail %d", c.Symbol, c.OpenTime, tail.OpenTime)
		}
	}

	if w.n == len(w.buf) {
		w.buf[w.start] = c
		w.start = (w.start + 1) % len(w.buf)
		return nil
	}
	w.buf[(w.start+w.n)%len(w.buf)] = c
	w.n++
	return nil
}

// Snapshot returns a copy of the symbol's window, oldest first. Readers
// never observe partial writes.
func (s *Store) Snapshot(symbol string) []model.Candle {
	s.mu.RLock()
	w := s.windows[symbol]
	s.mu.RUnlock()
	if w == nil {
		return nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.Candle, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Last returns the newest candle for symbol, if any.
func (s *Store) Last(symbol string) (model.Candle, bool) {
	s.mu.RLock()
	w := s.windows[symbol]
	s.mu.RUnlock()
	if w == nil {
		return model.Candle{}, false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.n == 0 {
		return model.Candle{}, false
	}
	return w.buf[(w.start+w.n-1)%len(w.buf)], true
}

// Len returns the number of candles held for symbol.
func (s *Store) Len(symbol string) int {
	s.mu.RLock()
	w := s.windows[symbol]
	s.mu.RUnlock()
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.n
}

// Remove drops the window for a symbol leaving the watchlist.
func (s *Store) Remove(symbol string) {
	s.mu.Lock()
	delete(s.windows, symbol)
	s.mu.Unlock()
}

// Symbols lists every symbol with a window.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.windows))
	for sym := range s.windows {
		out = append(out, sym)
	}
	return out
}

func (s *Store) windowFor(symbol string) *window {
	s.mu.RLock()
	w := s.windows[symbol]
	s.mu.RUnlock()
	if w != nil {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w = s.windows[symbol]; w == nil {
		w = &window{buf: make([]model.Candle, s.maxWindow)}
		s.windows[symbol] = w
	}
	return w
}
