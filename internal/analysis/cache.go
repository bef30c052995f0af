// Package analysis caches computed indicator snapshots and signals per
// symbol so repeated reads within the TTL skip the pipeline.
package analysis

import (
	"sync"
	"time"

	"crypto-scalper/internal/indicator"
	"crypto-scalper/internal/signal"
)

// DefaultTTL is how long a cached analysis stays valid.
const DefaultTTL = 30 * time.Second

// Entry is one cached analysis result.
type Entry struct {
	Snapshot   indicator.Snapshot
	Signal     signal.Signal
	ComputedAt time.Time
}

// Cache is a TTL map keyed by symbol. Writes are atomic per symbol.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]Entry
	now     func() time.Time
}

// NewCache returns a cache with the given TTL; ttl <= 0 uses DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Lookup returns the cached entry if it is still fresh.
func (c *Cache) Lookup(symbol string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.ComputedAt) >= c.ttl {
		return Entry{}, false
	}
	return e, true
}

// Put stores a fresh analysis for the symbol.
func (c *Cache) Put(symbol string, snap indicator.Snapshot, sig signal.Signal) {
	c.mu.Lock()
	c.entries[symbol] = Entry{Snapshot: snap, Signal: sig, ComputedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops one symbol's entry.
func (c *Cache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or expired.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
