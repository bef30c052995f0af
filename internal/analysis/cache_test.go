package analysis

import (
	"testing"
	"time"

	"crypto-scalper/internal/indicator"
	"crypto-scalper/internal/signal"
)

func TestCacheLookupWithinTTL(t *testing.T) {
	c := NewCache(30 * time.Second)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	c.Put("BTCUSDT", indicator.Snapshot{RSI: 42}, signal.Signal{Kind: signal.Buy, Confidence: 70})

	e, ok := c.Lookup("BTCUSDT")
	if !ok {
		t.Fatal("expected fresh hit")
	}
	if e.Snapshot.RSI != 42 || e.Signal.Kind != signal.Buy {
		t.Fatalf("entry = %+v", e)
	}

	at = at.Add(29 * time.Second)
	if _, ok := c.Lookup("BTCUSDT"); !ok {
		t.Fatal("entry expired early")
	}
	at = at.Add(time.Second)
	if _, ok := c.Lookup("BTCUSDT"); ok {
		t.Fatal("entry survived past TTL")
	}
}

func TestCacheMissUnknownSymbol(t *testing.T) {
	c := NewCache(0)
	if _, ok := c.Lookup("ETHUSDT"); ok {
		t.Fatal("unexpected hit")
	}
}

func TestCachePutOverwrites(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("BTCUSDT", indicator.Snapshot{RSI: 30}, signal.Signal{Kind: signal.Buy})
	c.Put("BTCUSDT", indicator.Snapshot{RSI: 70}, signal.Signal{Kind: signal.Sell})

	e, ok := c.Lookup("BTCUSDT")
	if !ok || e.Snapshot.RSI != 70 || e.Signal.Kind != signal.Sell {
		t.Fatalf("entry = %+v, want overwritten value", e)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
}

func TestCacheInvalidateAndClear(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("BTCUSDT", indicator.Snapshot{}, signal.Signal{})
	c.Put("ETHUSDT", indicator.Snapshot{}, signal.Signal{})

	c.Invalidate("BTCUSDT")
	if _, ok := c.Lookup("BTCUSDT"); ok {
		t.Fatal("invalidated entry still visible")
	}
	if _, ok := c.Lookup("ETHUSDT"); !ok {
		t.Fatal("unrelated entry dropped")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len = %d after Clear, want 0", c.Len())
	}
}
