package candlestore

import (
	"sync"
	"testing"

	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/model"
)

func candleAt(sym string, openMs int64, close float64) model.Candle {
	return model.Candle{
		Symbol:    sym,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		OpenTime:  openMs,
		CloseTime: openMs + 60_000,
	}
}

func TestAppendAndSnapshot(t *testing.T) {
	s := New(MinWindow)

	for i := int64(0); i < 5; i++ {
		if err := s.Append(candleAt("BTCUSDT", i*60_000, float64(100+i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	snap := s.Snapshot("BTCUSDT")
	if len(snap) != 5 {
		t.Fatalf("snapshot len = %d, want 5", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].OpenTime <= snap[i-1].OpenTime {
			t.Fatalf("openTime not strictly increasing at %d", i)
		}
	}
}

func TestAppendReplacesTailInPlace(t *testing.T) {
	s := New(MinWindow)
	s.Append(candleAt("ETHUSDT", 0, 100))
	s.Append(candleAt("ETHUSDT", 60_000, 101))

	// Streaming update of the forming candle.
	if err := s.Append(candleAt("ETHUSDT", 60_000, 105)); err != nil {
		t.Fatalf("in-place update: %v", err)
	}

	if s.Len("ETHUSDT") != 2 {
		t.Fatalf("len = %d, want 2", s.Len("ETHUSDT"))
	}
	last, ok := s.Last("ETHUSDT")
	if !ok || last.Close != 105 {
		t.Fatalf("tail close = %v, want 105", last.Close)
	}
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	s := New(MinWindow)
	s.Append(candleAt("BTCUSDT", 120_000, 100))

	err := s.Append(candleAt("BTCUSDT", 60_000, 99))
	if err == nil {
		t.Fatal("expected OutOfOrder error")
	}
	if errs.KindOf(err) != errs.OutOfOrder {
		t.Fatalf("kind = %v, want OutOfOrder", errs.KindOf(err))
	}
	if s.Len("BTCUSDT") != 1 {
		t.Fatalf("rejected candle must not be stored, len = %d", s.Len("BTCUSDT"))
	}
}

func TestEvictionKeepsWindowBounded(t *testing.T) {
	s := New(MinWindow)

	for i := int64(0); i < MinWindow+50; i++ {
		if err := s.Append(candleAt("BTCUSDT", i*60_000, float64(i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	snap := s.Snapshot("BTCUSDT")
	if len(snap) != MinWindow {
		t.Fatalf("window len = %d, want %d", len(snap), MinWindow)
	}
	// Oldest 50 evicted: head is candle 50.
	if snap[0].Close != 50 {
		t.Fatalf("head close = %v, want 50", snap[0].Close)
	}
	if snap[len(snap)-1].Close != float64(MinWindow+49) {
		t.Fatalf("tail close = %v, want %d", snap[len(snap)-1].Close, MinWindow+49)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(MinWindow)
	s.Append(candleAt("BTCUSDT", 0, 100))

	snap := s.Snapshot("BTCUSDT")
	snap[0].Close = 999

	again := s.Snapshot("BTCUSDT")
	if again[0].Close != 100 {
		t.Fatal("mutating a snapshot must not affect the store")
	}
}

func TestConcurrentReadersSingleWriter(t *testing.T) {
	s := New(MinWindow)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 1000; i++ {
			s.Append(candleAt("BTCUSDT", i*60_000, float64(i)))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := s.Snapshot("BTCUSDT")
				for j := 1; j < len(snap); j++ {
					if snap[j].OpenTime <= snap[j-1].OpenTime {
						t.Error("reader observed unordered window")
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestRemove(t *testing.T) {
	s := New(MinWindow)
	s.Append(candleAt("BTCUSDT", 0, 100))
	s.Remove("BTCUSDT")
	if s.Len("BTCUSDT") != 0 {
		t.Fatal("window should be gone after Remove")
	}
	if got := s.Snapshot("BTCUSDT"); got != nil {
		t.Fatalf("snapshot after remove = %v, want nil", got)
	}
}
