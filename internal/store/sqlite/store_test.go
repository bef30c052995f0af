package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"crypto-scalper/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTradeRoundTrip(t *testing.T) {
	s := testStore(t)

	buy := model.Trade{
		ID: "t1", Symbol: "BTCUSDT", Side: model.SideBuy,
		Price: 100, Qty: 5, Time: time.Now().UTC(),
		SignalKind: "BUY", Confidence: 72,
	}
	if err := s.SaveTrade(buy); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	// Finalize the same row, as the OnTrade hook does after Close.
	pnl, exitPrice, hold := 25.0, 105.0, int64(60)
	buy.Pnl, buy.ExitPrice, buy.HoldTimeSec = &pnl, &exitPrice, &hold
	if err := s.SaveTrade(buy); err != nil {
		t.Fatalf("SaveTrade update: %v", err)
	}

	got, err := s.RecentTrades("BTCUSDT", 10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d trades", len(got))
	}
	if got[0].Pnl == nil || *got[0].Pnl != 25 {
		t.Fatalf("pnl = %v", got[0].Pnl)
	}

	if other, _ := s.RecentTrades("ETHUSDT", 10); len(other) != 0 {
		t.Fatalf("symbol filter leaked %d rows", len(other))
	}
}

func TestPositionRestore(t *testing.T) {
	s := testStore(t)

	p := model.Position{
		ID: "p1", Symbol: "BTCUSDT", Qty: 2, AvgEntryPrice: 100,
		EntryTime: time.Now().UTC().Truncate(time.Millisecond),
		TargetPrice: 102, StopLossPrice: 99, EntryTradeID: "t1",
	}
	if err := s.SavePosition(p, true); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	active, err := s.ActivePositions()
	if err != nil {
		t.Fatalf("ActivePositions: %v", err)
	}
	if len(active) != 1 || active[0].ID != "p1" || active[0].StopLossPrice != 99 {
		t.Fatalf("active = %+v", active)
	}

	if err := s.ClosePosition("BTCUSDT"); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	active, _ = s.ActivePositions()
	if len(active) != 0 {
		t.Fatal("closed position still active")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := testStore(t)

	if _, ok, err := s.LoadSettings(); err != nil || ok {
		t.Fatalf("LoadSettings empty = %v, %v", ok, err)
	}

	want := model.DefaultSettings()
	want.MinConfidence = 65
	if err := s.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, ok, err := s.LoadSettings()
	if err != nil || !ok {
		t.Fatalf("LoadSettings = %v, %v", ok, err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

func TestWatchlistRoundTrip(t *testing.T) {
	s := testStore(t)

	items := []model.WatchlistItem{
		{Symbol: "BTCUSDT", Name: "Bitcoin", LastPrice: 64100.5, ChangePct24h: 1.2, IsActive: true},
		{Symbol: "ETHUSDT", Name: "Ethereum", IsActive: false},
	}
	if err := s.SaveWatchlist(items); err != nil {
		t.Fatalf("SaveWatchlist: %v", err)
	}
	got, err := s.LoadWatchlist()
	if err != nil {
		t.Fatalf("LoadWatchlist: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d items", len(got))
	}
	byName := make(map[string]model.WatchlistItem, len(got))
	for _, w := range got {
		byName[w.Symbol] = w
	}
	btc := byName["BTCUSDT"]
	if btc.LastPrice != 64100.5 || btc.ChangePct24h != 1.2 || !btc.IsActive {
		t.Fatalf("BTCUSDT fields not persisted: %+v", btc)
	}
	if byName["ETHUSDT"].IsActive {
		t.Fatalf("ETHUSDT should be inactive")
	}
}
