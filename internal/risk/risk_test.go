package risk

import (
	"testing"
	"time"

	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/model"
	"crypto-scalper/internal/signal"
)

func testSettings() model.TradingSettings {
	return model.TradingSettings{
		MinConfidence:   60,
		MaxPositionSize: 10000,
		RiskPerTradePct: 2,
		MaxDailyLossAbs: 500,
		MaxPositions:    5,
		StopLossPct:     1,
		TakeProfitPct:   2,
		MaxHoldTimeSec:  1800,
		ScalingFactor:   1,
		IsEnabled:       true,
	}
}

func buySignal(conf int) signal.Signal {
	return signal.Signal{Kind: signal.Buy, Confidence: conf}
}

func TestPositionSizeRiskBudget(t *testing.T) {
	s := testSettings()
	// Risk budget 100000*2% = 2000; stop distance 50*1% = 0.5; raw qty 4000.
	// Notional cap 10000/50 = 200 units wins.
	if got := PositionSize(100000, 50, s); got != 200 {
		t.Fatalf("qty = %v, want 200", got)
	}
	// Small balance, the risk budget binds: 1000*2%=20 / 0.5 = 40.
	if got := PositionSize(1000, 50, s); got != 40 {
		t.Fatalf("qty = %v, want 40", got)
	}
	if got := PositionSize(100000, 0, s); got != 0 {
		t.Fatalf("qty = %v for zero price, want 0", got)
	}
}

func TestCheckEntryAccepted(t *testing.T) {
	sz, err := CheckEntry(EntryIntent{
		Symbol:    "BTCUSDT",
		Price:     50,
		Signal:    buySignal(80),
		Settings:  testSettings(),
		Available: 100000,
	})
	if err != nil {
		t.Fatalf("CheckEntry: %v", err)
	}
	if sz.Qty != 200 || sz.Cost != 10000 {
		t.Fatalf("sizing = %+v, want qty 200 cost 10000", sz)
	}
	if sz.StopLoss != 50*0.99 {
		t.Fatalf("stopLoss = %v, want %v", sz.StopLoss, 50*0.99)
	}
	if sz.Target != 50*1.02 {
		t.Fatalf("target = %v, want %v", sz.Target, 50*1.02)
	}
}

func TestCheckEntryRejections(t *testing.T) {
	base := EntryIntent{
		Symbol:    "ETHUSDT",
		Price:     50,
		Signal:    buySignal(80),
		Settings:  testSettings(),
		Available: 100000,
	}

	cases := []struct {
		name   string
		mutate func(*EntryIntent)
	}{
		{"disabled", func(in *EntryIntent) { in.Settings.IsEnabled = false }},
		{"hold signal", func(in *EntryIntent) { in.Signal.Kind = signal.Hold }},
		{"sell signal", func(in *EntryIntent) { in.Signal.Kind = signal.Sell }},
		{"low confidence", func(in *EntryIntent) { in.Signal.Confidence = 59 }},
		{"position cap", func(in *EntryIntent) { in.OpenCount = 5 }},
		{"duplicate symbol", func(in *EntryIntent) { in.HasOpen = true }},
		{"daily loss halt", func(in *EntryIntent) { in.DayPnl = -500 }},
		{"no balance", func(in *EntryIntent) { in.Available = 0 }},
		{"price too high for one unit", func(in *EntryIntent) { in.Price = 20000 }},
	}
	for _, tc := range cases {
		in := base
		tc.mutate(&in)
		if _, err := CheckEntry(in); !errs.IsKind(err, errs.RiskRejected) {
			t.Fatalf("%s: err = %v, want RiskRejected", tc.name, err)
		}
	}
}

func TestCheckEntryDailyLossBoundary(t *testing.T) {
	in := EntryIntent{
		Symbol:    "BTCUSDT",
		Price:     50,
		Signal:    buySignal(80),
		Settings:  testSettings(),
		Available: 100000,
		DayPnl:    -499.99,
	}
	// Just inside the limit still trades.
	if _, err := CheckEntry(in); err != nil {
		t.Fatalf("CheckEntry at -499.99: %v", err)
	}
	in.DayPnl = -500
	if _, err := CheckEntry(in); !errs.IsKind(err, errs.RiskRejected) {
		t.Fatalf("err = %v at limit, want RiskRejected", err)
	}
}

func TestCheckExit(t *testing.T) {
	s := testSettings()
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := model.Position{
		Symbol:        "BTCUSDT",
		Qty:           10,
		AvgEntryPrice: 100,
		EntryTime:     entry,
		StopLossPrice: 99,
		TargetPrice:   102,
	}
	hold := signal.Signal{Kind: signal.Hold, Confidence: 50}
	soon := entry.Add(time.Minute)

	if reason, ok := CheckExit(p, 98.5, soon, hold, s); !ok || reason != model.ExitStopLoss {
		t.Fatalf("got %q/%v, want stop loss", reason, ok)
	}
	if reason, ok := CheckExit(p, 102, soon, hold, s); !ok || reason != model.ExitTakeProfit {
		t.Fatalf("got %q/%v, want take profit", reason, ok)
	}
	late := entry.Add(time.Duration(s.MaxHoldTimeSec) * time.Second)
	if reason, ok := CheckExit(p, 100.5, late, hold, s); !ok || reason != model.ExitTimeout {
		t.Fatalf("got %q/%v, want timeout", reason, ok)
	}
	sell := signal.Signal{Kind: signal.StrongSell, Confidence: 85}
	if reason, ok := CheckExit(p, 100.5, soon, sell, s); !ok || reason != model.ExitSignal {
		t.Fatalf("got %q/%v, want signal exit", reason, ok)
	}
	weakSell := signal.Signal{Kind: signal.Sell, Confidence: 40}
	if _, ok := CheckExit(p, 100.5, soon, weakSell, s); ok {
		t.Fatal("low-confidence sell must not force an exit")
	}
	if _, ok := CheckExit(p, 100.5, soon, hold, s); ok {
		t.Fatal("no trigger should mean no exit")
	}
}
