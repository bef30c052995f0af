// Package risk holds the pure entry/exit gate. It never mutates state;
// callers own the position manager and act on the verdicts.
package risk

import (
	"math"
	"time"

	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/model"
	"crypto-scalper/internal/signal"
)

// EntryIntent describes a proposed long entry.
type EntryIntent struct {
	Symbol    string
	Price     float64
	Signal    signal.Signal
	Settings  model.TradingSettings
	OpenCount int
	HasOpen   bool
	DayPnl    float64
	Available float64
}

// Sizing is the result of a successful entry check.
type Sizing struct {
	Qty      float64
	Cost     float64
	StopLoss float64
	Target   float64
}

// CheckEntry returns the planned sizing for an entry, or a RiskRejected
// error naming the failed constraint. Rejection is a normal outcome;
// callers count it rather than log it.
func CheckEntry(in EntryIntent) (Sizing, error) {
	s := in.Settings
	reject := func(reason string) (Sizing, error) {
		return Sizing{}, errs.Errorf(errs.RiskRejected, "risk.CheckEntry", "%s: %s", in.Symbol, reason)
	}

	if !s.IsEnabled {
		return reject("trading disabled")
	}
	if !in.Signal.Kind.Bullish() {
		return reject("signal not bullish")
	}
	if in.Signal.Confidence < s.MinConfidence {
		return reject("confidence below minimum")
	}
	if in.OpenCount >= s.MaxPositions {
		return reject("position cap reached")
	}
	if in.HasOpen {
		return reject("symbol already has an open position")
	}
	if in.DayPnl <= -s.MaxDailyLossAbs {
		return reject("daily loss limit reached")
	}
	if in.Price <= 0 {
		return reject("non-positive price")
	}

	qty := PositionSize(in.Available, in.Price, s)
	if qty < 1 {
		return reject("size below one unit")
	}

	cost := qty * in.Price
	if cost > in.Available {
		return reject("insufficient available balance")
	}
	if cost > s.MaxPositionSize {
		return reject("exceeds max position size")
	}

	return Sizing{
		Qty:      qty,
		Cost:     cost,
		StopLoss: in.Price * (1 - s.StopLossPct/100),
		Target:   in.Price * (1 + s.TakeProfitPct/100),
	}, nil
}

// PositionSize returns the planned quantity: risk budget divided by the
// per-unit stop distance, capped by the notional position limit.
func PositionSize(balance, price float64, s model.TradingSettings) float64 {
	if price <= 0 || s.StopLossPct <= 0 {
		return 0
	}
	riskBudget := balance * s.RiskPerTradePct / 100
	stopDistance := price * s.StopLossPct / 100
	qty := math.Floor(riskBudget / stopDistance)

	maxQty := math.Floor(s.MaxPositionSize / price)
	if qty > maxQty {
		qty = maxQty
	}
	if qty < 0 {
		qty = 0
	}
	return qty
}

// CheckExit reports whether the position must be closed at the given
// price and time, and the reason when it must.
func CheckExit(p model.Position, price float64, now time.Time, sig signal.Signal, s model.TradingSettings) (string, bool) {
	if p.StopLossPrice > 0 && price <= p.StopLossPrice {
		return model.ExitStopLoss, true
	}
	if p.TargetPrice > 0 && price >= p.TargetPrice {
		return model.ExitTakeProfit, true
	}
	if s.MaxHoldTimeSec > 0 && now.Sub(p.EntryTime) >= time.Duration(s.MaxHoldTimeSec)*time.Second {
		return model.ExitTimeout, true
	}
	if sig.Kind.Bearish() && sig.Confidence >= s.MinConfidence {
		return model.ExitSignal, true
	}
	return "", false
}
