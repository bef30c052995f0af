package model

import (
	"fmt"
	"time"
)

// TradeSide is the direction of a ledger entry.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Exit reasons recorded on closing trades.
const (
	ExitStopLoss   = "STOP_LOSS"
	ExitTakeProfit = "TAKE_PROFIT"
	ExitTimeout    = "TIMEOUT"
	ExitSignal     = "SIGNAL"
	ExitManual     = "MANUAL"
)

// Position is an open long exposure to a single symbol.
// At most one active position exists per symbol.
type Position struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"`
	AvgEntryPrice float64   `json:"avgEntryPrice"`
	EntryTime     time.Time `json:"entryTime"`
	TargetPrice   float64   `json:"targetPrice,omitempty"`
	StopLossPrice float64   `json:"stopLossPrice,omitempty"`
	UnrealizedPnl float64   `json:"unrealizedPnl"`
	CurrentValue  float64   `json:"currentValue"`
	EntryTradeID  string    `json:"entryTradeId"`
}

// Cost returns the capital committed at entry.
func (p Position) Cost() float64 { return p.Qty * p.AvgEntryPrice }

// Trade is an append-only ledger entry. A SELL finalizes the sibling BUY's
// Pnl, ExitPrice, and HoldTimeSec by matching EntryID.
type Trade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       TradeSide `json:"side"`
	Price      float64   `json:"price"`
	Qty        float64   `json:"qty"`
	Time       time.Time `json:"time"`
	SignalKind string    `json:"signalKind"`
	Confidence int       `json:"confidence"`
	EntryID    string    `json:"entryId,omitempty"`
	Reason     string    `json:"reason,omitempty"`

	Pnl         *float64 `json:"pnl,omitempty"`
	ExitPrice   *float64 `json:"exitPrice,omitempty"`
	HoldTimeSec *int64   `json:"holdTimeSec,omitempty"`
}

// TradingSettings are the risk and execution parameters of the engine.
type TradingSettings struct {
	MinConfidence   int     `json:"minConfidence"`
	MaxPositionSize float64 `json:"maxPositionSize"`
	RiskPerTradePct float64 `json:"riskPerTradePct"`
	MaxDailyLossAbs float64 `json:"maxDailyLossAbs"`
	MaxPositions    int     `json:"maxPositions"`
	StopLossPct     float64 `json:"stopLossPct"`
	TakeProfitPct   float64 `json:"takeProfitPct"`
	MaxHoldTimeSec  int64   `json:"maxHoldTimeSec"`
	ScalingFactor   float64 `json:"scalingFactor"`
	IsEnabled       bool    `json:"isEnabled"`
}

// Validate checks every settings range the engine relies on.
func (s TradingSettings) Validate() error {
	switch {
	case s.MinConfidence < 0 || s.MinConfidence > 100:
		return fmt.Errorf("minConfidence %d outside [0,100]", s.MinConfidence)
	case s.MaxPositionSize <= 0:
		return fmt.Errorf("maxPositionSize must be > 0")
	case s.RiskPerTradePct <= 0 || s.RiskPerTradePct > 100:
		return fmt.Errorf("riskPerTradePct %v outside (0,100]", s.RiskPerTradePct)
	case s.MaxDailyLossAbs <= 0:
		return fmt.Errorf("maxDailyLossAbs must be > 0")
	case s.MaxPositions < 1:
		return fmt.Errorf("maxPositions must be >= 1")
	case s.StopLossPct <= 0 || s.StopLossPct > 50:
		return fmt.Errorf("stopLossPct %v outside (0,50]", s.StopLossPct)
	case s.TakeProfitPct <= 0 || s.TakeProfitPct > 100:
		return fmt.Errorf("takeProfitPct %v outside (0,100]", s.TakeProfitPct)
	case s.TakeProfitPct <= s.StopLossPct:
		return fmt.Errorf("takeProfitPct %v must exceed stopLossPct %v", s.TakeProfitPct, s.StopLossPct)
	case s.MaxHoldTimeSec <= 0:
		return fmt.Errorf("maxHoldTimeSec must be > 0")
	case s.ScalingFactor < 1:
		return fmt.Errorf("scalingFactor must be >= 1")
	}
	return nil
}

// DefaultSettings returns conservative starting parameters.
func DefaultSettings() TradingSettings {
	return TradingSettings{
		MinConfidence:   60,
		MaxPositionSize: 10000,
		RiskPerTradePct: 2,
		MaxDailyLossAbs: 500,
		MaxPositions:    5,
		StopLossPct:     1,
		TakeProfitPct:   2,
		MaxHoldTimeSec:  1800,
		ScalingFactor:   1,
		IsEnabled:       false,
	}
}

// TradingState is the deep-copied snapshot handed to observers. It is
// assembled under a single lock so readers never see torn state.
type TradingState struct {
	Trades           []Trade         `json:"trades"`
	Positions        []Position      `json:"positions"`
	TotalPnl         float64         `json:"totalPnl"`
	DayPnl           float64         `json:"dayPnl"`
	TradingBalance   float64         `json:"tradingBalance"`
	AvailableBalance float64         `json:"availableBalance"`
	Settings         TradingSettings `json:"settings"`
	Watchlist        []WatchlistItem `json:"watchlist"`
}
