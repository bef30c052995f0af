package model

import (
	"fmt"
	"time"
)

// Candle is an immutable OHLCV bar for a fixed interval.
// Times are epoch milliseconds as delivered by the market API.
type Candle struct {
	Symbol    string  `json:"symbol"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	OpenTime  int64   `json:"openTime"`
	CloseTime int64   `json:"closeTime"`
}

// TypicalPrice returns (high+low+close)/3, the VWAP input price.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Validate checks the OHLCV invariants. Violations indicate a malformed
// upstream frame; callers classify the error as a protocol failure.
func (c Candle) Validate() error {
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("candle %s: OHLC out of range o=%v h=%v l=%v c=%v", c.Symbol, c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s: negative volume %v", c.Symbol, c.Volume)
	}
	if c.CloseTime <= c.OpenTime {
		return fmt.Errorf("candle %s: closeTime %d <= openTime %d", c.Symbol, c.CloseTime, c.OpenTime)
	}
	return nil
}

// PriceData is a 24h ticker summary for one symbol.
type PriceData struct {
	Symbol       string    `json:"symbol"`
	LastPrice    float64   `json:"lastPrice"`
	Change24h    float64   `json:"change24h"`
	ChangePct24h float64   `json:"changePct24h"`
	Volume24h    float64   `json:"volume24h"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// WatchlistItem is the engine's live view of one subscribed symbol.
type WatchlistItem struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	LastPrice    float64   `json:"lastPrice"`
	Change24h    float64   `json:"change24h"`
	ChangePct24h float64   `json:"changePct24h"`
	Volume24h    float64   `json:"volume24h"`
	LastUpdate   time.Time `json:"lastUpdate"`
	IsActive     bool      `json:"isActive"`
}
