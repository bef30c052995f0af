// Package indicator computes technical indicators from a candle window.
// Every calculator is a pure function of its input: identical windows
// always yield identical results, so callers may cache freely.
package indicator

import (
	"time"

	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/model"
)

// Trend labels derived from EMA alignment against the last close.
const (
	TrendUp   = "UP"
	TrendDown = "DOWN"
	TrendFlat = "FLAT"
)

// Config holds the indicator periods. Zero values fall back to defaults.
type Config struct {
	RSIPeriod     int
	EMA9Period    int
	EMA21Period   int
	EMA50Period   int
	EMA200Period  int
	VWAPPeriod    int
	VolumePeriod  int
	SwingLookback int
}

// DefaultConfig returns the standard scalping periods.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:     14,
		EMA9Period:    9,
		EMA21Period:   21,
		EMA50Period:   50,
		EMA200Period:  200,
		VWAPPeriod:    24,
		VolumePeriod:  20,
		SwingLookback: 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = d.RSIPeriod
	}
	if c.EMA9Period <= 0 {
		c.EMA9Period = d.EMA9Period
	}
	if c.EMA21Period <= 0 {
		c.EMA21Period = d.EMA21Period
	}
	if c.EMA50Period <= 0 {
		c.EMA50Period = d.EMA50Period
	}
	if c.EMA200Period <= 0 {
		c.EMA200Period = d.EMA200Period
	}
	if c.VWAPPeriod <= 0 {
		c.VWAPPeriod = d.VWAPPeriod
	}
	if c.VolumePeriod <= 0 {
		c.VolumePeriod = d.VolumePeriod
	}
	if c.SwingLookback <= 0 {
		c.SwingLookback = d.SwingLookback
	}
	return c
}

// Snapshot is the full indicator battery for one symbol at one instant.
type Snapshot struct {
	RSI         float64   `json:"rsi"`
	EMA9        float64   `json:"ema9"`
	EMA21       float64   `json:"ema21"`
	EMA50       float64   `json:"ema50"`
	EMA200      float64   `json:"ema200"`
	VWAP        float64   `json:"vwap"`
	MACD        float64   `json:"macd"`
	MACDSignal  float64   `json:"macdSignal"`
	Volume      float64   `json:"volume"`
	AvgVolume20 float64   `json:"avgVolume20"`
	VolumeRatio float64   `json:"volumeRatio"`
	SwingHigh   float64   `json:"swingHigh"`
	SwingLow    float64   `json:"swingLow"`
	Trend       string    `json:"trend"`
	ComputedAt  time.Time `json:"computedAt"`
}

// Compute runs the whole pipeline over a window ordered oldest first.
// The window must cover the EMA200 warm-up; shorter windows return an
// InsufficientData error.
func Compute(window []model.Candle, cfg Config) (Snapshot, error) {
	cfg = cfg.withDefaults()
	if len(window) < cfg.EMA200Period {
		return Snapshot{}, errs.Errorf(errs.InsufficientData, "indicator.Compute",
			"window %d < EMA200 warm-up %d", len(window), cfg.EMA200Period)
	}

	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
	}

	macd, macdSignal := MACD(closes)
	volume, avgVolume, volRatio := VolumeRatio(window, cfg.VolumePeriod)
	swingHigh, swingLow := SwingLevels(window, cfg.SwingLookback)

	snap := Snapshot{
		RSI:         RSI(closes, cfg.RSIPeriod),
		EMA9:        EMA(closes, cfg.EMA9Period),
		EMA21:       EMA(closes, cfg.EMA21Period),
		EMA50:       EMA(closes, cfg.EMA50Period),
		EMA200:      EMA(closes, cfg.EMA200Period),
		VWAP:        VWAP(window, cfg.VWAPPeriod),
		MACD:        macd,
		MACDSignal:  macdSignal,
		Volume:      volume,
		AvgVolume20: avgVolume,
		VolumeRatio: volRatio,
		SwingHigh:   swingHigh,
		SwingLow:    swingLow,
		ComputedAt:  time.Now().UTC(),
	}
	snap.Trend = trend(closes[len(closes)-1], snap.EMA50, snap.EMA200)
	return snap, nil
}

// RSI computes the Relative Strength Index over the last period returns
// using Wilder-style average gain/loss. No usable data yields the neutral
// 50; zero average loss yields 100.
func RSI(closes []float64, period int) float64 {
	if len(closes) < 2 || period < 1 {
		return 50
	}
	if len(closes) < period+1 {
		period = len(closes) - 1
	}

	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// EMA computes an exponential moving average seeded with the SMA of the
// first period closes. Windows shorter than the period fall back to the
// mean of what is available.
func EMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if len(closes) < period {
		var sum float64
		for _, c := range closes {
			sum += c
		}
		return sum / float64(len(closes))
	}

	var seed float64
	for _, c := range closes[:period] {
		seed += c
	}
	ema := seed / float64(period)

	alpha := 2.0 / float64(period+1)
	for _, c := range closes[period:] {
		ema = c*alpha + ema*(1-alpha)
	}
	return ema
}

// VWAP computes the volume-weighted average price over the last period
// candles using the typical price. All-zero volume yields 0.
func VWAP(window []model.Candle, period int) float64 {
	if len(window) == 0 {
		return 0
	}
	if period > len(window) {
		period = len(window)
	}

	var pv, vol float64
	for _, c := range window[len(window)-period:] {
		pv += c.TypicalPrice() * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// MACD returns EMA12 minus EMA26 of the closes. The signal line is approximated
// as macd*0.9 rather than a true 9-period EMA of the MACD series; the
// synthesizer weights are tuned against this approximation.
func MACD(closes []float64) (macd, signal float64) {
	macd = EMA(closes, 12) - EMA(closes, 26)
	signal = macd * 0.9
	return macd, signal
}

// VolumeRatio returns the latest volume, the average of the last period
// volumes, and their ratio (1 when the average is zero).
func VolumeRatio(window []model.Candle, period int) (current, avg, ratio float64) {
	if len(window) == 0 {
		return 0, 0, 1
	}
	current = window[len(window)-1].Volume

	if period > len(window) {
		period = len(window)
	}
	var sum float64
	for _, c := range window[len(window)-period:] {
		sum += c.Volume
	}
	avg = sum / float64(period)
	if avg == 0 {
		return current, 0, 1
	}
	return current, avg, current / avg
}

// SwingLevels scans the last lookback candles for local extrema: a swing
// high is a high above both immediate neighbors, a swing low the mirror.
// Absent a local extremum the scan's max high / min low is returned.
func SwingLevels(window []model.Candle, lookback int) (high, low float64) {
	if len(window) == 0 {
		return 0, 0
	}
	if lookback > len(window) {
		lookback = len(window)
	}
	scan := window[len(window)-lookback:]

	high = scan[0].High
	low = scan[0].Low
	var swingHigh, swingLow float64

	for i := range scan {
		if scan[i].High > high {
			high = scan[i].High
		}
		if scan[i].Low < low {
			low = scan[i].Low
		}
		if i == 0 || i == len(scan)-1 {
			continue
		}
		if scan[i].High > scan[i-1].High && scan[i].High > scan[i+1].High {
			if scan[i].High > swingHigh {
				swingHigh = scan[i].High
			}
		}
		if scan[i].Low < scan[i-1].Low && scan[i].Low < scan[i+1].Low {
			if swingLow == 0 || scan[i].Low < swingLow {
				swingLow = scan[i].Low
			}
		}
	}

	if swingHigh > 0 {
		high = swingHigh
	}
	if swingLow > 0 {
		low = swingLow
	}
	return high, low
}

func trend(close, ema50, ema200 float64) string {
	switch {
	case close > ema50 && ema50 > ema200:
		return TrendUp
	case close < ema50 && ema50 < ema200:
		return TrendDown
	default:
		return TrendFlat
	}
}
