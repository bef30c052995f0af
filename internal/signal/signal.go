// Package signal converts an indicator snapshot into a discrete trading
// directive with a confidence score. Synthesize is a pure function; the
// vote weights are calibrated for 1-minute scalping windows.
package signal

import (
	"time"

	"crypto-scalper/internal/indicator"
)

// Kind is the discrete trading directive.
type Kind string

const (
	StrongBuy  Kind = "STRONG_BUY"
	Buy        Kind = "BUY"
	Hold       Kind = "HOLD"
	Sell       Kind = "SELL"
	StrongSell Kind = "STRONG_SELL"
)

// Bullish reports whether the kind argues for opening a long.
func (k Kind) Bullish() bool { return k == Buy || k == StrongBuy }

// Bearish reports whether the kind argues for exiting.
func (k Kind) Bearish() bool { return k == Sell || k == StrongSell }

// MaxConfidence caps the score; the synthesizer never claims certainty.
const MaxConfidence = 95

// Signal is an immutable directive derived from one indicator snapshot.
type Signal struct {
	Kind       Kind      `json:"kind"`
	Confidence int       `json:"confidence"`
	BullVotes  int       `json:"bullVotes"`
	BearVotes  int       `json:"bearVotes"`
	At         time.Time `json:"at"`
}

// Synthesize scores the snapshot against the last close.
func Synthesize(snap indicator.Snapshot, close float64) Signal {
	var bull, bear int

	// Momentum: anything below the RSI midline leans long, above leans short.
	if snap.RSI < 50 {
		bull++
	} else if snap.RSI > 50 {
		bear++
	}

	// EMA stack alignment.
	if snap.EMA9 > snap.EMA21 && snap.EMA50 > snap.EMA200 {
		bull += 2
	} else if snap.EMA9 < snap.EMA21 && snap.EMA50 < snap.EMA200 {
		bear += 2
	}

	// Price vs VWAP band.
	if snap.VWAP > 0 {
		if close < snap.VWAP*0.998 {
			bull++
		} else if close > snap.VWAP*1.002 {
			bear++
		}
	}

	// Trend confirmation.
	if close > snap.EMA50 && snap.EMA50 > snap.EMA200 {
		bull += 2
	} else if close < snap.EMA50 && snap.EMA50 < snap.EMA200 {
		bear += 2
	}

	// Heavy volume amplifies whichever side wins.
	if snap.VolumeRatio > 1.5 {
		bull++
		bear++
	}

	kind := classify(bull, bear)

	return Signal{
		Kind:       kind,
		Confidence: confidence(kind, snap),
		BullVotes:  bull,
		BearVotes:  bear,
		At:         time.Now().UTC(),
	}
}

func classify(bull, bear int) Kind {
	switch {
	case bull >= 4:
		return StrongBuy
	case bull >= 2:
		return Buy
	case bear >= 4:
		return StrongSell
	case bear >= 2:
		return Sell
	default:
		return Hold
	}
}

func confidence(kind Kind, snap indicator.Snapshot) int {
	c := 50

	switch kind {
	case StrongBuy, StrongSell:
		c += 25
	case Buy, Sell:
		c += 15
	}

	if snap.RSI < 25 || snap.RSI > 75 {
		c += 10
	}

	if snap.VolumeRatio > 1.5 {
		c += 10
	} else if snap.VolumeRatio < 0.7 {
		c -= 10
	}

	// EMA fast/slow alignment agreeing with the trend label.
	if (snap.EMA9 > snap.EMA21 && snap.Trend == indicator.TrendUp) ||
		(snap.EMA9 < snap.EMA21 && snap.Trend == indicator.TrendDown) {
		c += 5
	}

	if c < 0 {
		c = 0
	}
	if c > MaxConfidence {
		c = MaxConfidence
	}
	return c
}
