package signal

import (
	"testing"

	"crypto-scalper/internal/indicator"
)

func TestSynthesizeOversoldBounce(t *testing.T) {
	// Deeply oversold in a downtrend: price under VWAP, fast EMAs bearish.
	// RSI and VWAP vote long, EMA stack and trend vote short.
	snap := indicator.Snapshot{
		RSI:         22,
		EMA9:        99,
		EMA21:       100,
		EMA50:       101,
		EMA200:      103,
		VWAP:        100,
		VolumeRatio: 1.0,
		Trend:       indicator.TrendDown,
	}
	sig := Synthesize(snap, 99.5)

	if sig.BullVotes != 2 || sig.BearVotes != 4 {
		t.Fatalf("votes = %d/%d, want 2 bull / 4 bear", sig.BullVotes, sig.BearVotes)
	}
	if sig.Kind != Buy {
		t.Fatalf("kind = %s, want BUY", sig.Kind)
	}
	// 50 base + 15 BUY + 10 extreme RSI + 5 EMA/trend agreement.
	if sig.Confidence != 80 {
		t.Fatalf("confidence = %d, want 80", sig.Confidence)
	}
}

func TestSynthesizeStrongBuy(t *testing.T) {
	snap := indicator.Snapshot{
		RSI:         35,
		EMA9:        102,
		EMA21:       101,
		EMA50:       100,
		EMA200:      98,
		VWAP:        103,
		VolumeRatio: 2.0,
		Trend:       indicator.TrendUp,
	}
	// Close above EMA50 in a stacked uptrend, below the VWAP band.
	sig := Synthesize(snap, 102.5)

	if sig.Kind != StrongBuy {
		t.Fatalf("kind = %s, want STRONG_BUY (bull=%d bear=%d)", sig.Kind, sig.BullVotes, sig.BearVotes)
	}
	// 50 + 25 strong + 10 volume + 5 alignment.
	if sig.Confidence != 90 {
		t.Fatalf("confidence = %d, want 90", sig.Confidence)
	}
	if !sig.Kind.Bullish() {
		t.Fatal("STRONG_BUY should be bullish")
	}
}

func TestSynthesizeStrongSell(t *testing.T) {
	snap := indicator.Snapshot{
		RSI:         70,
		EMA9:        97,
		EMA21:       98,
		EMA50:       99,
		EMA200:      101,
		VWAP:        96,
		VolumeRatio: 1.0,
		Trend:       indicator.TrendDown,
	}
	sig := Synthesize(snap, 96.8)

	if sig.Kind != StrongSell {
		t.Fatalf("kind = %s, want STRONG_SELL (bull=%d bear=%d)", sig.Kind, sig.BullVotes, sig.BearVotes)
	}
	if !sig.Kind.Bearish() {
		t.Fatal("STRONG_SELL should be bearish")
	}
}

func TestSynthesizeHoldOnMixedVotes(t *testing.T) {
	// RSI leans long, nothing else votes.
	snap := indicator.Snapshot{
		RSI:         45,
		EMA9:        100,
		EMA21:       100,
		EMA50:       100,
		EMA200:      100,
		VWAP:        100,
		VolumeRatio: 1.0,
		Trend:       indicator.TrendFlat,
	}
	sig := Synthesize(snap, 100)

	if sig.Kind != Hold {
		t.Fatalf("kind = %s, want HOLD", sig.Kind)
	}
	if sig.Confidence != 50 {
		t.Fatalf("confidence = %d, want 50", sig.Confidence)
	}
}

func TestSynthesizeRSIMidlineVotesNeither(t *testing.T) {
	snap := indicator.Snapshot{RSI: 50, VolumeRatio: 1.0}
	sig := Synthesize(snap, 100)
	if sig.BullVotes != 0 || sig.BearVotes != 0 {
		t.Fatalf("votes = %d/%d, want 0/0 at RSI 50", sig.BullVotes, sig.BearVotes)
	}
}

func TestConfidenceThinVolumePenalty(t *testing.T) {
	snap := indicator.Snapshot{
		RSI:         45,
		VolumeRatio: 0.5,
		Trend:       indicator.TrendFlat,
	}
	sig := Synthesize(snap, 100)
	if sig.Confidence != 40 {
		t.Fatalf("confidence = %d, want 40 with thin volume", sig.Confidence)
	}
}

func TestConfidenceCap(t *testing.T) {
	// Every bonus at once must still clamp below certainty.
	snap := indicator.Snapshot{
		RSI:         20,
		EMA9:        105,
		EMA21:       104,
		EMA50:       103,
		EMA200:      100,
		VWAP:        110,
		VolumeRatio: 3.0,
		Trend:       indicator.TrendUp,
	}
	sig := Synthesize(snap, 104)
	if sig.Confidence > MaxConfidence {
		t.Fatalf("confidence = %d exceeds cap %d", sig.Confidence, MaxConfidence)
	}
}
