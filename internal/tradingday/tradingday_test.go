package tradingday

import (
	"testing"
	"time"
)

func TestDayStart(t *testing.T) {
	in := time.Date(2025, 3, 14, 23, 59, 59, 0, time.UTC)
	want := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	if got := DayStart(in); !got.Equal(want) {
		t.Fatalf("DayStart = %v, want %v", got, want)
	}
}

func TestDayStartNormalizesZone(t *testing.T) {
	// 01:30 IST on the 15th is still the 14th in UTC.
	ist := time.FixedZone("IST", 5*3600+30*60)
	in := time.Date(2025, 3, 15, 1, 30, 0, 0, ist)
	want := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	if got := DayStart(in); !got.Equal(want) {
		t.Fatalf("DayStart = %v, want %v", got, want)
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2025, 3, 14, 0, 0, 1, 0, time.UTC)
	b := time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)
	c := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	if !SameDay(a, b) {
		t.Error("expected a and b on same day")
	}
	if SameDay(b, c) {
		t.Error("expected b and c on different days")
	}
}

func TestNextRollover(t *testing.T) {
	in := time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)
	want := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	if got := NextRollover(in); !got.Equal(want) {
		t.Fatalf("NextRollover = %v, want %v", got, want)
	}
}
