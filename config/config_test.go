package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.RetryDelay != 500*time.Millisecond {
		t.Fatalf("RetryDelay = %v, want 500ms", cfg.RetryDelay)
	}
	if cfg.EMA200Period != 200 {
		t.Fatalf("EMA200Period = %d, want 200", cfg.EMA200Period)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("RATE_LIMIT", "25")
	t.Setenv("RETRY_DELAY", "2s")
	t.Setenv("MAX_POSITIONS", "3")

	cfg := Load()
	if cfg.Port != "9000" || cfg.RateLimit != 25 || cfg.RetryDelay != 2*time.Second || cfg.MaxPositions != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestParseSymbols(t *testing.T) {
	c := &Config{Symbols: " btcusdt, ETHUSDT ,,solusdt "}
	got := c.ParseSymbols()
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseSymbols = %v, want %v", got, want)
	}
}
