package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crypto-scalper/internal/backoff"
	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/ratelimit"
)

func fastRetry() backoff.Policy {
	return backoff.Policy{Attempts: 3, Base: time.Millisecond, JitterPct: 0}
}

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, Timeout: 2 * time.Second, Retry: fastRetry()})
}

func TestFetchTickersParsesDecimalStrings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ticker/24hr" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","lastPrice":"65000.50","priceChange":"1200.10","priceChangePercent":"1.88","volume":"12345.6"},
			{"symbol":"XRPUSDT","lastPrice":"0.52","priceChange":"0.01","priceChangePercent":"1.9","volume":"99"}
		]`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).FetchTickers(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("FetchTickers: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d tickers, want 1", len(got))
	}
	pd := got["BTCUSDT"]
	if pd.LastPrice != 65000.50 || pd.ChangePct24h != 1.88 {
		t.Fatalf("price data = %+v", pd)
	}
}

func TestFetchTickersBadDecimal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","lastPrice":"oops","priceChange":"0","priceChangePercent":"0","volume":"0"}]`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchTickers(context.Background(), []string{"BTCUSDT"})
	if !errs.IsKind(err, errs.Protocol) {
		t.Fatalf("err = %v, want Protocol", err)
	}
}

func TestFetchCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s", got)
		}
		if got := r.URL.Query().Get("interval"); got != "1m" {
			t.Errorf("interval = %s", got)
		}
		w.Write([]byte(`[
			[1700000000000,"100.0","101.0","99.0","100.5","12.5",1700000059999],
			[1700000060000,"100.5","102.0","100.1","101.7","8.0",1700000119999]
		]`))
	}))
	defer srv.Close()

	candles, err := newTestClient(srv.URL).FetchCandles(context.Background(), "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles", len(candles))
	}
	c0 := candles[0]
	if c0.OpenTime != 1700000000000 || c0.Close != 100.5 || c0.High != 101 {
		t.Fatalf("candle = %+v", c0)
	}
	if c0.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %s", c0.Symbol)
	}
}

func TestFetchCandlesShortRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"100","101"]]`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchCandles(context.Background(), "BTCUSDT", "1m", 1)
	if !errs.IsKind(err, errs.Protocol) {
		t.Fatalf("err = %v, want Protocol", err)
	}
}

func TestServerErrorRetriesThenUpstream(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).HealthCheck(context.Background())
	if !errs.IsKind(err, errs.Upstream) {
		t.Fatalf("err = %v, want Upstream", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 attempts", calls)
	}
}

func TestClientErrorAbortsImmediately(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).HealthCheck(context.Background())
	if !errs.IsKind(err, errs.Upstream) {
		t.Fatalf("err = %v, want Upstream", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, 4xx must not retry", calls)
	}
}

func TestRateLimitedSkipsCall(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	lim := ratelimit.New(1, time.Hour)
	c := NewClient(Config{BaseURL: srv.URL, Retry: fastRetry(), Limiter: lim})
	var skips int
	c.OnRateLimited(func() { skips++ })

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}
	err := c.HealthCheck(context.Background())
	if !errs.IsKind(err, errs.RateLimited) {
		t.Fatalf("err = %v, want RateLimited", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, drained limiter must not reach the wire", calls)
	}
	if skips != 1 {
		t.Fatalf("skips = %d, want 1", skips)
	}
}

func TestCircuitTripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuit(3, 50*time.Millisecond)
	var tripped []string
	cb.OnTrip = func(sym string) { tripped = append(tripped, sym) }

	for i := 0; i < 3; i++ {
		if !cb.Allow("BTCUSDT") {
			t.Fatalf("closed circuit denied at failure %d", i)
		}
		cb.Failure("BTCUSDT")
	}
	if cb.Allow("BTCUSDT") {
		t.Fatal("circuit should be open")
	}
	if len(tripped) != 1 || tripped[0] != "BTCUSDT" {
		t.Fatalf("tripped = %v", tripped)
	}
	// Other symbols are unaffected.
	if !cb.Allow("ETHUSDT") {
		t.Fatal("independent symbol blocked")
	}

	time.Sleep(60 * time.Millisecond)
	if !cb.Allow("BTCUSDT") {
		t.Fatal("half-open probe denied after reset timeout")
	}
	cb.Success("BTCUSDT")
	if !cb.Allow("BTCUSDT") {
		t.Fatal("circuit should close after successful probe")
	}
}

func TestCircuitReopensOnFailedProbe(t *testing.T) {
	cb := NewCircuit(2, 20*time.Millisecond)
	cb.Failure("BTCUSDT")
	cb.Failure("BTCUSDT")
	time.Sleep(30 * time.Millisecond)
	if !cb.Allow("BTCUSDT") {
		t.Fatal("probe denied")
	}
	cb.Failure("BTCUSDT")
	if cb.Allow("BTCUSDT") {
		t.Fatal("failed probe must reopen the circuit")
	}
}
