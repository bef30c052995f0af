// Package market is the REST client for the exchange's public market
// data API. Every call takes a rate limiter token first and runs inside
// a retry wrapper; numeric fields arrive as decimal strings.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crypto-scalper/internal/backoff"
	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/model"
	"crypto-scalper/internal/ratelimit"
)

const (
	defaultTimeout = 15 * time.Second

	tickerPath = "/ticker/24hr"
	klinesPath = "/klines"
	pingPath   = "/ping"
)

// Config tunes the client. Zero values fall back to defaults.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   backoff.Policy
	Limiter *ratelimit.Limiter
}

// Client is a shared, connection-pooling HTTP client for market data.
type Client struct {
	baseURL string
	http    *http.Client
	retry   backoff.Policy
	limiter *ratelimit.Limiter

	onRateLimited func()
}

// NewClient builds a client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:   cfg.Retry,
		limiter: cfg.Limiter,
	}
}

// OnRateLimited registers a counter hook fired on each denied token.
func (c *Client) OnRateLimited(fn func()) { c.onRateLimited = fn }

// tickerRow is the exchange's 24h ticker payload.
type tickerRow struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
}

// FetchTickers returns 24h price data for the requested symbols. Symbols
// absent from the exchange response are silently missing from the map.
func (c *Client) FetchTickers(ctx context.Context, symbols []string) (map[string]model.PriceData, error) {
	const op = "market.FetchTickers"

	var rows []tickerRow
	if err := c.getJSON(ctx, op, tickerPath, &rows); err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	now := time.Now().UTC()
	out := make(map[string]model.PriceData, len(symbols))
	for _, r := range rows {
		if !want[r.Symbol] {
			continue
		}
		last, err := parseDecimal(op, "lastPrice", r.LastPrice)
		if err != nil {
			return nil, err
		}
		change, err := parseDecimal(op, "priceChange", r.PriceChange)
		if err != nil {
			return nil, err
		}
		pct, err := parseDecimal(op, "priceChangePercent", r.PriceChangePercent)
		if err != nil {
			return nil, err
		}
		vol, err := parseDecimal(op, "volume", r.Volume)
		if err != nil {
			return nil, err
		}
		out[r.Symbol] = model.PriceData{
			Symbol:       r.Symbol,
			LastPrice:    last,
			Change24h:    change,
			ChangePct24h: pct,
			Volume24h:    vol,
			UpdatedAt:    now,
		}
	}
	return out, nil
}

// FetchCandles returns up to limit klines for the symbol, oldest first.
func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	const op = "market.FetchCandles"

	path := fmt.Sprintf("%s?symbol=%s&interval=%s&limit=%d", klinesPath, symbol, interval, limit)
	var rows [][]json.RawMessage
	if err := c.getJSON(ctx, op, path, &rows); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, errs.Errorf(errs.Protocol, op, "%s: kline row has %d fields, want 7", symbol, len(row))
		}
		openTime, err := parseRawInt(op, row[0])
		if err != nil {
			return nil, err
		}
		closeTime, err := parseRawInt(op, row[6])
		if err != nil {
			return nil, err
		}
		open, err := parseRawDecimal(op, "open", row[1])
		if err != nil {
			return nil, err
		}
		high, err := parseRawDecimal(op, "high", row[2])
		if err != nil {
			return nil, err
		}
		low, err := parseRawDecimal(op, "low", row[3])
		if err != nil {
			return nil, err
		}
		cl, err := parseRawDecimal(op, "close", row[4])
		if err != nil {
			return nil, err
		}
		vol, err := parseRawDecimal(op, "volume", row[5])
		if err != nil {
			return nil, err
		}

		candle := model.Candle{
			Symbol:    symbol,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cl,
			Volume:    vol,
			OpenTime:  openTime,
			CloseTime: closeTime,
		}
		if err := candle.Validate(); err != nil {
			return nil, errs.E(errs.Protocol, op, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// HealthCheck pings the exchange.
func (c *Client) HealthCheck(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, "market.HealthCheck", pingPath, &out)
}

// getJSON takes a limiter token, then runs the GET inside the retry
// policy. Context cancellation and 4xx abort without further attempts.
func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	if c.limiter != nil && !c.limiter.Allow() {
		if c.onRateLimited != nil {
			c.onRateLimited()
		}
		return errs.Errorf(errs.RateLimited, op, "no tokens for %s", path)
	}

	retryable := func(err error) bool {
		switch errs.KindOf(err) {
		case errs.Network:
			return true
		case errs.Upstream:
			var ue *errs.Error
			if errors.As(err, &ue) {
				return ue.Status >= 500
			}
		}
		return false
	}

	return backoff.Retry(ctx, c.retry, retryable, func(ctx context.Context) error {
		return c.doGET(ctx, op, path, out)
	})
}

func (c *Client) doGET(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errs.E(errs.Internal, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.E(errs.Network, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errs.E(errs.Network, op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &errs.Error{
			Kind:   errs.Upstream,
			Op:     op,
			Status: resp.StatusCode,
			Body:   truncate(string(body), 256),
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errs.Errorf(errs.Protocol, op, "bad JSON (%v): %s", err, truncate(string(body), 128))
	}
	return nil
}

func parseDecimal(op, field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errs.Errorf(errs.Protocol, op, "field %s: bad decimal %q", field, s)
	}
	return v, nil
}

// parseRawDecimal accepts either a JSON string or a bare number.
func parseRawDecimal(op, field string, raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseDecimal(op, field, s)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errs.Errorf(errs.Protocol, op, "field %s: bad value %s", field, raw)
	}
	return v, nil
}

func parseRawInt(op string, raw json.RawMessage) (int64, error) {
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errs.Errorf(errs.Protocol, op, "bad timestamp %s", raw)
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
