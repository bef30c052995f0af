// Package stream maintains one websocket connection per subscribed
// symbol and fans parsed ticker frames out to subscriber channels.
// Sends never block; a slow subscriber loses frames, not the stream.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crypto-scalper/internal/errs"
)

// EventType labels what a subscriber receives.
type EventType int

const (
	EventTicker EventType = iota
	EventDisconnected
	EventReconnected
)

// Ticker is one parsed stream frame.
type Ticker struct {
	Symbol    string
	LastPrice float64
	Open      float64
	High      float64
	Low       float64
	Volume    float64
	ChangePct float64
	EventTime int64
}

// Event is delivered to subscriber channels.
type Event struct {
	Type   EventType
	Symbol string
	Ticker Ticker
}

const (
	maxReconnectDelay = 60 * time.Second
	baseReconnect     = time.Second
	readDeadline      = 90 * time.Second
)

// Client manages per-symbol connections. Subscribe is idempotent with
// respect to the connection; every call gets its own channel.
type Client struct {
	url    string
	dialer *websocket.Dialer
	log    *slog.Logger

	mu    sync.RWMutex
	subs  map[string][]chan Event
	conns map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	OnReconnect func(symbol string)
	OnDrop      func(symbol string)
}

// NewClient builds a stream client for the given base url, e.g.
// wss://host/ws. The per-symbol path is <base>/<symbol>@ticker.
func NewClient(url string, log *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		url:    strings.TrimRight(url, "/"),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
		subs:   make(map[string][]chan Event),
		conns:  make(map[string]context.CancelFunc),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a channel for the symbol's events and starts the
// connection if this is the first subscriber.
func (c *Client) Subscribe(symbol string) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return nil, errs.Errorf(errs.Internal, "stream.Subscribe", "client closed")
	}

	ch := make(chan Event, 64)
	c.subs[symbol] = append(c.subs[symbol], ch)

	if _, running := c.conns[symbol]; !running {
		connCtx, stop := context.WithCancel(c.ctx)
		c.conns[symbol] = stop
		c.wg.Add(1)
		go c.run(connCtx, symbol)
	}
	return ch, nil
}

// Unsubscribe removes one channel. The last unsubscribe for a symbol
// tears down its connection.
func (c *Client) Unsubscribe(symbol string, ch <-chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chans := c.subs[symbol]
	for i, s := range chans {
		if s == ch {
			c.subs[symbol] = append(chans[:i], chans[i+1:]...)
			close(s)
			break
		}
	}
	if len(c.subs[symbol]) == 0 {
		delete(c.subs, symbol)
		if stop, ok := c.conns[symbol]; ok {
			stop()
			delete(c.conns, symbol)
		}
	}
}

// Close tears down every connection and closes all subscriber channels.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	for sym, chans := range c.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(c.subs, sym)
	}
	c.conns = make(map[string]context.CancelFunc)
	c.mu.Unlock()
}

// run owns the symbol's connection lifecycle: dial, read until error,
// notify, back off, redial.
func (c *Client) run(ctx context.Context, symbol string) {
	defer c.wg.Done()

	delay := baseReconnect
	first := true

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, c.streamURL(symbol), nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("stream dial failed", "symbol", symbol, "err", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		if !first {
			c.broadcast(symbol, Event{Type: EventReconnected, Symbol: symbol})
			if c.OnReconnect != nil {
				c.OnReconnect(symbol)
			}
			c.log.Info("stream reconnected", "symbol", symbol)
		}
		first = false
		delay = baseReconnect

		c.readLoop(ctx, symbol, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.broadcast(symbol, Event{Type: EventDisconnected, Symbol: symbol})
		c.log.Warn("stream disconnected", "symbol", symbol, "retry_in", delay)
		if !sleep(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (c *Client) readLoop(ctx context.Context, symbol string, conn *websocket.Conn) {
	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		tk, err := parseFrame(msg)
		if err != nil {
			c.log.Error("bad stream frame", "symbol", symbol, "err", err)
			continue
		}
		if tk.Symbol == "" {
			tk.Symbol = symbol
		}
		c.broadcast(symbol, Event{Type: EventTicker, Symbol: symbol, Ticker: tk})
	}
}

// broadcast sends without blocking; full subscriber channels drop the
// frame.
func (c *Client) broadcast(symbol string, ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Sends stay under the read lock so Unsubscribe cannot close a
	// channel mid-send. They are non-blocking, so the lock is brief.
	for _, ch := range c.subs[symbol] {
		select {
		case ch <- ev:
		default:
			if c.OnDrop != nil {
				c.OnDrop(symbol)
			}
		}
	}
}

func (c *Client) streamURL(symbol string) string {
	return c.url + "/" + strings.ToLower(symbol) + "@ticker"
}

// frame is the wire shape: {"data":{"E":...,"s":"BTCUSDT","c":"...",...}}.
type frame struct {
	Data struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		LastPrice string `json:"c"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		ChangePct string `json:"P"`
	} `json:"data"`
}

func parseFrame(msg []byte) (Ticker, error) {
	const op = "stream.parseFrame"

	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Ticker{}, errs.Errorf(errs.Protocol, op, "bad JSON: %v", err)
	}
	if f.Data.LastPrice == "" {
		return Ticker{}, errs.Errorf(errs.Protocol, op, "frame missing last price")
	}

	tk := Ticker{Symbol: f.Data.Symbol, EventTime: f.Data.EventTime}
	var err error
	if tk.LastPrice, err = parseField(op, "c", f.Data.LastPrice); err != nil {
		return Ticker{}, err
	}
	if tk.Open, err = parseField(op, "o", f.Data.Open); err != nil {
		return Ticker{}, err
	}
	if tk.High, err = parseField(op, "h", f.Data.High); err != nil {
		return Ticker{}, err
	}
	if tk.Low, err = parseField(op, "l", f.Data.Low); err != nil {
		return Ticker{}, err
	}
	if tk.Volume, err = parseField(op, "v", f.Data.Volume); err != nil {
		return Ticker{}, err
	}
	if tk.ChangePct, err = parseField(op, "P", f.Data.ChangePct); err != nil {
		return Ticker{}, err
	}
	return tk, nil
}

func parseField(op, name, s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errs.Errorf(errs.Protocol, op, "field %s: bad decimal %q", name, s)
	}
	return v, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}
