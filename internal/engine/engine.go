// Package engine is the trading orchestrator. It wakes on stream events
// and a polling fallback, runs the indicator pipeline through the TTL
// cache, asks the risk gate, and mutates the position manager. A
// broadcast task publishes consistent snapshots to observers.
package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"crypto-scalper/internal/analysis"
	"crypto-scalper/internal/candlestore"
	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/indicator"
	"crypto-scalper/internal/market"
	"crypto-scalper/internal/metrics"
	"crypto-scalper/internal/model"
	"crypto-scalper/internal/notify"
	"crypto-scalper/internal/position"
	"crypto-scalper/internal/risk"
	"crypto-scalper/internal/signal"
	"crypto-scalper/internal/store/redis"
	"crypto-scalper/internal/store/sqlite"
	"crypto-scalper/internal/stream"
)

// State is the engine lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	Symbols         []string
	Interval        string        // kline interval, e.g. "1m"
	IntervalDur     time.Duration // must match Interval
	PollInterval    time.Duration // REST liveness fallback cadence
	MarkInterval    time.Duration // mark-to-market and timeout scan
	PublishInterval time.Duration // observer broadcast cadence
	WarmupLimit     int           // candles backfilled per symbol at start

	Indicator indicator.Config

	CircuitFailures int
	CircuitReset    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.IntervalDur <= 0 {
		c.IntervalDur = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MarkInterval <= 0 {
		c.MarkInterval = time.Second
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 2 * time.Second
	}
	if c.WarmupLimit <= 0 {
		c.WarmupLimit = candlestore.DefaultMaxWindow
	}
	return c
}

// Deps are the engine's collaborators. Store, Redis, and Notifier are
// optional sinks; the engine runs entirely in memory without them.
type Deps struct {
	Market    *market.Client
	Stream    *stream.Client
	Candles   *candlestore.Store
	Cache     *analysis.Cache
	Positions *position.Manager
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Notifier  notify.Notifier
	Store     *sqlite.Store
	Redis     *redis.Publisher
	Log       *slog.Logger
}

// Engine drives the per-symbol trading loops.
type Engine struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	circuit *market.Circuit

	stateMu sync.Mutex
	state   State
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	obsMu     sync.Mutex
	observers map[int]chan model.TradingState
	nextObs   int

	prices chan model.PriceData
}

// New wires an engine. Candles, Positions, Market, Cache, and Metrics
// are required.
func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log,
		circuit:   market.NewCircuit(cfg.CircuitFailures, cfg.CircuitReset),
		observers: make(map[int]chan model.TradingState),
	}
	e.circuit.OnTrip = func(symbol string) {
		deps.Metrics.CircuitTrips.Inc()
		e.log.Error("protocol circuit tripped", "symbol", symbol)
	}
	deps.Positions.OnTrade(e.onTrade)
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Start launches the symbol loops and background tickers. Calling Start
// on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.stateMu.Lock()
	if e.state != Stopped {
		e.stateMu.Unlock()
		return nil
	}
	e.state = Starting
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.stateMu.Unlock()

	e.restore()

	// Price fan-out to the sinks stays off the tick path.
	e.prices = nil
	if e.deps.Store != nil || e.deps.Redis != nil {
		e.prices = make(chan model.PriceData, 1024)
		var storeCh chan model.PriceData
		if e.deps.Store != nil {
			storeCh = make(chan model.PriceData, 1024)
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.deps.Store.RunMarketData(runCtx, storeCh)
			}()
		}
		e.wg.Add(1)
		go e.pricePump(runCtx, storeCh)
	}

	for _, sym := range e.cfg.Symbols {
		e.deps.Positions.UpsertWatch(sym, sym)
		e.wg.Add(1)
		go e.symbolLoop(runCtx, sym)
	}

	e.wg.Add(2)
	go e.markLoop(runCtx)
	go e.publishLoop(runCtx)

	e.stateMu.Lock()
	e.state = Running
	e.stateMu.Unlock()
	e.log.Info("engine running", "symbols", e.cfg.Symbols, "interval", e.cfg.Interval)
	return nil
}

// Stop cancels the loops and waits for them to drain. Open positions are
// kept; they survive to the next start.
func (e *Engine) Stop() {
	e.stateMu.Lock()
	if e.state != Running {
		e.stateMu.Unlock()
		return
	}
	e.state = Stopping
	cancel := e.cancel
	e.stateMu.Unlock()

	cancel()
	e.wg.Wait()

	e.stateMu.Lock()
	e.state = Stopped
	e.stateMu.Unlock()
	e.log.Info("engine stopped")
}

// restore pulls persisted positions and settings into memory.
func (e *Engine) restore() {
	if e.deps.Store == nil {
		return
	}
	if set, ok, err := e.deps.Store.LoadSettings(); err != nil {
		e.log.Warn("settings restore failed", "err", err)
	} else if ok {
		if err := e.deps.Positions.UpdateSettings(set); err != nil {
			e.log.Warn("persisted settings invalid, keeping defaults", "err", err)
		}
	}
	ps, err := e.deps.Store.ActivePositions()
	if err != nil {
		e.log.Warn("position restore failed", "err", err)
		return
	}
	if len(ps) > 0 {
		e.deps.Positions.Restore(ps)
		e.log.Info("restored open positions", "count", len(ps))
	}
	items, err := e.deps.Store.LoadWatchlist()
	if err != nil {
		e.log.Warn("watchlist restore failed", "err", err)
		return
	}
	configured := make(map[string]bool, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		configured[sym] = true
	}
	for _, it := range items {
		// Symbols dropped from the config stay dropped.
		if !configured[it.Symbol] {
			continue
		}
		e.deps.Positions.UpsertWatch(it.Symbol, it.Name)
		e.deps.Positions.TouchWatch(model.PriceData{
			Symbol:       it.Symbol,
			LastPrice:    it.LastPrice,
			Change24h:    it.Change24h,
			ChangePct24h: it.ChangePct24h,
			Volume24h:    it.Volume24h,
			UpdatedAt:    it.LastUpdate,
		})
	}
}

// pricePump forwards tick-derived prices to the redis and sqlite sinks.
func (e *Engine) pricePump(ctx context.Context, storeCh chan model.PriceData) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case pd := <-e.prices:
			if e.deps.Redis != nil {
				if err := e.deps.Redis.PublishPrice(ctx, pd); err != nil && ctx.Err() == nil {
					e.log.Warn("price publish failed", "symbol", pd.Symbol, "err", err)
				}
			}
			if storeCh != nil {
				select {
				case storeCh <- pd:
				default:
				}
			}
		}
	}
}

// Snapshot returns a consistent deep-copied trading state.
func (e *Engine) Snapshot() model.TradingState {
	return e.deps.Positions.View()
}

// Enable turns entries on.
func (e *Engine) Enable() {
	e.deps.Positions.SetEnabled(true)
	e.persistSettings()
	e.log.Info("trading enabled")
}

// Disable suspends entries; exits and mark-to-market keep running.
func (e *Engine) Disable() {
	e.deps.Positions.SetEnabled(false)
	e.persistSettings()
	e.log.Info("trading disabled")
}

// Enabled reports whether entries are allowed.
func (e *Engine) Enabled() bool {
	return e.deps.Positions.Settings().IsEnabled
}

// UpdateSettings validates, applies, and persists new settings.
func (e *Engine) UpdateSettings(s model.TradingSettings) error {
	if err := e.deps.Positions.UpdateSettings(s); err != nil {
		return err
	}
	e.persistSettings()
	return nil
}

func (e *Engine) persistSettings() {
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.SaveSettings(e.deps.Positions.Settings()); err != nil {
		e.log.Warn("settings persist failed", "err", err)
	}
}

// ClosePosition closes a symbol's position at the latest known price.
func (e *Engine) ClosePosition(symbol string) (model.Trade, error) {
	last, ok := e.deps.Candles.Last(symbol)
	if !ok {
		if p, open := e.deps.Positions.Get(symbol); open {
			return e.deps.Positions.Close(symbol, p.AvgEntryPrice, model.ExitManual)
		}
		return model.Trade{}, errs.Errorf(errs.NotFound, "engine.ClosePosition", "%s: no open position", symbol)
	}
	return e.deps.Positions.Close(symbol, last.Close, model.ExitManual)
}

// Observe registers a snapshot channel. The returned cancel removes it.
func (e *Engine) Observe() (<-chan model.TradingState, func()) {
	ch := make(chan model.TradingState, 4)
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = ch
	e.obsMu.Unlock()

	return ch, func() {
		e.obsMu.Lock()
		if c, ok := e.observers[id]; ok {
			delete(e.observers, id)
			close(c)
		}
		e.obsMu.Unlock()
	}
}

// symbolLoop owns one symbol: stream subscription plus REST fallback.
func (e *Engine) symbolLoop(ctx context.Context, symbol string) {
	defer e.wg.Done()

	e.backfill(ctx, symbol)

	var events <-chan stream.Event
	if e.deps.Stream != nil {
		ch, err := e.deps.Stream.Subscribe(symbol)
		if err != nil {
			e.log.Error("stream subscribe failed", "symbol", symbol, "err", err)
		} else {
			events = ch
		}
	}

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Type {
			case stream.EventTicker:
				e.onTicker(symbol, ev.Ticker)
			case stream.EventDisconnected:
				if e.deps.Health != nil {
					e.deps.Health.SetStreamConnected(false)
				}
			case stream.EventReconnected:
				e.deps.Metrics.StreamReconnects.Inc()
				if e.deps.Health != nil {
					e.deps.Health.SetStreamConnected(true)
				}
			}
		case <-poll.C:
			e.poll(ctx, symbol)
		}
	}
}

// backfill seeds the candle window so indicators warm up immediately.
func (e *Engine) backfill(ctx context.Context, symbol string) {
	candles, err := e.deps.Market.FetchCandles(ctx, symbol, e.cfg.Interval, e.cfg.WarmupLimit)
	if err != nil {
		e.log.Warn("backfill failed", "symbol", symbol, "err", err)
		return
	}
	for _, c := range candles {
		if err := e.deps.Candles.Append(c); err == nil {
			e.deps.Metrics.CandlesTotal.Inc()
		}
	}
	e.log.Info("backfilled", "symbol", symbol, "candles", len(candles))
}

// onTicker folds a stream tick into the in-flight candle and decides.
func (e *Engine) onTicker(symbol string, tk stream.Ticker) {
	start := time.Now()
	e.deps.Metrics.TicksTotal.Inc()
	if e.deps.Health != nil {
		e.deps.Health.SetLastTickTime(start)
		e.deps.Health.SetStreamConnected(true)
	}

	price := tk.LastPrice
	intervalMs := e.cfg.IntervalDur.Milliseconds()
	eventMs := tk.EventTime
	if eventMs == 0 {
		eventMs = start.UnixMilli()
	}
	openTime := eventMs - eventMs%intervalMs

	candle := model.Candle{
		Symbol:    symbol,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		OpenTime:  openTime,
		CloseTime: openTime + intervalMs - 1,
	}
	// Merge into the in-flight candle rather than resetting it.
	if last, ok := e.deps.Candles.Last(symbol); ok && last.OpenTime == openTime {
		candle.Open = last.Open
		candle.High = math.Max(last.High, price)
		candle.Low = math.Min(last.Low, price)
		candle.Volume = last.Volume
	}
	if err := e.deps.Candles.Append(candle); err != nil {
		if !errs.IsKind(err, errs.OutOfOrder) {
			e.log.Warn("candle append failed", "symbol", symbol, "err", err)
		}
		return
	}
	e.deps.Metrics.CandlesTotal.Inc()

	pd := model.PriceData{
		Symbol:       symbol,
		LastPrice:    price,
		ChangePct24h: tk.ChangePct,
		Volume24h:    tk.Volume,
		UpdatedAt:    start,
	}
	e.deps.Positions.TouchWatch(pd)
	if e.prices != nil {
		select {
		case e.prices <- pd:
		default:
		}
	}

	e.decide(symbol, price)
	e.deps.Metrics.TickToDecisionDur.Observe(time.Since(start).Seconds())
}

// poll is the REST liveness fallback: refresh latest candles and run the
// decision step off the freshest close.
func (e *Engine) poll(ctx context.Context, symbol string) {
	candles, err := e.deps.Market.FetchCandles(ctx, symbol, e.cfg.Interval, 2)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.RateLimited:
			// Counted by the client hook; skip quietly.
		case errs.Protocol:
			e.deps.Metrics.ProtocolErrors.WithLabelValues(symbol).Inc()
			e.circuit.Failure(symbol)
			e.log.Error("poll protocol error", "symbol", symbol, "err", err)
		default:
			e.log.Warn("poll failed", "symbol", symbol, "err", err)
		}
		if e.deps.Health != nil && errs.KindOf(err) != errs.RateLimited {
			e.deps.Health.SetUpstreamOK(false)
		}
		return
	}
	if e.deps.Health != nil {
		e.deps.Health.SetUpstreamOK(true)
	}
	e.circuit.Success(symbol)

	var lastClose float64
	for _, c := range candles {
		if err := e.deps.Candles.Append(c); err == nil {
			e.deps.Metrics.CandlesTotal.Inc()
		}
		lastClose = c.Close
	}
	if lastClose > 0 {
		e.decide(symbol, lastClose)
	}
}

// decide runs the indicator pipeline through the cache, synthesizes a
// signal, and applies the exit/entry predicates.
func (e *Engine) decide(symbol string, price float64) {
	if !e.circuit.Allow(symbol) {
		return
	}

	entry, hit := e.deps.Cache.Lookup(symbol)
	if hit {
		e.deps.Metrics.AnalysisCacheHits.Inc()
	} else {
		window := e.deps.Candles.Snapshot(symbol)
		start := time.Now()
		snap, err := indicator.Compute(window, e.cfg.Indicator)
		if err != nil {
			// Window still warming up.
			return
		}
		e.deps.Metrics.ComputeDur.Observe(time.Since(start).Seconds())

		sig := signal.Synthesize(snap, price)
		e.deps.Metrics.SignalsTotal.WithLabelValues(string(sig.Kind)).Inc()
		e.deps.Cache.Put(symbol, snap, sig)
		entry = analysis.Entry{Snapshot: snap, Signal: sig, ComputedAt: sig.At}

		if e.deps.Store != nil {
			if err := e.deps.Store.SaveAnalysis(symbol, snap); err != nil {
				e.log.Warn("analysis persist failed", "symbol", symbol, "err", err)
			}
		}
	}

	settings := e.deps.Positions.Settings()
	now := time.Now().UTC()

	if pos, open := e.deps.Positions.Get(symbol); open {
		e.deps.Positions.Mark(symbol, price)
		if reason, exit := risk.CheckExit(pos, price, now, entry.Signal, settings); exit {
			if _, err := e.deps.Positions.Close(symbol, price, reason); err != nil {
				e.log.Error("close failed", "symbol", symbol, "err", err)
			} else {
				e.log.Info("position closed", "symbol", symbol, "reason", reason, "price", price)
			}
		}
		return
	}

	sizing, err := risk.CheckEntry(risk.EntryIntent{
		Symbol:    symbol,
		Price:     price,
		Signal:    entry.Signal,
		Settings:  settings,
		OpenCount: e.deps.Positions.OpenCount(),
		DayPnl:    e.deps.Positions.DayPnl(),
		Available: e.deps.Positions.Available(),
	})
	if err != nil {
		if errs.IsKind(err, errs.RiskRejected) {
			e.deps.Metrics.RiskRejections.Inc()
		}
		return
	}

	p, err := e.deps.Positions.Open(symbol, sizing.Qty, price, sizing.StopLoss, sizing.Target,
		string(entry.Signal.Kind), entry.Signal.Confidence)
	if err != nil {
		e.deps.Metrics.RiskRejections.Inc()
		return
	}
	e.log.Info("position opened", "symbol", symbol, "qty", p.Qty, "price", price,
		"stop", sizing.StopLoss, "target", sizing.Target, "confidence", entry.Signal.Confidence)
}

// markLoop re-marks open positions and fires time-based exits even when
// no fresh data arrives.
func (e *Engine) markLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.MarkInterval)
	defer ticker.Stop()

	neutral := signal.Signal{Kind: signal.Hold}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settings := e.deps.Positions.Settings()
			now := time.Now().UTC()
			for _, st := range e.Snapshot().Positions {
				price := st.AvgEntryPrice
				if last, ok := e.deps.Candles.Last(st.Symbol); ok {
					price = last.Close
				}
				e.deps.Positions.Mark(st.Symbol, price)
				if reason, exit := risk.CheckExit(st, price, now, neutral, settings); exit {
					if _, err := e.deps.Positions.Close(st.Symbol, price, reason); err == nil {
						e.log.Info("position closed", "symbol", st.Symbol, "reason", reason, "price", price)
					}
				}
			}
		}
	}
}

// publishLoop broadcasts snapshots to observers and the optional sinks.
func (e *Engine) publishLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := e.Snapshot()

			e.deps.Metrics.OpenPositions.Set(float64(len(st.Positions)))
			e.deps.Metrics.DayPnl.Set(st.DayPnl)
			e.deps.Metrics.TradingBalance.Set(st.TradingBalance)

			e.obsMu.Lock()
			for id, ch := range e.observers {
				select {
				case ch <- st:
				default:
					e.deps.Metrics.ObserverDrops.WithLabelValues(obsLabel(id)).Inc()
				}
			}
			e.obsMu.Unlock()

			if e.deps.Redis != nil {
				if err := e.deps.Redis.PublishState(ctx, st); err != nil && ctx.Err() == nil {
					e.log.Warn("redis publish failed", "err", err)
				}
			}
			if e.deps.Store != nil {
				if err := e.deps.Store.SavePerformance(st); err != nil {
					e.log.Warn("performance persist failed", "err", err)
				}
				if err := e.deps.Store.SaveWatchlist(st.Watchlist); err != nil {
					e.log.Warn("watchlist persist failed", "err", err)
				}
			}
		}
	}
}

// onTrade mirrors ledger appends into the sinks and notifier.
func (e *Engine) onTrade(t model.Trade) {
	e.deps.Metrics.TradesTotal.WithLabelValues(string(t.Side)).Inc()

	if e.deps.Store != nil {
		if err := e.deps.Store.SaveTrade(t); err != nil {
			e.log.Warn("trade persist failed", "id", t.ID, "err", err)
		}
		if t.Side == model.SideBuy {
			if p, ok := e.deps.Positions.Get(t.Symbol); ok {
				if err := e.deps.Store.SavePosition(p, true); err != nil {
					e.log.Warn("position persist failed", "symbol", t.Symbol, "err", err)
				}
			}
		} else {
			if err := e.deps.Store.ClosePosition(t.Symbol); err != nil {
				e.log.Warn("position close persist failed", "symbol", t.Symbol, "err", err)
			}
		}
	}

	if e.deps.Notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.deps.Notifier.Send(ctx, notify.TradeAlert(t)); err != nil {
			e.log.Warn("notify failed", "err", err)
		}
	}
}

func obsLabel(id int) string {
	// Small fixed cardinality; observers are the WS hub and sinks.
	switch id {
	case 0:
		return "ws"
	default:
		return "other"
	}
}
