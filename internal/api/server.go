// Package api is the REST and WebSocket control surface. It reads
// engine snapshots and invokes engine controls; it holds no trading
// state of its own.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crypto-scalper/internal/engine"
	"crypto-scalper/internal/errs"
	"crypto-scalper/internal/metrics"
	"crypto-scalper/internal/model"
)

// Engine is the control-plane contract the handlers need.
type Engine interface {
	State() engine.State
	Snapshot() model.TradingState
	Enable()
	Disable()
	Enabled() bool
	UpdateSettings(model.TradingSettings) error
	ClosePosition(symbol string) (model.Trade, error)
	Observe() (<-chan model.TradingState, func())
}

// TradeLog reads the persisted trade ledger. The in-memory snapshot is
// authoritative; the log backfills history across restarts.
type TradeLog interface {
	RecentTrades(symbol string, limit int) ([]model.Trade, error)
}

// Server serves the /api and /ws endpoints.
type Server struct {
	engine Engine
	health *metrics.HealthStatus
	trades TradeLog
	hub    *Hub
	log    *slog.Logger
	srv    *http.Server
}

// NewServer builds the control server. health and trades may be nil.
func NewServer(addr string, eng Engine, health *metrics.HealthStatus, trades TradeLog, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		engine: eng,
		health: health,
		trades: trades,
		hub:    NewHub(eng, log),
		log:    log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/trading-state", s.handleTradingState)
	mux.HandleFunc("/api/trading/enable", s.handleEnable)
	mux.HandleFunc("/api/trading/disable", s.handleDisable)
	mux.HandleFunc("/api/trading/status", s.handleStatus)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/positions/", s.handlePositionClose)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/market-data", s.handleMarketData)
	mux.HandleFunc("/api/market-data/", s.handleMarketData)
	mux.HandleFunc("/api/performance", s.handlePerformance)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info("api server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errs.E(errs.Network, "api.Start", err)
	}
	return nil
}

// Shutdown closes WebSocket clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleTradingState(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodPost) {
		return
	}
	s.engine.Enable()
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodPost) {
		return
	}
	s.engine.Disable()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":   s.engine.Enabled(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	snap := s.engine.Snapshot()
	if snap.Positions == nil {
		snap.Positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, snap.Positions)
}

// handlePositionClose serves POST /api/positions/{symbol}/close.
func (s *Server) handlePositionClose(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodPost) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/positions/")
	symbol, ok := strings.CutSuffix(rest, "/close")
	if !ok || symbol == "" || strings.Contains(symbol, "/") {
		http.NotFound(w, r)
		return
	}
	trade, err := s.engine.ClosePosition(strings.ToUpper(symbol))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	trades := s.engine.Snapshot().Trades
	if symbol != "" {
		filtered := make([]model.Trade, 0, len(trades))
		for _, t := range trades {
			if t.Symbol == symbol {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}
	if len(trades) == 0 && s.trades != nil {
		persisted, err := s.trades.RecentTrades(symbol, 200)
		if err != nil {
			s.log.Warn("trade log read failed", "err", err)
		} else {
			trades = persisted
		}
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.Snapshot().Settings)
	case http.MethodPost:
		// Unknown fields reject rather than silently zeroing a limit.
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		var in model.TradingSettings
		if err := dec.Decode(&in); err != nil {
			writeErr(w, errs.E(errs.Config, "api.handleSettings", err))
			return
		}
		if err := s.engine.UpdateSettings(in); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.engine.Snapshot().Settings)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMarketData serves the watchlist's live prices, either the full
// list or one symbol at /api/market-data/{symbol}.
func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	watch := s.engine.Snapshot().Watchlist
	symbol := strings.TrimPrefix(r.URL.Path, "/api/market-data")
	symbol = strings.ToUpper(strings.Trim(symbol, "/"))
	if symbol != "" {
		for _, it := range watch {
			if it.Symbol == symbol {
				writeJSON(w, http.StatusOK, priceData(it))
				return
			}
		}
		writeErr(w, errs.Errorf(errs.NotFound, "api.handleMarketData", "symbol %s not watched", symbol))
		return
	}
	out := make([]model.PriceData, 0, len(watch))
	for _, it := range watch {
		out = append(out, priceData(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func priceData(it model.WatchlistItem) model.PriceData {
	return model.PriceData{
		Symbol:       it.Symbol,
		LastPrice:    it.LastPrice,
		Change24h:    it.Change24h,
		ChangePct24h: it.ChangePct24h,
		Volume24h:    it.Volume24h,
		UpdatedAt:    it.LastUpdate,
	}
}

// Performance is the derived ledger summary for /api/performance.
type Performance struct {
	TotalTrades      int     `json:"totalTrades"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRatePct       float64 `json:"winRatePct"`
	TotalPnl         float64 `json:"totalPnl"`
	DayPnl           float64 `json:"dayPnl"`
	TradingBalance   float64 `json:"tradingBalance"`
	AvailableBalance float64 `json:"availableBalance"`
	OpenPositions    int     `json:"openPositions"`
	AvgHoldTimeSec   float64 `json:"avgHoldTimeSec"`
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	snap := s.engine.Snapshot()
	perf := Performance{
		TotalPnl:         snap.TotalPnl,
		DayPnl:           snap.DayPnl,
		TradingBalance:   snap.TradingBalance,
		AvailableBalance: snap.AvailableBalance,
		OpenPositions:    len(snap.Positions),
	}
	var holdSum float64
	for _, t := range snap.Trades {
		if t.Side != model.SideSell || t.Pnl == nil {
			continue
		}
		perf.TotalTrades++
		if *t.Pnl > 0 {
			perf.Wins++
		} else {
			perf.Losses++
		}
		if t.HoldTimeSec != nil {
			holdSum += float64(*t.HoldTimeSec)
		}
	}
	if perf.TotalTrades > 0 {
		perf.WinRatePct = float64(perf.Wins) / float64(perf.TotalTrades) * 100
		perf.AvgHoldTimeSec = holdSum / float64(perf.TotalTrades)
	}
	writeJSON(w, http.StatusOK, perf)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	out := map[string]any{
		"status": "ok",
		"engine": s.engine.State().String(),
	}
	if s.health != nil {
		hv := s.health.View()
		if !hv.StreamConnected || !hv.UpstreamOK {
			out["status"] = "degraded"
		}
		out["streamConnected"] = hv.StreamConnected
		out["upstreamOk"] = hv.UpstreamOK
		out["redisConnected"] = hv.RedisConnected
		out["sqliteOk"] = hv.SQLiteOK
		out["uptime"] = time.Since(hv.StartedAt).Round(time.Second).String()
		if !hv.LastTickTime.IsZero() {
			out["lastTickAge"] = time.Since(hv.LastTickTime).Round(time.Millisecond).String()
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func method(w http.ResponseWriter, r *http.Request, want string) bool {
	if r.Method != want {
		w.Header().Set("Allow", want)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.RiskRejected, errs.Config, errs.Protocol:
		code = http.StatusBadRequest
	case errs.NotFound:
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
