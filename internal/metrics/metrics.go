package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scalping engine.
type Metrics struct {
	TicksTotal        prometheus.Counter
	CandlesTotal      prometheus.Counter
	StreamReconnects  prometheus.Counter
	ObserverDrops     *prometheus.CounterVec // labels: channel
	RateLimitSkips    prometheus.Counter
	ProtocolErrors    *prometheus.CounterVec // labels: symbol
	CircuitTrips      prometheus.Counter
	SignalsTotal      *prometheus.CounterVec // labels: kind
	TradesTotal       *prometheus.CounterVec // labels: side
	RiskRejections    prometheus.Counter
	OpenPositions     prometheus.Gauge
	DayPnl            prometheus.Gauge
	TradingBalance    prometheus.Gauge
	AnalysisCacheHits prometheus.Counter
	ComputeDur        prometheus.Histogram
	TickToDecisionDur prometheus.Histogram
}

// New registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on an explicit registerer. Tests use a fresh
// registry per case to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_ticks_total",
			Help: "Total ticker frames received from the stream",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_candles_total",
			Help: "Total candles appended to the rolling windows",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_stream_reconnects_total",
			Help: "Total stream reconnections",
		}),
		ObserverDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_observer_drops_total",
			Help: "Snapshots dropped on full observer channels",
		}, []string{"channel"}),
		RateLimitSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_rate_limit_skips_total",
			Help: "Outbound calls skipped because the token bucket was empty",
		}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_protocol_errors_total",
			Help: "Malformed upstream payloads per symbol",
		}, []string{"symbol"}),
		CircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_circuit_trips_total",
			Help: "Times a per-symbol protocol circuit tripped open",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_signals_total",
			Help: "Signals produced, by kind",
		}, []string{"kind"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_trades_total",
			Help: "Ledger entries appended, by side",
		}, []string{"side"}),
		RiskRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_risk_rejections_total",
			Help: "Entry intents rejected by the risk gate",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_open_positions",
			Help: "Current number of open positions",
		}),
		DayPnl: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_day_pnl",
			Help: "Realized pnl since UTC midnight",
		}),
		TradingBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_trading_balance",
			Help: "Current trading balance",
		}),
		AnalysisCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_analysis_cache_hits_total",
			Help: "Indicator cache hits within TTL",
		}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalper_indicator_compute_duration_seconds",
			Help:    "Indicator pipeline latency per window",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		TickToDecisionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalper_tick_to_decision_duration_seconds",
			Help:    "Latency from tick receipt to trading decision",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.StreamReconnects,
		m.ObserverDrops,
		m.RateLimitSkips,
		m.ProtocolErrors,
		m.CircuitTrips,
		m.SignalsTotal,
		m.TradesTotal,
		m.RiskRejections,
		m.OpenPositions,
		m.DayPnl,
		m.TradingBalance,
		m.AnalysisCacheHits,
		m.ComputeDur,
		m.TickToDecisionDur,
	)
	return m
}

// HealthStatus tracks engine liveness and dependency state.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool
	LastTickTime    time.Time
	UpstreamOK      bool
	RedisConnected  bool
	SQLiteOK        bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), UpstreamOK: true}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetUpstreamOK(v bool) {
	h.mu.Lock()
	h.UpstreamOK = v
	h.mu.Unlock()
}

// View returns a copy of the current health fields.
func (h *HealthStatus) View() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthStatus{
		StreamConnected: h.StreamConnected,
		LastTickTime:    h.LastTickTime,
		UpstreamOK:      h.UpstreamOK,
		RedisConnected:  h.RedisConnected,
		SQLiteOK:        h.SQLiteOK,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt,
		StartedAt:       h.StartedAt,
	}
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes until ctx ends.
// Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.StreamConnected || !h.UpstreamOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		UpstreamOK      bool    `json:"upstream_ok"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		UpstreamOK:      h.UpstreamOK,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz on a side port.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
