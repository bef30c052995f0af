// Command engine runs the scalping engine with its REST/WS control
// surface and a metrics sidecar port.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"crypto-scalper/config"
	"crypto-scalper/internal/analysis"
	"crypto-scalper/internal/api"
	"crypto-scalper/internal/backoff"
	"crypto-scalper/internal/candlestore"
	"crypto-scalper/internal/engine"
	"crypto-scalper/internal/indicator"
	"crypto-scalper/internal/logger"
	"crypto-scalper/internal/market"
	"crypto-scalper/internal/metrics"
	"crypto-scalper/internal/model"
	"crypto-scalper/internal/notify"
	"crypto-scalper/internal/position"
	"crypto-scalper/internal/ratelimit"
	redisstore "crypto-scalper/internal/store/redis"
	sqlitestore "crypto-scalper/internal/store/sqlite"
	"crypto-scalper/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	slogger := logger.Init("scalper", logger.ParseLevel(cfg.LogLevel))
	slogger.Info("starting", "environment", cfg.Environment)

	symbols := cfg.ParseSymbols()
	if len(symbols) == 0 {
		log.Fatalf("[engine] SYMBOLS resolved to an empty list")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics and health sidecar ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	go func() {
		if err := metricsSrv.Start(); err != nil {
			log.Fatalf("[engine] metrics server failed: %v", err)
		}
	}()

	// ---- SQLite sink ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[engine] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.CheckSQLite(ctx, store.DB())

	// ---- Redis sink (optional) ----
	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Printf("[engine] WARNING: redis init failed: %v (continuing without redis)", err)
			publisher = nil
		}
	}
	if publisher != nil {
		defer publisher.Close()
		health.StartLivenessChecker(ctx, publisher.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Market data clients ----
	if cfg.RateLimit <= 0 {
		log.Fatalf("[engine] RATE_LIMIT must be > 0, got %v", cfg.RateLimit)
	}
	limiter := ratelimit.New(int(cfg.RateLimit), time.Duration(float64(time.Second)/cfg.RateLimit))
	marketClient := market.NewClient(market.Config{
		BaseURL: cfg.APIBaseURL,
		Retry: backoff.Policy{
			Attempts:  cfg.RetryAttempts,
			Base:      cfg.RetryDelay,
			JitterPct: 0.1,
		},
		Limiter: limiter,
	})
	marketClient.OnRateLimited(prom.RateLimitSkips.Inc)
	streamClient := stream.NewClient(cfg.StreamURL, slogger)

	// ---- Trading core ----
	settings := model.DefaultSettings()
	settings.MaxPositions = cfg.MaxPositions
	settings.RiskPerTradePct = cfg.DefaultRiskPct
	settings.MaxDailyLossAbs = cfg.MaxDailyLoss
	settings.MaxHoldTimeSec = int64(cfg.PositionTimeout / time.Second)
	settings.MinConfidence = cfg.MinConfidence
	settings.StopLossPct = cfg.StopLossPct
	settings.TakeProfitPct = cfg.TakeProfitPct
	settings.MaxPositionSize = cfg.MaxPositionSize

	var notifier notify.Notifier = notify.NewLogNotifier(slogger)
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL)
	}

	eng := engine.New(engine.Config{
		Symbols: symbols,
		Indicator: indicator.Config{
			RSIPeriod:    cfg.RSIPeriod,
			EMA9Period:   cfg.EMA9Period,
			EMA21Period:  cfg.EMA21Period,
			EMA50Period:  cfg.EMA50Period,
			EMA200Period: cfg.EMA200Period,
		},
	}, engine.Deps{
		Market:    marketClient,
		Stream:    streamClient,
		Candles:   candlestore.New(candlestore.DefaultMaxWindow),
		Cache:     analysis.NewCache(0),
		Positions: position.NewManager(cfg.StartingBalance, settings),
		Metrics:   prom,
		Health:    health,
		Notifier:  notifier,
		Store:     store,
		Redis:     publisher,
		Log:       slogger,
	})
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("[engine] start failed: %v", err)
	}

	// ---- Control surface ----
	apiSrv := api.NewServer(":"+cfg.Port, eng, health, store, slogger)
	apiErr := make(chan error, 1)
	go func() { apiErr <- apiSrv.Start() }()

	select {
	case err := <-apiErr:
		log.Fatalf("[engine] api server failed: %v", err)
	case <-sigCh:
	}
	slogger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("api shutdown", "err", err)
	}
	eng.Stop()
	streamClient.Close()
	metricsSrv.Shutdown(shutdownCtx)
	slogger.Info("shutdown complete")
}
