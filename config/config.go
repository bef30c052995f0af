// Package config loads engine configuration from the environment.
// A .env file is honored when present; real environment wins.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Server
	Port        string
	Environment string
	MetricsAddr string
	LogLevel    string

	// Market upstream
	APIBaseURL string
	StreamURL  string
	Symbols    string

	// Client tuning
	RateLimit     float64
	RetryAttempts int
	RetryDelay    time.Duration

	// Risk defaults
	MaxPositions    int
	DefaultRiskPct  float64
	MaxDailyLoss    float64
	PositionTimeout time.Duration
	StartingBalance float64
	MinConfidence   int
	StopLossPct     float64
	TakeProfitPct   float64
	MaxPositionSize float64

	// Indicator periods
	RSIPeriod    int
	EMA9Period   int
	EMA21Period  int
	EMA50Period  int
	EMA200Period int

	// Sinks
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	WebhookURL    string
}

// Load reads configuration with sensible defaults. Malformed numeric
// values are fatal; a missing .env file is not.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		APIBaseURL: getEnv("API_BASE_URL", "https://api.binance.com/api/v3"),
		StreamURL:  getEnv("STREAM_URL", "wss://stream.binance.com:9443/ws"),
		Symbols:    getEnv("SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT"),

		RateLimit:     envFloat("RATE_LIMIT", 10),
		RetryAttempts: envInt("RETRY_ATTEMPTS", 3),
		RetryDelay:    envDuration("RETRY_DELAY", 500*time.Millisecond),

		MaxPositions:    envInt("MAX_POSITIONS", 5),
		DefaultRiskPct:  envFloat("DEFAULT_RISK_PCT", 2),
		MaxDailyLoss:    envFloat("MAX_DAILY_LOSS", 500),
		PositionTimeout: time.Duration(envInt("POSITION_TIMEOUT_MINUTES", 30)) * time.Minute,
		StartingBalance: envFloat("STARTING_BALANCE", 100000),
		MinConfidence:   envInt("MIN_CONFIDENCE", 60),
		StopLossPct:     envFloat("STOP_LOSS_PCT", 1),
		TakeProfitPct:   envFloat("TAKE_PROFIT_PCT", 2),
		MaxPositionSize: envFloat("MAX_POSITION_SIZE", 10000),

		RSIPeriod:    envInt("RSI_PERIOD", 14),
		EMA9Period:   envInt("EMA9_PERIOD", 9),
		EMA21Period:  envInt("EMA21_PERIOD", 21),
		EMA50Period:  envInt("EMA50_PERIOD", 50),
		EMA200Period: envInt("EMA200_PERIOD", 200),

		SQLitePath:    getEnv("SQLITE_PATH", "data/scalper.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
	}
}

// ParseSymbols splits the SYMBOLS list, normalizing to upper case.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		symbols = append(symbols, p)
	}
	return symbols
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("[config] %s=%q is not an integer", key, v)
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("[config] %s=%q is not a number", key, v)
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("[config] %s=%q is not a duration", key, v)
	}
	return d
}
