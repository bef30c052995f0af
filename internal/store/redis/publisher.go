// Package redis publishes live trading state and prices for external
// consumers (dashboards, other services). It is a best-effort sink;
// publish failures are logged, never propagated to the trading loop.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"crypto-scalper/internal/model"
)

const (
	stateKey       = "scalper:state"
	statePubSub    = "pub:scalper:state"
	priceKeyPrefix = "scalper:price:"
	pricePubPrefix = "pub:scalper:price:"

	defaultStateTTL = 30 * time.Minute
)

// Config configures the publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher mirrors snapshots and price updates into Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// PublishState stores the latest snapshot with a TTL and fans it out
// over pubsub.
func (p *Publisher) PublishState(ctx context.Context, st model.TradingState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	pipe.Set(ctx, stateKey, data, defaultStateTTL)
	pipe.Publish(ctx, statePubSub, data)
	_, err = pipe.Exec(ctx)
	return err
}

// PublishPrice mirrors one price update.
func (p *Publisher) PublishPrice(ctx context.Context, pd model.PriceData) error {
	data, err := json.Marshal(pd)
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	pipe.Set(ctx, priceKeyPrefix+pd.Symbol, data, defaultStateTTL)
	pipe.Publish(ctx, pricePubPrefix+pd.Symbol, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
