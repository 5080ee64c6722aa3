// Package cache keeps hot market data in Redis: candle windows for the
// analyzer and the latest scan summary for the API. Every method
// degrades gracefully, a missing or unreachable Redis turns the cache
// into a no-op and callers fall through to the exchange.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"grid-trading-bot/internal/binance"
)

// ErrMiss is returned when a key is absent or the cache is disabled
var ErrMiss = errors.New("cache miss")

// Config holds Redis connection settings
type Config struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// Cache is a thin typed layer over one Redis client. A nil Cache is
// valid and misses everything.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
}

// New connects to Redis. Connection failure is reported but the
// returned cache is usable either way.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Info().Str("address", cfg.Address).Msg("connected to redis")
	return &Cache{client: client, logger: logger}, nil
}

// Close releases the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func candleKey(symbol, interval string) string {
	return fmt.Sprintf("candles:%s:%s", symbol, interval)
}

// SetCandles stores a candle window with a TTL matched to the interval
func (c *Cache) SetCandles(ctx context.Context, symbol, interval string, klines []binance.Kline, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(klines)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, candleKey(symbol, interval), data, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle cache write failed")
	}
}

// GetCandles loads a cached candle window
func (c *Cache) GetCandles(ctx context.Context, symbol, interval string) ([]binance.Kline, error) {
	if c == nil || c.client == nil {
		return nil, ErrMiss
	}
	data, err := c.client.Get(ctx, candleKey(symbol, interval)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle cache read failed")
		return nil, ErrMiss
	}

	var klines []binance.Kline
	if err := json.Unmarshal(data, &klines); err != nil {
		return nil, ErrMiss
	}
	return klines, nil
}

// SetJSON stores any document under a key, used for the last scan
// summary and analyzer snapshots.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// GetJSON loads a document into out
func (c *Cache) GetJSON(ctx context.Context, key string, out interface{}) error {
	if c == nil || c.client == nil {
		return ErrMiss
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return ErrMiss
	}
	if err := json.Unmarshal(data, out); err != nil {
		return ErrMiss
	}
	return nil
}
