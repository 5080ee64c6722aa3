package cache

import (
	"context"
	"time"

	"grid-trading-bot/internal/binance"
)

// upstream is the candle source behind the read-through cache
type upstream interface {
	GetKlines(symbol, interval string, limit int) ([]binance.Kline, error)
}

// CandleProvider is a read-through candle source: Redis first, then the
// exchange. It satisfies analysis.CandleProvider so the multi-timeframe
// analyzer can sit behind it unchanged.
type CandleProvider struct {
	cache    *Cache
	upstream upstream
}

func NewCandleProvider(cache *Cache, source upstream) *CandleProvider {
	return &CandleProvider{cache: cache, upstream: source}
}

// GetKlines serves from Redis when a fresh enough window is cached,
// otherwise fetches from the upstream and writes the window back.
func (p *CandleProvider) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	ctx := context.Background()

	if cached, err := p.cache.GetCandles(ctx, symbol, interval); err == nil && len(cached) >= limit {
		return cached[len(cached)-limit:], nil
	}

	klines, err := p.upstream.GetKlines(symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	p.cache.SetCandles(ctx, symbol, interval, klines, candleTTL(interval))
	return klines, nil
}

// candleTTL keeps a window fresh for a fraction of its interval
func candleTTL(interval string) time.Duration {
	switch interval {
	case "1m", "3m", "5m":
		return 30 * time.Second
	case "15m", "30m":
		return 2 * time.Minute
	case "1h", "2h", "4h":
		return 5 * time.Minute
	default:
		return 15 * time.Minute
	}
}
