package analysis

import (
	"fmt"
	"sync"
	"time"

	"grid-trading-bot/internal/binance"
)

// CandleProvider supplies candle history for a symbol and interval. The
// live exchange client, the mock client and the backtest feed all satisfy
// it.
type CandleProvider interface {
	GetKlines(symbol, interval string, limit int) ([]binance.Kline, error)
}

// CandleCache caches candle fetches with per-timeframe TTLs so the three
// analysis timeframes don't hammer the exchange on every cycle.
type CandleCache struct {
	provider CandleProvider
	mu       sync.RWMutex
	data     map[string]*cacheEntry
}

type cacheEntry struct {
	candles   []binance.Kline
	expiresAt time.Time
}

// NewCandleCache creates a candle cache around a provider
func NewCandleCache(provider CandleProvider) *CandleCache {
	return &CandleCache{
		provider: provider,
		data:     make(map[string]*cacheEntry),
	}
}

// GetKlines fetches candles, serving from cache when fresh
func (c *CandleCache) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	key := fmt.Sprintf("%s:%s:%d", symbol, interval, limit)

	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.candles, nil
	}

	candles, err := c.provider.GetKlines(symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.data[key] = &cacheEntry{
		candles:   candles,
		expiresAt: time.Now().Add(cacheTTL(interval)),
	}
	c.mu.Unlock()

	return candles, nil
}

// Purge removes expired entries
func (c *CandleCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
		}
	}
}

// cacheTTL scales the cache lifetime with the timeframe
func cacheTTL(interval string) time.Duration {
	switch interval {
	case "1m":
		return 30 * time.Second
	case "5m":
		return 2 * time.Minute
	case "15m":
		return 5 * time.Minute
	case "1h":
		return 10 * time.Minute
	case "4h":
		return 30 * time.Minute
	case "1d":
		return 2 * time.Hour
	default:
		return time.Minute
	}
}
