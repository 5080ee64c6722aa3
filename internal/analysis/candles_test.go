package analysis

import (
	"errors"
	"testing"

	"grid-trading-bot/internal/binance"
)

type countingProvider struct {
	calls int
	err   error
}

func (p *countingProvider) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return make([]binance.Kline, limit), nil
}

func TestCandleCacheServesRepeatLookups(t *testing.T) {
	upstream := &countingProvider{}
	c := NewCandleCache(upstream)

	if _, err := c.GetKlines("BTCUSDT", "1h", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetKlines("BTCUSDT", "1h", 100); err != nil {
		t.Fatal(err)
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", upstream.calls)
	}

	// a different timeframe is its own entry
	if _, err := c.GetKlines("BTCUSDT", "4h", 100); err != nil {
		t.Fatal(err)
	}
	if upstream.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", upstream.calls)
	}
}

func TestCandleCacheDoesNotCacheErrors(t *testing.T) {
	upstream := &countingProvider{err: errors.New("klines unavailable")}
	c := NewCandleCache(upstream)

	if _, err := c.GetKlines("BTCUSDT", "1h", 100); err == nil {
		t.Fatal("expected upstream error to propagate")
	}

	upstream.err = nil
	if _, err := c.GetKlines("BTCUSDT", "1h", 100); err != nil {
		t.Fatalf("fetch after recovery failed: %v", err)
	}
	if upstream.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", upstream.calls)
	}
}
