package binance

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockClient provides simulated market data and order handling for dry-run
// mode. Candles are generated from a seeded random walk so repeated runs
// against the same seed see the same market.
type MockClient struct {
	mu         sync.RWMutex
	rng        *rand.Rand
	prices     map[string]float64
	lastUpdate time.Time
	nextID     int64
	orders     map[int64]*OrderResponse
}

// NewMockClient creates a new mock client
func NewMockClient(seed int64) *MockClient {
	mc := &MockClient{
		rng:        rand.New(rand.NewSource(seed)),
		lastUpdate: time.Now(),
		nextID:     1,
		orders:     make(map[int64]*OrderResponse),
		prices: map[string]float64{
			"BTCUSDT":  104500.00,
			"ETHUSDT":  3900.00,
			"BNBUSDT":  710.00,
			"SOLUSDT":  220.00,
			"XRPUSDT":  2.35,
			"ADAUSDT":  1.05,
			"DOGEUSDT": 0.40,
			"AVAXUSDT": 50.00,
			"DOTUSDT":  9.50,
			"LINKUSDT": 28.00,
			"ATOMUSDT": 12.00,
			"LTCUSDT":  115.00,
		},
	}
	return mc
}

// updatePrices adds small random variations to simulate market movement,
// then crosses resting orders against the new prices.
func (mc *MockClient) updatePrices() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if time.Since(mc.lastUpdate) < time.Second {
		return
	}

	for symbol, price := range mc.prices {
		change := (mc.rng.Float64() - 0.5) * 0.01
		mc.prices[symbol] = price * (1 + change)
	}
	mc.lastUpdate = time.Now()

	for _, order := range mc.orders {
		if order.Status != OrderStatusNew {
			continue
		}
		price := mc.prices[order.Symbol]
		if order.Side == "BUY" && price <= order.Price {
			order.Status = OrderStatusFilled
			order.ExecutedQty = order.OrigQty
		}
		if order.Side == "SELL" && price >= order.Price {
			order.Status = OrderStatusFilled
			order.ExecutedQty = order.OrigQty
		}
	}
}

// GetKlines returns simulated candlestick data
func (mc *MockClient) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	mc.updatePrices()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	basePrice, ok := mc.prices[symbol]
	if !ok {
		basePrice = 100.0
	}

	step := intervalDuration(interval)
	klines := make([]Kline, limit)
	now := time.Now()

	currentPrice := basePrice
	for i := limit - 1; i >= 0; i-- {
		openTime := now.Add(-time.Duration(limit-i) * step)
		closeTime := openTime.Add(step)

		volatility := 0.02
		open := currentPrice
		change := (mc.rng.Float64() - 0.5) * volatility * 2
		close := open * (1 + change)

		high := math.Max(open, close) * (1 + mc.rng.Float64()*volatility*0.5)
		low := math.Min(open, close) * (1 - mc.rng.Float64()*volatility*0.5)
		volume := basePrice * (1000 + mc.rng.Float64()*5000)

		klines[i] = Kline{
			OpenTime:  openTime.UnixMilli(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			CloseTime: closeTime.UnixMilli(),
		}
		currentPrice = close
	}

	return klines, nil
}

// GetCurrentPrice returns the simulated price for a symbol
func (mc *MockClient) GetCurrentPrice(symbol string) (float64, error) {
	mc.updatePrices()

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	price, ok := mc.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("unknown symbol: %s", symbol)
	}
	return price, nil
}

// Get24hrTickers returns simulated ticker stats for all known symbols
func (mc *MockClient) Get24hrTickers() ([]Ticker24hr, error) {
	mc.updatePrices()

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	tickers := make([]Ticker24hr, 0, len(mc.prices))
	for symbol, price := range mc.prices {
		tickers = append(tickers, Ticker24hr{
			Symbol:             symbol,
			LastPrice:          price,
			PriceChangePercent: (mc.rng.Float64() - 0.5) * 10,
			Volume:             1_000_000 + mc.rng.Float64()*9_000_000,
			QuoteVolume:        price * 1_000_000,
		})
	}
	return tickers, nil
}

// GetExchangeInfo returns the simulated symbol universe
func (mc *MockClient) GetExchangeInfo() (*ExchangeInfo, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	info := &ExchangeInfo{}
	for symbol := range mc.prices {
		info.Symbols = append(info.Symbols, SymbolInfo{
			Symbol:     symbol,
			Status:     "TRADING",
			QuoteAsset: "USDT",
			BaseAsset:  symbol[:len(symbol)-4],
		})
	}
	return info, nil
}

// PlaceLimitOrder records a resting order that fills when the simulated
// price crosses it
func (mc *MockClient) PlaceLimitOrder(symbol, side string, price, quantity float64) (int64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	id := mc.nextID
	mc.nextID++

	mc.orders[id] = &OrderResponse{
		Symbol:  symbol,
		OrderID: id,
		Price:   price,
		OrigQty: quantity,
		Status:  OrderStatusNew,
		Side:    side,
	}
	return id, nil
}

// CancelOrder cancels a resting order
func (mc *MockClient) CancelOrder(symbol string, orderID int64) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	order, ok := mc.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	if order.Status == OrderStatusFilled {
		return fmt.Errorf("order %d already filled", orderID)
	}
	order.Status = OrderStatusCanceled
	return nil
}

// GetOrderStatus returns the state of a simulated order
func (mc *MockClient) GetOrderStatus(symbol string, orderID int64) (*OrderResponse, error) {
	mc.updatePrices()

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	order, ok := mc.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d not found", orderID)
	}
	copied := *order
	return &copied, nil
}

// GetBalances returns a fixed paper balance
func (mc *MockClient) GetBalances() (map[string]float64, error) {
	return map[string]float64{"USDT": 10000.0}, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
