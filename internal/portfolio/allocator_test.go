package portfolio

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/grid"
)

// quietExchange serves fixed prices and accepts every order.
type quietExchange struct {
	mu     sync.Mutex
	prices map[string]float64
	nextID int64
}

func newQuietExchange(prices map[string]float64) *quietExchange {
	return &quietExchange{prices: prices}
}

func (q *quietExchange) GetCurrentPrice(symbol string) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.prices[symbol], nil
}

func (q *quietExchange) PlaceLimitOrder(symbol, side string, price, quantity float64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	return q.nextID, nil
}

func (q *quietExchange) CancelOrder(symbol string, orderID int64) error { return nil }

func (q *quietExchange) GetOrderStatus(symbol string, orderID int64) (*binance.OrderResponse, error) {
	return &binance.OrderResponse{OrderID: orderID, Status: binance.OrderStatusNew}, nil
}

func (q *quietExchange) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	return nil, nil
}
func (q *quietExchange) Get24hrTickers() ([]binance.Ticker24hr, error)   { return nil, nil }
func (q *quietExchange) GetExchangeInfo() (*binance.ExchangeInfo, error) { return nil, nil }
func (q *quietExchange) GetBalances() (map[string]float64, error)        { return nil, nil }

func testPortfolioConfig() Config {
	return Config{
		TotalCapital:    10000,
		ReserveFraction: 0.2,
		MaxPairs:        3,
		TickInterval:    time.Hour, // loops stay idle during tests
		Grid: grid.GridConfig{
			SpacingMode:  grid.SpacingGeometric,
			SpacingValue: 0.02,
			NumLevels:    6,
			MaxRetries:   3,
		},
	}
}

func testCandidates() []Candidate {
	return []Candidate{
		{Symbol: "BTCUSDT"},
		{Symbol: "ETHUSDT"},
		{Symbol: "SOLUSDT"},
		{Symbol: "XRPUSDT"},
	}
}

func testPrices() map[string]float64 {
	return map[string]float64{
		"BTCUSDT": 50000,
		"ETHUSDT": 3000,
		"SOLUSDT": 150,
		"XRPUSDT": 0.5,
	}
}

func newTestAllocator(t *testing.T, cfg Config, exchange binance.ExchangeClient) *Allocator {
	t.Helper()
	a, err := NewAllocator(cfg, exchange, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return a
}

func TestConfigValidation(t *testing.T) {
	cfg := testPortfolioConfig()
	cfg.ReserveFraction = 1.0
	if _, err := NewAllocator(cfg, newQuietExchange(testPrices()), nil, zerolog.Nop()); err == nil {
		t.Error("reserve_fraction of 1 must be rejected")
	}

	cfg = testPortfolioConfig()
	cfg.TotalCapital = 0
	if _, err := NewAllocator(cfg, newQuietExchange(testPrices()), nil, zerolog.Nop()); err == nil {
		t.Error("zero capital must be rejected")
	}

	cfg = testPortfolioConfig()
	cfg.MaxPairs = 0
	if _, err := NewAllocator(cfg, newQuietExchange(testPrices()), nil, zerolog.Nop()); err == nil {
		t.Error("zero max_pairs must be rejected")
	}
}

func TestAllocationRespectsReserve(t *testing.T) {
	a := newTestAllocator(t, testPortfolioConfig(), newQuietExchange(testPrices()))
	defer a.Stop()

	pairs, err := a.Start(testCandidates())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(pairs) != 3 {
		t.Fatalf("expected max_pairs=3 selected, got %d", len(pairs))
	}

	snapshot := a.StatusSnapshot()
	investable := 10000 * (1 - 0.2)
	if snapshot.Summary.TotalAllocated > investable+1e-9 {
		t.Errorf("allocated %f exceeds investable capital %f", snapshot.Summary.TotalAllocated, investable)
	}

	// even split across the three selected pairs
	for pair, status := range snapshot.Pairs {
		want := investable / 3
		if math.Abs(status.Allocated-want) > 1e-9 {
			t.Errorf("%s: expected allocation %f, got %f", pair, want, status.Allocated)
		}
	}

	if a.Available() > 1e-9 {
		t.Errorf("even split should consume all investable capital, %f left", a.Available())
	}
}

func TestWeightedAllocation(t *testing.T) {
	a := newTestAllocator(t, testPortfolioConfig(), newQuietExchange(testPrices()))
	defer a.Stop()

	candidates := []Candidate{
		{Symbol: "BTCUSDT", Weight: 3},
		{Symbol: "ETHUSDT", Weight: 1},
	}
	if _, err := a.Start(candidates); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snapshot := a.StatusSnapshot()
	btc := snapshot.Pairs["BTCUSDT"].Allocated
	eth := snapshot.Pairs["ETHUSDT"].Allocated
	if math.Abs(btc-3*eth) > 1e-6 {
		t.Errorf("expected 3:1 weighting, got %f vs %f", btc, eth)
	}
}

func TestDoubleStartConflicts(t *testing.T) {
	a := newTestAllocator(t, testPortfolioConfig(), newQuietExchange(testPrices()))
	defer a.Stop()

	if _, err := a.Start(testCandidates()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.Start(testCandidates()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRemovePairReturnsCapital(t *testing.T) {
	a := newTestAllocator(t, testPortfolioConfig(), newQuietExchange(testPrices()))
	defer a.Stop()

	if _, err := a.Start(testCandidates()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	removed := a.StatusSnapshot().Pairs["BTCUSDT"]
	before := a.Available()

	if err := a.RemovePair("BTCUSDT"); err != nil {
		t.Fatalf("RemovePair: %v", err)
	}

	after := a.Available()
	if math.Abs(after-(before+removed.Current)) > 1e-9 {
		t.Errorf("removal must return current value: before=%f current=%f after=%f", before, removed.Current, after)
	}

	snapshot := a.StatusSnapshot()
	if _, ok := snapshot.Pairs["BTCUSDT"]; ok {
		t.Error("removed pair still present in snapshot")
	}
	if snapshot.ActivePairsCount != 2 {
		t.Errorf("expected 2 active pairs, got %d", snapshot.ActivePairsCount)
	}

	if err := a.RemovePair("BTCUSDT"); !errors.Is(err, ErrPairNotFound) {
		t.Errorf("expected ErrPairNotFound, got %v", err)
	}
}

func TestPnLAggregation(t *testing.T) {
	a := newTestAllocator(t, testPortfolioConfig(), newQuietExchange(testPrices()))
	defer a.Stop()

	if _, err := a.Start(testCandidates()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snapshot := a.StatusSnapshot()

	// No fills yet: every pair marks at its allocation
	sum := 0.0
	for pair, status := range snapshot.Pairs {
		if math.Abs(status.PnL) > 1e-9 {
			t.Errorf("%s: expected zero pnl before any fill, got %f", pair, status.PnL)
		}
		sum += status.Current - status.Allocated
	}
	if math.Abs(snapshot.Summary.TotalPnL-sum) > 1e-9 {
		t.Errorf("total pnl %f does not equal the per-pair sum %f", snapshot.Summary.TotalPnL, sum)
	}
	if math.Abs(snapshot.Summary.TotalPnLPercent) > 1e-9 {
		t.Errorf("expected zero pnl percent, got %f", snapshot.Summary.TotalPnLPercent)
	}
}

func TestStopRemovesEverything(t *testing.T) {
	a := newTestAllocator(t, testPortfolioConfig(), newQuietExchange(testPrices()))

	if _, err := a.Start(testCandidates()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if a.Running() {
		t.Error("portfolio still reports running after stop")
	}
	if got := a.StatusSnapshot().ActivePairsCount; got != 0 {
		t.Errorf("expected no active pairs, got %d", got)
	}
	if err := a.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}
