package backtest

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/analysis"
	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/strategy"
)

// historyExchange only serves candle history.
type historyExchange struct {
	candles []binance.Kline
}

func (h *historyExchange) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	if len(h.candles) > limit {
		return h.candles[:limit], nil
	}
	return h.candles, nil
}

func (h *historyExchange) GetCurrentPrice(symbol string) (float64, error)  { return 0, nil }
func (h *historyExchange) Get24hrTickers() ([]binance.Ticker24hr, error)   { return nil, nil }
func (h *historyExchange) GetExchangeInfo() (*binance.ExchangeInfo, error) { return nil, nil }
func (h *historyExchange) PlaceLimitOrder(symbol, side string, price, quantity float64) (int64, error) {
	return 0, nil
}
func (h *historyExchange) CancelOrder(symbol string, orderID int64) error { return nil }
func (h *historyExchange) GetOrderStatus(symbol string, orderID int64) (*binance.OrderResponse, error) {
	return nil, nil
}
func (h *historyExchange) GetBalances() (map[string]float64, error) { return nil, nil }

func newTestRunner(candles []binance.Kline, defaults Config) *Runner {
	return NewRunner(&historyExchange{candles: candles}, fastParams(), strategy.DefaultScoreWeights(), analysis.DefaultConfig(), defaults, nil, zerolog.Nop())
}

func waitForStatus(t *testing.T, r *Runner, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("runner never reached status %s, stuck at %s", want, r.Status())
}

func validRequest() RunRequest {
	return RunRequest{
		Pair:       "BTCUSDT",
		StartDate:  "2024-01-01",
		EndDate:    "2024-02-01",
		Capital:    1000,
		GridLevels: 4,
		Strategy:   "arithmetic",
	}
}

func TestRunnerCompletesAndServesResults(t *testing.T) {
	candles := barsFromCloses(randomWalk(5, 100, 400))
	r := newTestRunner(candles, testSimConfig())

	if _, err := r.Results(); !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults before any run, got %v", err)
	}

	if err := r.Start(validRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, r, StatusComplete)

	if got := r.Progress(); got != 100 {
		t.Errorf("expected progress 100 after completion, got %f", got)
	}

	result, err := r.Results()
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if result.Status != StatusComplete || len(result.EquityHistory) == 0 {
		t.Errorf("unexpected result: status=%s curve=%d", result.Status, len(result.EquityHistory))
	}
}

func TestSecondStartConflicts(t *testing.T) {
	// A big series with per-bar reconciliation keeps the first run busy
	// long enough to observe the conflict.
	candles := barsFromCloses(randomWalk(9, 100, 1000))
	defaults := testSimConfig()
	defaults.UseMTF = true
	defaults.MTFEvery = 1
	r := newTestRunner(candles, defaults)

	if err := r.Start(validRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(validRequest()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	r.Stop()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && r.Status() == StatusRunning {
		time.Sleep(5 * time.Millisecond)
	}
	if s := r.Status(); s != StatusStopped && s != StatusComplete {
		t.Errorf("expected stopped or complete after cancel, got %s", s)
	}
}

func TestRunnerRejectsBadRequests(t *testing.T) {
	r := newTestRunner(barsFromCloses(randomWalk(1, 100, 400)), testSimConfig())

	req := validRequest()
	req.StartDate = "not-a-date"
	if err := r.Start(req); err == nil {
		t.Error("invalid start_date must be rejected synchronously")
	}

	req = validRequest()
	req.EndDate = "2023-01-01" // before start
	if err := r.Start(req); err == nil {
		t.Error("inverted date range must be rejected")
	}

	req = validRequest()
	req.Strategy = "martingale"
	if err := r.Start(req); err == nil {
		t.Error("unknown strategy must be rejected")
	}

	if r.Status() == StatusRunning {
		t.Error("rejected requests must not claim the run slot")
	}
}
