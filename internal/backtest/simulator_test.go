package backtest

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/analysis"
	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/grid"
	"grid-trading-bot/internal/strategy"
)

// fastParams keeps the indicator warmup tiny so scenarios stay readable.
func fastParams() strategy.IndicatorParams {
	return strategy.IndicatorParams{
		EMAFastPeriod:      2,
		EMASlowPeriod:      3,
		MACDFastPeriod:     2,
		MACDSlowPeriod:     3,
		MACDSignalPeriod:   2,
		RSIPeriod:          2,
		CCIPeriod:          2,
		BollingerPeriod:    2,
		BollingerStdDev:    2.0,
		ATRPeriod:          2,
		VolumePeriod:       2,
		VolatilityLookback: 5,
	}
}

func barsFromCloses(closes []float64) []binance.Kline {
	klines := make([]binance.Kline, len(closes))
	prev := closes[0]
	for i, close := range closes {
		klines[i] = binance.Kline{
			OpenTime:  int64(i) * 3_600_000,
			Open:      prev,
			High:      math.Max(prev, close),
			Low:       math.Min(prev, close),
			Close:     close,
			Volume:    1000,
			CloseTime: int64(i+1) * 3_600_000,
		}
		prev = close
	}
	return klines
}

func testSimConfig() Config {
	return Config{
		Pair:           "BTCUSDT",
		Interval:       "1h",
		InitialCapital: 1000,
		FeePercent:     0.1,
		NumLevels:      4,
		SpacingMode:    grid.SpacingArithmetic,
		SpacingValue:   5,
	}
}

func newTestSimulator(t *testing.T, cfg Config, progress func(float64)) *Simulator {
	t.Helper()
	sim, err := NewSimulator(cfg, fastParams(), strategy.DefaultScoreWeights(), analysis.DefaultConfig(), zerolog.Nop(), progress)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	return sim
}

// Scenario: warmup at 100, then closes [100, 95, 91]. The ladder is
// built around 100 with a buy at 95; bar two opens it, bar three fills
// it at 95 with a 0.1% fee haircut to 94.905.
func TestEndToEndFillWithFeeHaircut(t *testing.T) {
	warmup := fastParams().MinCandles() + 1
	closes := make([]float64, 0, warmup+3)
	for i := 0; i < warmup; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 100, 95, 91)

	sim := newTestSimulator(t, testSimConfig(), nil)
	result, err := sim.Run(context.Background(), barsFromCloses(closes))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != StatusComplete {
		t.Errorf("expected complete, got %s", result.Status)
	}
	if result.TotalTrades != 1 {
		t.Fatalf("expected exactly one fill, got %d trades", result.TotalTrades)
	}

	trade := result.Trades[0]
	if trade.Side != "BUY" || trade.Price != 95 {
		t.Errorf("expected buy at level 95, got %s at %f", trade.Side, trade.Price)
	}
	if math.Abs(trade.ExecutedPrice-94.905) > 1e-9 {
		t.Errorf("expected executed price 94.905, got %f", trade.ExecutedPrice)
	}

	if len(result.EquityHistory) != 3 {
		t.Errorf("expected 3 equity samples, got %d", len(result.EquityHistory))
	}
}

func TestNoFillWithoutCross(t *testing.T) {
	warmup := fastParams().MinCandles() + 1
	closes := make([]float64, 0, warmup+5)
	for i := 0; i < warmup+5; i++ {
		closes = append(closes, 100) // price never leaves the central band
	}

	sim := newTestSimulator(t, testSimConfig(), nil)
	result, err := sim.Run(context.Background(), barsFromCloses(closes))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalTrades != 0 {
		t.Errorf("expected no trades inside the band, got %d", result.TotalTrades)
	}
	if result.TotalProfit != 0 {
		t.Errorf("expected zero profit without trades, got %f", result.TotalProfit)
	}
}

func randomWalk(seed int64, start float64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	price := start
	for i := 0; i < n; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.04
		closes[i] = price
	}
	return closes
}

func TestDeterminism(t *testing.T) {
	candles := barsFromCloses(randomWalk(7, 100, 300))

	run := func() *Result {
		sim := newTestSimulator(t, testSimConfig(), nil)
		result, err := sim.Run(context.Background(), candles)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return result
	}

	a := run()
	b := run()

	if a.TotalProfit != b.TotalProfit {
		t.Errorf("total_profit differs across identical runs: %f vs %f", a.TotalProfit, b.TotalProfit)
	}
	if len(a.Trades) != len(b.Trades) {
		t.Fatalf("trade counts differ: %d vs %d", len(a.Trades), len(b.Trades))
	}
	for i := range a.Trades {
		if a.Trades[i] != b.Trades[i] {
			t.Errorf("trade %d differs: %+v vs %+v", i, a.Trades[i], b.Trades[i])
		}
	}
	if a.TotalTrades == 0 {
		t.Error("determinism check needs a series that actually trades")
	}
}

func TestEquityHistoryMonotonicTimestamps(t *testing.T) {
	candles := barsFromCloses(randomWalk(11, 100, 200))

	sim := newTestSimulator(t, testSimConfig(), nil)
	result, err := sim.Run(context.Background(), candles)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.EquityHistory) == 0 {
		t.Fatal("equity history must not be empty")
	}
	for i := 1; i < len(result.EquityHistory); i++ {
		if !result.EquityHistory[i].Timestamp.After(result.EquityHistory[i-1].Timestamp) {
			t.Fatalf("equity timestamps not strictly increasing at %d", i)
		}
	}
}

func TestCancellationLeavesPartialResult(t *testing.T) {
	candles := barsFromCloses(randomWalk(3, 100, 500))

	ctx, cancel := context.WithCancel(context.Background())
	sim := newTestSimulator(t, testSimConfig(), func(percent float64) {
		if percent >= 30 {
			cancel()
		}
	})

	result, err := sim.Run(ctx, candles)
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}

	if result.Status != StatusStopped {
		t.Errorf("expected status stopped, got %s", result.Status)
	}
	if len(result.EquityHistory) == 0 {
		t.Error("partial result should carry the curve accumulated so far")
	}
	if len(result.EquityHistory) >= 500-fastParams().MinCandles() {
		t.Error("run was not actually cut short")
	}
}

func TestCancellationBeforeFirstBarKeepsEquityCurve(t *testing.T) {
	candles := barsFromCloses(randomWalk(3, 100, 500))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim := newTestSimulator(t, testSimConfig(), nil)
	result, err := sim.Run(ctx, candles)
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}

	if result.Status != StatusStopped {
		t.Errorf("expected status stopped, got %s", result.Status)
	}
	if len(result.EquityHistory) == 0 {
		t.Fatal("stopped result must still carry the starting equity point")
	}
	if got := result.EquityHistory[0].Equity; got != testSimConfig().InitialCapital {
		t.Errorf("starting equity point = %f, want %f", got, testSimConfig().InitialCapital)
	}
}

func TestInsufficientHistoryRejected(t *testing.T) {
	sim := newTestSimulator(t, testSimConfig(), nil)
	_, err := sim.Run(context.Background(), barsFromCloses([]float64{100, 100, 100}))
	if err == nil {
		t.Fatal("expected insufficient history error")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := testSimConfig()
	cfg.NumLevels = 0
	if _, err := NewSimulator(cfg, fastParams(), strategy.DefaultScoreWeights(), analysis.DefaultConfig(), zerolog.Nop(), nil); err == nil {
		t.Error("zero levels must be rejected")
	}

	cfg = testSimConfig()
	cfg.InitialCapital = -5
	if _, err := NewSimulator(cfg, fastParams(), strategy.DefaultScoreWeights(), analysis.DefaultConfig(), zerolog.Nop(), nil); err == nil {
		t.Error("negative capital must be rejected")
	}
}

func TestMetricsFromTradeLog(t *testing.T) {
	// A clean round trip: buy at 95, ride back up, sell at 100
	warmup := fastParams().MinCandles() + 1
	closes := make([]float64, 0, warmup+6)
	for i := 0; i < warmup; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 100, 95, 91, 96, 101, 101)

	cfg := testSimConfig()
	cfg.FeePercent = 0 // keep the arithmetic exact
	sim := newTestSimulator(t, cfg, nil)
	result, err := sim.Run(context.Background(), barsFromCloses(closes))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var buys, sells int
	for _, trade := range result.Trades {
		switch trade.Side {
		case "BUY":
			buys++
		case "SELL":
			sells++
		}
	}
	if buys == 0 || sells == 0 {
		t.Fatalf("expected a round trip, got %d buys %d sells", buys, sells)
	}
	if result.WinRate <= 0 {
		t.Errorf("a profitable sell should lift the win rate, got %f", result.WinRate)
	}
	if result.MaxDrawdown < 0 || result.MaxDrawdown >= 100 {
		t.Errorf("drawdown out of range: %f", result.MaxDrawdown)
	}
}
