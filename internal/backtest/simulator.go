package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/analysis"
	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/grid"
	"grid-trading-bot/internal/strategy"
)

// Status values of a backtest run
const (
	StatusIdle     = "idle"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
	StatusStopped  = "stopped"
)

// Config describes one simulation.
type Config struct {
	Pair           string           `json:"pair"`
	Interval       string           `json:"interval"`
	InitialCapital float64          `json:"initial_capital"`
	FeePercent     float64          `json:"fee_percent"`
	NumLevels      int              `json:"num_levels"`
	SpacingMode    grid.SpacingMode `json:"spacing_mode"`
	SpacingValue   float64          `json:"spacing_value"`
	UseMTF         bool             `json:"use_mtf"`

	// MTFEvery is how many bars pass between analyzer reconciliations
	// when UseMTF is set.
	MTFEvery int `json:"mtf_every"`
}

// Validate rejects simulation parameters up front.
func (c Config) Validate() error {
	if c.Pair == "" {
		return fmt.Errorf("invalid backtest config: pair is required")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("invalid backtest config: initial_capital must be positive, got %f", c.InitialCapital)
	}
	probe := grid.GridConfig{
		Pair:         c.Pair,
		CentralPrice: 1,
		SpacingMode:  c.SpacingMode,
		SpacingValue: c.SpacingValue,
		NumLevels:    c.NumLevels,
		Capital:      c.InitialCapital,
	}
	return probe.Validate()
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Result is the outcome of a run. A cancelled run carries the partial
// curve and trades accumulated up to the stop.
type Result struct {
	Pair          string        `json:"pair"`
	Status        string        `json:"status"`
	TotalProfit   float64       `json:"total_profit"`
	TotalReturn   float64       `json:"total_return"`
	TotalTrades   int           `json:"total_trades"`
	WinRate       float64       `json:"win_rate"`
	MaxDrawdown   float64       `json:"max_drawdown"`
	SharpeRatio   float64       `json:"sharpe_ratio"`
	EquityHistory []EquityPoint `json:"equity_history"`
	Trades        []Trade       `json:"trades"`
}

// Simulator replays a candle series through the identical indicator,
// analyzer and grid pipeline the live loop runs. Same inputs, same
// components, same decisions: determinism comes from reuse, not from a
// parallel implementation.
type Simulator struct {
	config   Config
	params   strategy.IndicatorParams
	weights  strategy.ScoreWeights
	mtfCfg   analysis.Config
	logger   zerolog.Logger
	progress func(percent float64)
}

// NewSimulator creates a simulator. progress may be nil.
func NewSimulator(cfg Config, params strategy.IndicatorParams, weights strategy.ScoreWeights, mtfCfg analysis.Config, logger zerolog.Logger, progress func(percent float64)) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MTFEvery <= 0 {
		cfg.MTFEvery = 10
	}
	return &Simulator{
		config:   cfg,
		params:   params,
		weights:  weights,
		mtfCfg:   mtfCfg,
		logger:   logger.With().Str("component", "backtest").Logger(),
		progress: progress,
	}, nil
}

// Run walks the series bar by bar: settle fills against the bar's
// range, feed the close to the ladder, sample equity. Cancellation is
// checked between bars, so stopping has bounded latency and leaves a
// partial result with status stopped.
func (s *Simulator) Run(ctx context.Context, candles []binance.Kline) (*Result, error) {
	warmup := s.params.MinCandles() + 1
	if len(candles) <= warmup {
		return nil, fmt.Errorf("%w: %d candles, need more than %d", strategy.ErrInsufficientData, len(candles), warmup)
	}

	sim := newSimExchange(s.config.Pair, candles, s.config.InitialCapital, s.config.FeePercent)
	sim.idx = warmup

	gridCfg := grid.GridConfig{
		Pair:         s.config.Pair,
		CentralPrice: candles[warmup].Close,
		SpacingMode:  s.config.SpacingMode,
		SpacingValue: s.config.SpacingValue,
		NumLevels:    s.config.NumLevels,
		Capital:      s.config.InitialCapital,
		MaxRetries:   3,
	}
	manager, err := grid.NewManager(gridCfg, sim, nil, s.logger)
	if err != nil {
		return nil, err
	}

	var analyzer *analysis.Analyzer
	if s.config.UseMTF {
		analyzer = analysis.NewAnalyzer(nil, s.params, s.weights, s.mtfCfg, s.logger)
	}

	result := &Result{
		Pair:          s.config.Pair,
		Status:        StatusRunning,
		EquityHistory: make([]EquityPoint, 0, len(candles)-warmup+1),
	}
	// Equity history is never empty, even for a run stopped before
	// the first bar settles.
	result.EquityHistory = append(result.EquityHistory, EquityPoint{
		Timestamp: time.UnixMilli(candles[warmup].OpenTime),
		Equity:    s.config.InitialCapital,
	})

	paused := false
	total := len(candles) - warmup

	for i := warmup; i < len(candles); i++ {
		select {
		case <-ctx.Done():
			result.Status = StatusStopped
			s.finalize(result, sim)
			return result, nil
		default:
		}

		sim.advance(i)
		manager.PollFills()

		if analyzer != nil && (i-warmup)%s.config.MTFEvery == 0 {
			window := candles[:i+1]
			mtf := analyzer.Reconcile(s.config.Pair, map[string][]binance.Kline{
				s.mtfCfg.TrendTimeframe:     window,
				s.mtfCfg.ConfigTimeframe:    window,
				s.mtfCfg.ExecutionTimeframe: window,
			}, time.UnixMilli(candles[i].CloseTime))
			paused = mtf.TradingPaused
		}

		if !paused {
			manager.OnPrice(candles[i].Close)
		}

		result.EquityHistory = append(result.EquityHistory, EquityPoint{
			Timestamp: time.UnixMilli(candles[i].CloseTime),
			Equity:    sim.equity(),
		})

		if s.progress != nil {
			s.progress(float64(i-warmup+1) / float64(total) * 100)
		}
	}

	result.Status = StatusComplete
	s.finalize(result, sim)

	s.logger.Info().
		Int("trades", result.TotalTrades).
		Float64("total_profit", result.TotalProfit).
		Float64("win_rate", result.WinRate).
		Msg("backtest finished")

	return result, nil
}

// finalize computes the summary metrics from the trade log and curve.
func (s *Simulator) finalize(result *Result, sim *simExchange) {
	result.Trades = sim.trades
	result.TotalTrades = len(sim.trades)

	if len(result.EquityHistory) > 0 {
		final := result.EquityHistory[len(result.EquityHistory)-1].Equity
		result.TotalProfit = final - s.config.InitialCapital
		result.TotalReturn = result.TotalProfit / s.config.InitialCapital * 100
	}

	wins, sells := 0, 0
	for _, trade := range sim.trades {
		if trade.Side != "SELL" {
			continue
		}
		sells++
		if trade.Profit > 0 {
			wins++
		}
	}
	if sells > 0 {
		result.WinRate = float64(wins) / float64(sells) * 100
	}

	result.MaxDrawdown = maxDrawdown(result.EquityHistory)
	result.SharpeRatio = sharpeRatio(result.EquityHistory)
}

// maxDrawdown is the deepest peak-to-trough loss on the curve, in
// percent of the peak.
func maxDrawdown(curve []EquityPoint) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak > 0 {
			drawdown := (peak - point.Equity) / peak * 100
			if drawdown > worst {
				worst = drawdown
			}
		}
	}
	return worst
}

// sharpeRatio is the mean per-bar return over its deviation, scaled by
// the sample length. Zero-variance curves score zero.
func sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(len(returns)))
}
