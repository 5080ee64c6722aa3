package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"grid-trading-bot/internal/analysis"
	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/grid"
	"grid-trading-bot/internal/strategy"
)

var (
	ErrAlreadyRunning = errors.New("a backtest is already running")
	ErrNoResults      = errors.New("no backtest results available")
)

// RunRequest is the API-facing run description.
type RunRequest struct {
	Pair       string  `json:"pair"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	Capital    float64 `json:"capital"`
	GridLevels int     `json:"grid_levels"`
	Strategy   string  `json:"strategy"`
}

// Runner owns the system-wide single backtest slot: starting a run
// while one is in flight fails fast with a conflict, it never queues.
type Runner struct {
	exchange binance.ExchangeClient
	params   strategy.IndicatorParams
	weights  strategy.ScoreWeights
	mtfCfg   analysis.Config
	defaults Config
	bus      *events.EventBus
	logger   zerolog.Logger

	mu       sync.Mutex
	running  bool
	status   string
	progress float64
	result   *Result
	runID    string
	cancel   context.CancelFunc
}

// NewRunner creates the backtest runner. defaults supplies interval,
// fee and spacing settings a RunRequest does not carry.
func NewRunner(exchange binance.ExchangeClient, params strategy.IndicatorParams, weights strategy.ScoreWeights, mtfCfg analysis.Config, defaults Config, bus *events.EventBus, logger zerolog.Logger) *Runner {
	return &Runner{
		exchange: exchange,
		params:   params,
		weights:  weights,
		mtfCfg:   mtfCfg,
		defaults: defaults,
		bus:      bus,
		logger:   logger.With().Str("component", "backtest").Logger(),
		status:   StatusIdle,
	}
}

// Start validates the request, claims the run slot and launches the
// simulation in the background.
func (r *Runner) Start(req RunRequest) error {
	cfg, candles, err := r.prepare(req)
	if err != nil {
		return err
	}

	sim, err := NewSimulator(cfg, r.params, r.weights, r.mtfCfg, r.logger, r.reportProgress)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	runID := uuid.New().String()
	r.running = true
	r.status = StatusRunning
	r.progress = 0
	r.runID = runID
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		defer cancel()

		result, err := sim.Run(ctx, candles)

		r.mu.Lock()
		r.running = false
		if err != nil {
			r.status = StatusError
			r.logger.Error().Err(err).Str("run_id", runID).Msg("backtest failed")
		} else {
			r.status = result.Status
			r.progress = 100
			r.result = result
		}
		r.mu.Unlock()

		if r.bus != nil {
			data := map[string]interface{}{"run_id": runID, "status": r.Status()}
			if err != nil {
				data["error"] = err.Error()
			}
			r.bus.Publish(events.Event{Type: events.EventBacktestFinished, Data: data})
		}
	}()

	return nil
}

// prepare maps the request onto a simulator config and fetches the
// candle history for the date range.
func (r *Runner) prepare(req RunRequest) (Config, []binance.Kline, error) {
	cfg := r.defaults
	cfg.Pair = req.Pair
	if req.Capital > 0 {
		cfg.InitialCapital = req.Capital
	}
	if req.GridLevels > 0 {
		cfg.NumLevels = req.GridLevels
	}
	switch strings.ToLower(req.Strategy) {
	case "", string(cfg.SpacingMode):
	case string(grid.SpacingArithmetic):
		cfg.SpacingMode = grid.SpacingArithmetic
	case string(grid.SpacingGeometric):
		cfg.SpacingMode = grid.SpacingGeometric
	default:
		return cfg, nil, fmt.Errorf("unknown strategy %q", req.Strategy)
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	limit, err := candleBudget(req.StartDate, req.EndDate, cfg.Interval)
	if err != nil {
		return cfg, nil, err
	}

	candles, err := r.exchange.GetKlines(cfg.Pair, cfg.Interval, limit)
	if err != nil {
		return cfg, nil, fmt.Errorf("fetch history for %s: %w", cfg.Pair, err)
	}
	return cfg, candles, nil
}

// candleBudget converts a date range into a kline request size, capped
// at the exchange's single-request maximum.
func candleBudget(startDate, endDate, interval string) (int, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return 0, fmt.Errorf("invalid start_date %q: %w", startDate, err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return 0, fmt.Errorf("invalid end_date %q: %w", endDate, err)
	}
	if !end.After(start) {
		return 0, fmt.Errorf("end_date %q is not after start_date %q", endDate, startDate)
	}

	per := map[string]time.Duration{
		"1m": time.Minute, "5m": 5 * time.Minute, "15m": 15 * time.Minute,
		"30m": 30 * time.Minute, "1h": time.Hour, "4h": 4 * time.Hour, "1d": 24 * time.Hour,
	}
	step, ok := per[interval]
	if !ok {
		step = time.Hour
	}

	limit := int(end.Sub(start)/step) + 1
	if limit > 1000 {
		limit = 1000
	}
	return limit, nil
}

func (r *Runner) reportProgress(percent float64) {
	r.mu.Lock()
	r.progress = percent
	runID := r.runID
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.PublishBacktestProgress(runID, percent)
	}
}

// Stop cancels the in-flight run. The simulator notices between bars
// and finishes with status stopped; stopping an idle runner is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Status returns the run state.
func (r *Runner) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Progress returns percent of candles processed.
func (r *Runner) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Results returns the latest finished result.
func (r *Runner) Results() (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return nil, ErrNoResults
	}
	return r.result, nil
}

// LastRunID returns the identifier of the newest run, empty before the
// first start.
func (r *Runner) LastRunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}
