// Package bot runs the live single-pair grid engine: a tick loop that
// polls the exchange, settles fills, feeds prices into the grid ladder
// and re-centers when price walks out of range. Multi-timeframe vetoes
// and the circuit breaker can pause level entry without tearing the
// grid down.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/analysis"
	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/circuit"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/grid"
)

var (
	ErrAlreadyRunning = errors.New("bot already running")
	ErrNotRunning     = errors.New("bot not running")
)

// pause sources. The engine is paused while any source is active;
// each source is cleared independently so a manual resume does not
// override an open circuit breaker.
const (
	pauseManual  = "manual"
	pauseMTF     = "mtf"
	pauseCircuit = "circuit_breaker"
)

// Engine is the live trading engine for one pair
type Engine struct {
	cfg      *config.Config
	exchange binance.ExchangeClient
	analyzer *analysis.Analyzer
	breaker  *circuit.Breaker
	bus      *events.EventBus
	logger   zerolog.Logger

	mu          sync.RWMutex
	grid        *grid.Manager
	running     bool
	startedAt   time.Time
	pauses      map[string]string // source -> reason
	lastEquity  float64
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	tickCounter int
}

func NewEngine(cfg *config.Config, exchange binance.ExchangeClient, analyzer *analysis.Analyzer, breaker *circuit.Breaker, bus *events.EventBus, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		exchange: exchange,
		analyzer: analyzer,
		breaker:  breaker,
		bus:      bus,
		logger:   logger,
		pauses:   make(map[string]string),
	}
	if breaker != nil {
		breaker.OnTrip(func(reason string) { e.setPause(pauseCircuit, reason) })
		breaker.OnReset(func() { e.clearPause(pauseCircuit) })
	}
	return e
}

// Start builds the grid around the current price and launches the tick
// loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	pair := e.cfg.Pair.Symbol
	price, err := e.exchange.GetCurrentPrice(pair)
	if err != nil {
		return fmt.Errorf("fetch current price for %s: %w", pair, err)
	}

	capital := e.cfg.RiskManagement.TotalCapital * (1 - e.cfg.RiskManagement.ReserveFraction)
	gridCfg := e.cfg.GridConfigFor(pair, price, capital)

	// Let the analyzer scale spacing before the ladder is laid out.
	// Missing history is not fatal at start, the loop retries.
	if e.analyzer != nil {
		if result, err := e.analyzer.Analyze(pair); err == nil {
			gridCfg.SpacingValue *= result.SpacingMultiplier
			if result.TradingPaused {
				e.pauses[pauseMTF] = "timeframe contradiction at start"
			}
		} else {
			e.logger.Warn().Err(err).Msg("initial timeframe analysis unavailable")
		}
	}

	manager, err := grid.NewManager(gridCfg, e.exchange, e.bus, e.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.grid = manager
	e.running = true
	e.startedAt = time.Now()
	e.cancel = cancel

	e.wg.Add(1)
	go e.run(ctx)

	e.logger.Info().
		Str("pair", pair).
		Float64("central_price", price).
		Float64("capital", capital).
		Msg("engine started")
	e.bus.Publish(events.Event{
		Type: events.EventBotStarted,
		Data: map[string]interface{}{"pair": pair, "central_price": price},
	})
	return nil
}

// Stop cancels the tick loop and withdraws all resting orders.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.running = false
	cancel := e.cancel
	manager := e.grid
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	if err := manager.CancelAll(); err != nil {
		e.logger.Error().Err(err).Msg("cancel outstanding orders on stop")
	}

	e.logger.Info().Msg("engine stopped")
	e.bus.Publish(events.Event{Type: events.EventBotStopped, Data: map[string]interface{}{
		"pair": e.cfg.Pair.Symbol,
	}})
	return nil
}

// Pause suspends opening new levels. Fill settlement keeps running so
// resting orders are never orphaned.
func (e *Engine) Pause() error {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	e.setPause(pauseManual, "paused by operator")
	return nil
}

// Resume lifts the manual pause. An active circuit breaker or timeframe
// veto keeps the engine paused until its own source clears.
func (e *Engine) Resume() error {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	e.clearPause(pauseManual)
	return nil
}

func (e *Engine) setPause(source, reason string) {
	e.mu.Lock()
	_, already := e.pauses[source]
	wasPaused := len(e.pauses) > 0
	e.pauses[source] = reason
	e.mu.Unlock()

	if already {
		return
	}
	e.logger.Warn().Str("source", source).Str("reason", reason).Msg("trading paused")
	if !wasPaused {
		e.bus.Publish(events.Event{Type: events.EventTradingPaused, Data: map[string]interface{}{
			"source": source,
			"reason": reason,
		}})
	}
}

func (e *Engine) clearPause(source string) {
	e.mu.Lock()
	_, active := e.pauses[source]
	delete(e.pauses, source)
	nowClear := len(e.pauses) == 0
	e.mu.Unlock()

	if !active {
		return
	}
	e.logger.Info().Str("source", source).Msg("pause cleared")
	if nowClear {
		e.bus.Publish(events.Event{Type: events.EventTradingResumed, Data: map[string]interface{}{
			"source": source,
		}})
	}
}

func (e *Engine) isPaused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pauses) > 0
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.tick()
		case <-ctx.Done():
			return
		}
	}
}

// tick is one cycle of the live loop: settle fills first so mirror
// levels re-arm, then run the periodic timeframe check, then feed the
// price into the ladder if nothing vetoes trading.
func (e *Engine) tick() {
	pair := e.cfg.Pair.Symbol
	price, err := e.exchange.GetCurrentPrice(pair)
	if err != nil {
		e.logger.Error().Err(err).Str("pair", pair).Msg("price fetch failed")
		e.bus.PublishError("bot", fmt.Sprintf("price fetch failed for %s: %v", pair, err))
		return
	}

	e.mu.Lock()
	manager := e.grid
	e.tickCounter++
	runMTF := e.analyzer != nil && e.tickCounter%12 == 0
	e.mu.Unlock()

	manager.PollFills()
	e.recordRealized(manager)

	if runMTF {
		if result, err := e.analyzer.Analyze(pair); err == nil {
			if result.TradingPaused {
				e.setPause(pauseMTF, "execution timeframe contradicts primary trend")
			} else {
				e.clearPause(pauseMTF)
			}
		} else {
			e.logger.Warn().Err(err).Msg("timeframe analysis failed")
		}
	}

	if e.breaker != nil {
		if ok, reason := e.breaker.CanTrade(); !ok {
			e.setPause(pauseCircuit, reason)
		} else {
			e.clearPause(pauseCircuit)
		}
	}

	if !e.isPaused() {
		manager.OnPrice(price)
	}

	e.maybeRecenter(manager, price)
}

// recordRealized feeds equity deltas to the circuit breaker. Realized
// P&L is approximated by the change in grid value between ticks as a
// percentage of allocated capital.
func (e *Engine) recordRealized(manager *grid.Manager) {
	if e.breaker == nil {
		return
	}
	value := manager.CurrentValue()

	e.mu.Lock()
	last := e.lastEquity
	e.lastEquity = value
	capital := manager.Config().Capital
	e.mu.Unlock()

	if last == 0 || capital == 0 {
		return
	}
	deltaPercent := (value - last) / capital * 100
	if deltaPercent != 0 {
		e.breaker.RecordTrade(deltaPercent)
	}
}

// maybeRecenter rebuilds the ladder when price walks past the outermost
// level plus one spacing step of slack.
func (e *Engine) maybeRecenter(manager *grid.Manager, price float64) {
	levels := manager.Levels()
	if len(levels) == 0 {
		return
	}
	cfg := manager.Config()

	low := levels[0].Price
	high := levels[len(levels)-1].Price
	var slack float64
	if cfg.SpacingMode == grid.SpacingGeometric {
		slack = high * cfg.SpacingValue
	} else {
		slack = cfg.SpacingValue
	}

	if price >= low-slack && price <= high+slack {
		return
	}

	e.logger.Info().
		Float64("price", price).
		Float64("grid_low", low).
		Float64("grid_high", high).
		Msg("price out of grid range, re-centering")
	if err := manager.Recenter(price); err != nil {
		if errors.Is(err, grid.ErrRecenterInFlight) {
			return
		}
		e.logger.Error().Err(err).Msg("re-center failed")
		e.bus.PublishError("bot", fmt.Sprintf("re-center failed: %v", err))
	}
}

// Balance is the account view in the status payload
type Balance struct {
	Fiat       float64 `json:"fiat"`
	Crypto     float64 `json:"crypto"`
	TotalValue float64 `json:"total_value"`
}

// GridStatus is the ladder view in the status payload
type GridStatus struct {
	CentralPrice float64 `json:"central_price"`
	NumGrids     int     `json:"num_grids"`
	BuyGrids     int     `json:"buy_grids"`
	SellGrids    int     `json:"sell_grids"`
}

// Status is the engine status payload
type Status struct {
	Running     bool        `json:"running"`
	Paused      bool        `json:"paused"`
	PauseReason string      `json:"pause_reason,omitempty"`
	TradingMode string      `json:"trading_mode"`
	TradingPair string      `json:"trading_pair"`
	Timestamp   time.Time   `json:"timestamp"`
	Balance     *Balance    `json:"balance,omitempty"`
	Grid        *GridStatus `json:"grid,omitempty"`
}

// Status reports the engine state. Balance and grid sections are
// omitted while stopped.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := Status{
		Running:     e.running,
		Paused:      len(e.pauses) > 0,
		TradingMode: e.cfg.Pair.TradingMode,
		TradingPair: e.cfg.Pair.Symbol,
		Timestamp:   time.Now(),
	}
	for _, reason := range e.pauses {
		status.PauseReason = reason
		break
	}
	if !e.running || e.grid == nil {
		return status
	}

	snap := e.grid.StatusSnapshot()
	status.Balance = &Balance{
		Fiat:       snap.Cash,
		Crypto:     snap.Crypto,
		TotalValue: snap.Cash + snap.Crypto*snap.LastPrice,
	}
	status.Grid = &GridStatus{
		CentralPrice: snap.CentralPrice,
		NumGrids:     snap.NumGrids,
		BuyGrids:     snap.BuyGrids,
		SellGrids:    snap.SellGrids,
	}
	return status
}

// Metrics returns order and fee counters for the running grid.
func (e *Engine) Metrics() (grid.Metrics, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running || e.grid == nil {
		return grid.Metrics{}, ErrNotRunning
	}
	return e.grid.MetricsSnapshot(), nil
}

// Orders returns the order ledger for the running grid.
func (e *Engine) Orders() ([]grid.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running || e.grid == nil {
		return nil, ErrNotRunning
	}
	return e.grid.Orders(), nil
}

// IsRunning reports whether the tick loop is live
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
