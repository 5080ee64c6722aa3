package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/grid"
)

var (
	ErrCapitalExhausted = errors.New("no capital available for allocation")
	ErrAlreadyRunning   = errors.New("portfolio already running")
	ErrNotRunning       = errors.New("portfolio not running")
	ErrPairNotFound     = errors.New("pair not allocated")
)

// Config controls capital distribution and the per-pair trading loops.
type Config struct {
	TotalCapital    float64       `json:"total_capital"`
	ReserveFraction float64       `json:"reserve_fraction"`
	MaxPairs        int           `json:"max_pairs"`
	TickInterval    time.Duration `json:"tick_interval"`

	// Grid holds the ladder template; Pair, CentralPrice and Capital
	// are filled in per allocation.
	Grid grid.GridConfig `json:"grid"`
}

// Validate rejects allocation parameters before they can reach the ledger.
func (c Config) Validate() error {
	if c.TotalCapital <= 0 {
		return fmt.Errorf("invalid portfolio config: total_capital must be positive, got %f", c.TotalCapital)
	}
	if c.ReserveFraction < 0 || c.ReserveFraction >= 1 {
		return fmt.Errorf("invalid portfolio config: reserve_fraction must be in [0,1), got %f", c.ReserveFraction)
	}
	if c.MaxPairs <= 0 {
		return fmt.Errorf("invalid portfolio config: max_pairs must be positive, got %d", c.MaxPairs)
	}
	return nil
}

// Candidate is a scanner-ranked pair offered for allocation. Weight is
// optional; zero weights fall back to an even split.
type Candidate struct {
	Symbol string
	Weight float64
}

// pairState is one allocated pair: its ladder, its runner and its slice
// of the ledger.
type pairState struct {
	symbol    string
	allocated float64
	manager   *grid.Manager
	cancel    context.CancelFunc
	done      chan struct{}
}

// Allocator owns the capital ledger. It is the single writer of
// allocated/available capital: grid managers report their value, they
// never touch the ledger.
type Allocator struct {
	config   Config
	exchange binance.ExchangeClient
	bus      *events.EventBus
	logger   zerolog.Logger

	mu        sync.Mutex
	running   bool
	available float64
	pairs     map[string]*pairState
}

// NewAllocator validates the configuration and prepares an empty ledger.
func NewAllocator(cfg Config, exchange binance.ExchangeClient, bus *events.EventBus, logger zerolog.Logger) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	return &Allocator{
		config:    cfg,
		exchange:  exchange,
		bus:       bus,
		logger:    logger.With().Str("component", "portfolio").Logger(),
		available: cfg.TotalCapital * (1 - cfg.ReserveFraction),
		pairs:     make(map[string]*pairState),
	}, nil
}

// Start allocates capital across up to MaxPairs candidates and spins up
// one trading loop per pair. Candidates beyond MaxPairs are dropped in
// order; the reserve fraction is never touched.
func (a *Allocator) Start(candidates []Candidate) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil, ErrAlreadyRunning
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate pairs to allocate")
	}
	if a.available <= 0 {
		return nil, ErrCapitalExhausted
	}

	selected := candidates
	if len(selected) > a.config.MaxPairs {
		selected = selected[:a.config.MaxPairs]
	}

	shares := weightShares(selected)

	allocated := make([]string, 0, len(selected))
	for i, candidate := range selected {
		amount := a.available * shares[i]
		if err := a.allocateLocked(candidate.Symbol, amount); err != nil {
			a.logger.Error().Err(err).Str("pair", candidate.Symbol).Msg("allocation failed, skipping pair")
			continue
		}
		allocated = append(allocated, candidate.Symbol)
	}
	if len(allocated) == 0 {
		return nil, fmt.Errorf("no pair could be allocated")
	}

	// deduct only what was actually handed out
	for _, state := range a.pairs {
		a.available -= state.allocated
	}
	a.running = true

	a.logger.Info().Strs("pairs", allocated).Float64("available", a.available).Msg("portfolio started")
	return allocated, nil
}

// allocateLocked builds the ladder and starts the pair's loop. Caller
// holds the mutex and settles the ledger afterwards.
func (a *Allocator) allocateLocked(symbol string, amount float64) error {
	if _, exists := a.pairs[symbol]; exists {
		return fmt.Errorf("pair %s already allocated", symbol)
	}

	price, err := a.exchange.GetCurrentPrice(symbol)
	if err != nil {
		return fmt.Errorf("fetch price for %s: %w", symbol, err)
	}

	gridCfg := a.config.Grid
	gridCfg.Pair = symbol
	gridCfg.CentralPrice = price
	gridCfg.Capital = amount

	manager, err := grid.NewManager(gridCfg, a.exchange, a.bus, a.logger)
	if err != nil {
		return fmt.Errorf("grid for %s: %w", symbol, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &pairState{
		symbol:    symbol,
		allocated: amount,
		manager:   manager,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	a.pairs[symbol] = state

	go a.runPair(ctx, state)

	if a.bus != nil {
		a.bus.Publish(events.Event{
			Type: events.EventPairAllocated,
			Data: map[string]interface{}{
				"pair":      symbol,
				"allocated": amount,
			},
		})
	}
	return nil
}

// runPair is the per-pair trading loop: tick, feed the ladder, settle
// fills. Pairs share nothing but the ledger, which only the allocator
// writes.
func (a *Allocator) runPair(ctx context.Context, state *pairState) {
	defer close(state.done)

	ticker := time.NewTicker(a.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			price, err := a.exchange.GetCurrentPrice(state.symbol)
			if err != nil {
				a.logger.Warn().Err(err).Str("pair", state.symbol).Msg("price fetch failed")
				continue
			}
			state.manager.OnPrice(price)
			state.manager.PollFills()
		}
	}
}

// RemovePair stops a pair's loop, cancels its outstanding orders and
// returns its current value to available capital. The return happens
// before any new allocation can observe the ledger.
func (a *Allocator) RemovePair(symbol string) error {
	a.mu.Lock()
	state, ok := a.pairs[symbol]
	if !ok {
		a.mu.Unlock()
		return ErrPairNotFound
	}
	delete(a.pairs, symbol)
	a.mu.Unlock()

	state.cancel()
	<-state.done

	if err := state.manager.CancelAll(); err != nil {
		a.logger.Error().Err(err).Str("pair", symbol).Msg("order cancellation failed during removal")
	}

	value := state.manager.CurrentValue()

	a.mu.Lock()
	a.available += value
	a.mu.Unlock()

	a.logger.Info().Str("pair", symbol).Float64("returned", value).Msg("pair removed")

	if a.bus != nil {
		a.bus.Publish(events.Event{
			Type: events.EventPairRemoved,
			Data: map[string]interface{}{
				"pair":     symbol,
				"returned": value,
			},
		})
	}
	return nil
}

// Stop removes every pair and halts the portfolio.
func (a *Allocator) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return ErrNotRunning
	}
	a.running = false
	symbols := make([]string, 0, len(a.pairs))
	for symbol := range a.pairs {
		symbols = append(symbols, symbol)
	}
	a.mu.Unlock()

	for _, symbol := range symbols {
		if err := a.RemovePair(symbol); err != nil {
			a.logger.Error().Err(err).Str("pair", symbol).Msg("removal failed during stop")
		}
	}

	a.logger.Info().Msg("portfolio stopped")
	return nil
}

// Running reports whether the portfolio loops are active.
func (a *Allocator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// PairStatus is the dashboard view of one allocated pair.
type PairStatus struct {
	Status       string  `json:"status"`
	Allocated    float64 `json:"allocated"`
	Current      float64 `json:"current"`
	Crypto       float64 `json:"crypto"`
	PnL          float64 `json:"pnl"`
	PnLPercent   float64 `json:"pnl_percent"`
	FilledOrders int     `json:"filled_orders"`
	ActiveOrders int     `json:"active_orders"`
}

// Summary aggregates the ledger across pairs.
type Summary struct {
	TotalAllocated  float64 `json:"total_allocated"`
	TotalCurrent    float64 `json:"total_current"`
	TotalPnL        float64 `json:"total_pnl"`
	TotalPnLPercent float64 `json:"total_pnl_percent"`
}

// Snapshot is the full multi-pair status payload.
type Snapshot struct {
	Running          bool                  `json:"running"`
	ActivePairsCount int                   `json:"active_pairs_count"`
	Summary          Summary               `json:"summary"`
	Pairs            map[string]PairStatus `json:"pairs"`
}

// StatusSnapshot computes per-pair and portfolio P&L: each pair's pnl
// is its current value minus its allocation, the portfolio total is
// their sum over total allocated.
func (a *Allocator) StatusSnapshot() Snapshot {
	a.mu.Lock()
	states := make([]*pairState, 0, len(a.pairs))
	for _, state := range a.pairs {
		states = append(states, state)
	}
	running := a.running
	a.mu.Unlock()

	sort.Slice(states, func(i, j int) bool { return states[i].symbol < states[j].symbol })

	snapshot := Snapshot{
		Running:          running,
		ActivePairsCount: len(states),
		Pairs:            make(map[string]PairStatus, len(states)),
	}

	for _, state := range states {
		current := state.manager.CurrentValue()
		metrics := state.manager.MetricsSnapshot()
		status := state.manager.StatusSnapshot()

		pnl := current - state.allocated
		pnlPercent := 0.0
		if state.allocated > 0 {
			pnlPercent = pnl / state.allocated * 100
		}

		snapshot.Pairs[state.symbol] = PairStatus{
			Status:       "active",
			Allocated:    state.allocated,
			Current:      current,
			Crypto:       status.Crypto,
			PnL:          pnl,
			PnLPercent:   pnlPercent,
			FilledOrders: metrics.FilledOrders,
			ActiveOrders: metrics.OpenOrders,
		}

		snapshot.Summary.TotalAllocated += state.allocated
		snapshot.Summary.TotalCurrent += current
	}

	snapshot.Summary.TotalPnL = snapshot.Summary.TotalCurrent - snapshot.Summary.TotalAllocated
	if snapshot.Summary.TotalAllocated > 0 {
		snapshot.Summary.TotalPnLPercent = snapshot.Summary.TotalPnL / snapshot.Summary.TotalAllocated * 100
	}
	return snapshot
}

// Available returns the unallocated, non-reserve capital.
func (a *Allocator) Available() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

// weightShares normalizes candidate weights into fractions; all-zero
// weights split evenly.
func weightShares(candidates []Candidate) []float64 {
	total := 0.0
	for _, c := range candidates {
		if c.Weight > 0 {
			total += c.Weight
		}
	}

	shares := make([]float64, len(candidates))
	if total <= 0 {
		for i := range shares {
			shares[i] = 1 / float64(len(candidates))
		}
		return shares
	}
	for i, c := range candidates {
		if c.Weight > 0 {
			shares[i] = c.Weight / total
		}
	}
	return shares
}
