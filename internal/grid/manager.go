package grid

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/events"
)

// Side of a grid level
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// LevelState is the lifecycle state of a grid level
type LevelState string

const (
	LevelPending   LevelState = "pending"
	LevelOpen      LevelState = "open"
	LevelFilled    LevelState = "filled"
	LevelCancelled LevelState = "cancelled"
)

// SpacingMode selects how level prices are derived from the central price
type SpacingMode string

const (
	SpacingArithmetic SpacingMode = "arithmetic"
	SpacingGeometric  SpacingMode = "geometric"
)

// Order status values
const (
	OrderOpen      = "open"
	OrderFilled    = "filled"
	OrderCancelled = "cancelled"
	OrderRejected  = "rejected"
)

var (
	ErrRecenterInFlight = fmt.Errorf("re-center already in progress")
)

// GridLevel is one rung of the ladder. A level belongs to exactly one
// ladder and carries its submission retry bookkeeping.
type GridLevel struct {
	Price float64    `json:"price"`
	Side  Side       `json:"side"`
	State LevelState `json:"state"`

	OrderID    string `json:"order_id,omitempty"`
	ExchangeID int64  `json:"-"`

	attempts  int
	notBefore time.Time
	exhausted bool
}

// Order is created when a level opens. Terminal states are final.
type Order struct {
	ID        string     `json:"id"`
	Pair      string     `json:"pair"`
	Side      Side       `json:"side"`
	Price     float64    `json:"price"`
	Quantity  float64    `json:"quantity"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	FilledAt  *time.Time `json:"filled_at,omitempty"`
}

// GridConfig describes the ladder. CentralPrice is fixed at
// (re)initialization and only changes through an explicit re-center.
type GridConfig struct {
	Pair         string      `json:"pair"`
	CentralPrice float64     `json:"central_price"`
	SpacingMode  SpacingMode `json:"spacing_mode"`
	SpacingValue float64     `json:"spacing_value"`
	NumLevels    int         `json:"num_levels"`
	Capital      float64     `json:"capital"`
	FeePercent   float64     `json:"fee_percent"`
	MaxRetries   int         `json:"max_retries"`
}

// Validate rejects parameters synchronously, before they can reach a
// running ladder.
func (c GridConfig) Validate() error {
	if c.Pair == "" {
		return fmt.Errorf("invalid grid config: pair is required")
	}
	if c.NumLevels <= 0 || c.NumLevels%2 != 0 {
		return fmt.Errorf("invalid grid config: num_levels must be a positive even number, got %d", c.NumLevels)
	}
	if c.SpacingValue <= 0 {
		return fmt.Errorf("invalid grid config: spacing_value must be positive, got %f", c.SpacingValue)
	}
	if c.SpacingMode != SpacingArithmetic && c.SpacingMode != SpacingGeometric {
		return fmt.Errorf("invalid grid config: unknown spacing_mode %q", c.SpacingMode)
	}
	if c.SpacingMode == SpacingGeometric && c.SpacingValue >= 1 {
		return fmt.Errorf("invalid grid config: geometric spacing_value must be below 1, got %f", c.SpacingValue)
	}
	if c.Capital <= 0 {
		return fmt.Errorf("invalid grid config: capital must be positive, got %f", c.Capital)
	}
	if c.FeePercent < 0 || c.FeePercent >= 100 {
		return fmt.Errorf("invalid grid config: fee_percent out of range: %f", c.FeePercent)
	}
	return nil
}

// GenerateLevels builds the ladder around a central price: buys below,
// sells above, k = 1..num_levels/2 on each side. Prices come out
// strictly ascending with no level at the central price itself.
func GenerateLevels(central float64, cfg GridConfig) []*GridLevel {
	half := cfg.NumLevels / 2
	levels := make([]*GridLevel, 0, cfg.NumLevels)

	for k := 1; k <= half; k++ {
		var below, above float64
		if cfg.SpacingMode == SpacingArithmetic {
			below = central - float64(k)*cfg.SpacingValue
			above = central + float64(k)*cfg.SpacingValue
		} else {
			below = central * math.Pow(1-cfg.SpacingValue, float64(k))
			above = central * math.Pow(1+cfg.SpacingValue, float64(k))
		}
		if below > 0 {
			levels = append(levels, &GridLevel{Price: below, Side: SideBuy, State: LevelPending})
		}
		levels = append(levels, &GridLevel{Price: above, Side: SideSell, State: LevelPending})
	}

	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels
}

// Manager owns one pair's ladder: it reacts to price ticks by opening
// pending levels, tracks fills reported by the exchange, re-arms
// mirrored levels and handles re-centering. All mutation happens under
// one mutex; the exchange collaborator is the only external call.
type Manager struct {
	config   GridConfig
	exchange binance.ExchangeClient
	bus      *events.EventBus
	logger   zerolog.Logger

	mu          sync.Mutex
	levels      []*GridLevel
	orders      map[string]*Order
	recentering bool

	// capital ledger, reported upward to the portfolio allocator
	cash      float64
	crypto    float64
	lastPrice float64

	totalOrders  int
	filledOrders int
	totalFees    float64
}

// NewManager validates the configuration and builds the initial ladder.
func NewManager(cfg GridConfig, exchange binance.ExchangeClient, bus *events.EventBus, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CentralPrice <= 0 {
		return nil, fmt.Errorf("invalid grid config: central_price must be positive, got %f", cfg.CentralPrice)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	m := &Manager{
		config:    cfg,
		exchange:  exchange,
		bus:       bus,
		logger:    logger.With().Str("component", "grid").Str("pair", cfg.Pair).Logger(),
		orders:    make(map[string]*Order),
		cash:      cfg.Capital,
		lastPrice: cfg.CentralPrice,
	}
	m.levels = GenerateLevels(cfg.CentralPrice, cfg)

	m.logger.Info().
		Float64("central_price", cfg.CentralPrice).
		Int("num_levels", len(m.levels)).
		Str("spacing_mode", string(cfg.SpacingMode)).
		Msg("grid initialized")

	if bus != nil {
		bus.Publish(events.Event{
			Type:      events.EventGridInitialized,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"pair":          cfg.Pair,
				"central_price": cfg.CentralPrice,
				"num_levels":    len(m.levels),
			},
		})
	}
	return m, nil
}

// OnPrice processes a tick: every pending level the tick has crossed in
// its direction (buy when price trades at or below the level, sell when
// at or above) is submitted to the exchange and moved to open. A
// rejected submission leaves the level pending with exponential backoff
// on the next attempt.
func (m *Manager) OnPrice(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastPrice = price
	now := time.Now()

	for _, level := range m.levels {
		if level.State != LevelPending || level.exhausted {
			continue
		}
		if now.Before(level.notBefore) {
			continue
		}
		crossed := (level.Side == SideBuy && price <= level.Price) ||
			(level.Side == SideSell && price >= level.Price)
		if !crossed {
			continue
		}
		m.submitLocked(level, now)
	}
}

// submitLocked places the level's order. Caller holds the mutex.
func (m *Manager) submitLocked(level *GridLevel, now time.Time) {
	quantity := m.levelQuantity(level.Price)

	side := "BUY"
	if level.Side == SideSell {
		side = "SELL"
	}

	exchangeID, err := m.exchange.PlaceLimitOrder(m.config.Pair, side, level.Price, quantity)
	if err != nil {
		level.attempts++
		backoff := retryBackoff(level.attempts)
		level.notBefore = now.Add(backoff)
		if level.attempts >= m.config.MaxRetries {
			level.exhausted = true
			m.logger.Error().Err(err).
				Float64("price", level.Price).
				Int("attempts", level.attempts).
				Msg("order submission failed, retry budget exhausted")
		} else {
			m.logger.Warn().Err(err).
				Float64("price", level.Price).
				Int("attempt", level.attempts).
				Dur("retry_in", backoff).
				Msg("order submission rejected, will retry")
		}
		return
	}

	order := &Order{
		ID:        uuid.New().String(),
		Pair:      m.config.Pair,
		Side:      level.Side,
		Price:     level.Price,
		Quantity:  quantity,
		Status:    OrderOpen,
		CreatedAt: now,
	}
	m.orders[order.ID] = order
	m.totalOrders++

	level.State = LevelOpen
	level.OrderID = order.ID
	level.ExchangeID = exchangeID
	level.attempts = 0
	level.notBefore = time.Time{}

	m.logger.Info().
		Str("order_id", order.ID).
		Str("side", string(level.Side)).
		Float64("price", level.Price).
		Float64("quantity", quantity).
		Msg("order placed")

	if m.bus != nil {
		m.bus.PublishOrderPlaced(m.config.Pair, order.ID, string(level.Side), level.Price, quantity)
	}
}

// PollFills asks the exchange about every open level and settles the
// ones reported filled. Both the live loop and the backtester drive the
// ladder through this single path.
func (m *Manager) PollFills() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, level := range m.levels {
		if level.State != LevelOpen {
			continue
		}
		status, err := m.exchange.GetOrderStatus(m.config.Pair, level.ExchangeID)
		if err != nil {
			m.logger.Warn().Err(err).Int64("exchange_id", level.ExchangeID).Msg("order status check failed")
			continue
		}
		switch status.Status {
		case binance.OrderStatusFilled:
			m.settleLocked(level)
		case binance.OrderStatusCanceled, binance.OrderStatusRejected:
			m.logger.Warn().
				Int64("exchange_id", level.ExchangeID).
				Str("status", status.Status).
				Msg("open order dropped by exchange, re-arming level")
			if order := m.orders[level.OrderID]; order != nil {
				if status.Status == binance.OrderStatusCanceled {
					order.Status = OrderCancelled
					if m.bus != nil {
						m.bus.PublishOrderCancelled(m.config.Pair, order.ID, string(order.Side), order.Price, order.Quantity)
					}
				} else {
					order.Status = OrderRejected
				}
			}
			level.State = LevelPending
			level.OrderID = ""
			level.ExchangeID = 0
		}
	}
}

// settleLocked moves a filled level to its terminal state, updates the
// ledger and re-arms the mirrored opposite-side level one spacing away
// from the fill. Caller holds the mutex.
func (m *Manager) settleLocked(level *GridLevel) {
	order := m.orders[level.OrderID]
	if order == nil {
		return
	}

	now := time.Now()
	level.State = LevelFilled
	order.Status = OrderFilled
	order.FilledAt = &now
	m.filledOrders++

	fee := order.Price * order.Quantity * m.config.FeePercent / 100
	m.totalFees += fee

	if order.Side == SideBuy {
		m.cash -= order.Price*order.Quantity + fee
		m.crypto += order.Quantity
	} else {
		m.cash += order.Price*order.Quantity - fee
		m.crypto -= order.Quantity
	}

	m.logger.Info().
		Str("order_id", order.ID).
		Str("side", string(order.Side)).
		Float64("price", order.Price).
		Float64("fee", fee).
		Msg("order filled")

	if m.bus != nil {
		m.bus.PublishOrderFilled(m.config.Pair, order.ID, string(order.Side), order.Price, order.Quantity)
	}

	m.rearmLocked(level)
}

// rearmLocked schedules the mirrored level: a filled buy arms a sell
// one spacing above the fill, a filled sell arms a buy one spacing
// below. An existing settled level at that price is reused so the
// ladder never grows duplicate prices.
func (m *Manager) rearmLocked(filled *GridLevel) {
	var mirrorPrice float64
	var mirrorSide Side

	if filled.Side == SideBuy {
		mirrorSide = SideSell
		if m.config.SpacingMode == SpacingArithmetic {
			mirrorPrice = filled.Price + m.config.SpacingValue
		} else {
			mirrorPrice = filled.Price * (1 + m.config.SpacingValue)
		}
	} else {
		mirrorSide = SideBuy
		if m.config.SpacingMode == SpacingArithmetic {
			mirrorPrice = filled.Price - m.config.SpacingValue
		} else {
			mirrorPrice = filled.Price * (1 - m.config.SpacingValue)
		}
	}
	if mirrorPrice <= 0 {
		return
	}

	for _, level := range m.levels {
		if !samePrice(level.Price, mirrorPrice) {
			continue
		}
		if level.State == LevelPending || level.State == LevelOpen {
			return // already armed at that price
		}
		level.Side = mirrorSide
		level.State = LevelPending
		level.OrderID = ""
		level.ExchangeID = 0
		level.attempts = 0
		level.exhausted = false
		level.notBefore = time.Time{}
		return
	}

	m.levels = append(m.levels, &GridLevel{Price: mirrorPrice, Side: mirrorSide, State: LevelPending})
	sort.Slice(m.levels, func(i, j int) bool { return m.levels[i].Price < m.levels[j].Price })
}

// Recenter cancels every outstanding level and rebuilds the ladder
// around a new central price. In-flight orders must come down first; a
// cancellation failure aborts the regeneration so a stale order can
// never coexist with a fresh level at the same price. Overlapping
// re-center requests are rejected, not queued.
func (m *Manager) Recenter(newCentral float64) error {
	if newCentral <= 0 {
		return fmt.Errorf("invalid grid config: central_price must be positive, got %f", newCentral)
	}

	m.mu.Lock()
	if m.recentering {
		m.mu.Unlock()
		return ErrRecenterInFlight
	}
	m.recentering = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.recentering = false
		m.mu.Unlock()
	}()

	if err := m.cancelOutstanding(); err != nil {
		return fmt.Errorf("re-center aborted: %w", err)
	}

	m.mu.Lock()
	m.config.CentralPrice = newCentral
	m.levels = GenerateLevels(newCentral, m.config)
	m.mu.Unlock()

	m.logger.Info().Float64("central_price", newCentral).Msg("grid re-centered")

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:      events.EventGridRecentered,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"pair":          m.config.Pair,
				"central_price": newCentral,
			},
		})
	}
	return nil
}

// CancelAll tears the ladder down, used on pair removal and shutdown.
func (m *Manager) CancelAll() error {
	return m.cancelOutstanding()
}

func (m *Manager) cancelOutstanding() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, level := range m.levels {
		switch level.State {
		case LevelOpen:
			if err := m.exchange.CancelOrder(m.config.Pair, level.ExchangeID); err != nil {
				return fmt.Errorf("cancel order %d: %w", level.ExchangeID, err)
			}
			if order := m.orders[level.OrderID]; order != nil {
				order.Status = OrderCancelled
				if m.bus != nil {
					m.bus.PublishOrderCancelled(m.config.Pair, order.ID, string(order.Side), order.Price, order.Quantity)
				}
			}
			level.State = LevelCancelled
			level.OrderID = ""
			level.ExchangeID = 0
		case LevelPending:
			level.State = LevelCancelled
		}
	}
	return nil
}

// levelQuantity sizes an order so the allocated capital spreads evenly
// across the ladder.
func (m *Manager) levelQuantity(price float64) float64 {
	return m.config.Capital / float64(m.config.NumLevels) / price
}

// retryBackoff returns the wait before the next submission attempt,
// doubling per attempt and capped at a minute.
func retryBackoff(attempt int) time.Duration {
	backoff := time.Second * time.Duration(1<<uint(attempt-1))
	if backoff > time.Minute {
		backoff = time.Minute
	}
	return backoff
}

// samePrice compares level prices with a relative tolerance; geometric
// ladders accumulate float error across re-arms.
func samePrice(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= scale*1e-9
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() GridConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Levels returns a snapshot of the ladder, ascending by price.
func (m *Manager) Levels() []GridLevel {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]GridLevel, len(m.levels))
	for i, level := range m.levels {
		out[i] = *level
	}
	return out
}

// Orders returns a snapshot of all orders, newest first.
func (m *Manager) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Order, 0, len(m.orders))
	for _, order := range m.orders {
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Metrics is the ladder's activity summary.
type Metrics struct {
	TotalOrders  int     `json:"total_orders"`
	OpenOrders   int     `json:"open_orders"`
	FilledOrders int     `json:"filled_orders"`
	TotalFees    float64 `json:"total_fees"`
}

// MetricsSnapshot returns order counters and accumulated fees.
func (m *Manager) MetricsSnapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	open := 0
	for _, level := range m.levels {
		if level.State == LevelOpen {
			open++
		}
	}
	return Metrics{
		TotalOrders:  m.totalOrders,
		OpenOrders:   open,
		FilledOrders: m.filledOrders,
		TotalFees:    m.totalFees,
	}
}

// Status describes the ladder for the dashboard.
type Status struct {
	Pair         string  `json:"pair"`
	CentralPrice float64 `json:"central_price"`
	NumGrids     int     `json:"num_grids"`
	BuyGrids     int     `json:"buy_grids"`
	SellGrids    int     `json:"sell_grids"`
	Cash         float64 `json:"cash"`
	Crypto       float64 `json:"crypto"`
	LastPrice    float64 `json:"last_price"`
}

// StatusSnapshot returns the dashboard view of the ladder.
func (m *Manager) StatusSnapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	buys, sells := 0, 0
	for _, level := range m.levels {
		if level.State != LevelPending && level.State != LevelOpen {
			continue
		}
		if level.Side == SideBuy {
			buys++
		} else {
			sells++
		}
	}
	return Status{
		Pair:         m.config.Pair,
		CentralPrice: m.config.CentralPrice,
		NumGrids:     len(m.levels),
		BuyGrids:     buys,
		SellGrids:    sells,
		Cash:         m.cash,
		Crypto:       m.crypto,
		LastPrice:    m.lastPrice,
	}
}

// CurrentValue marks the position to the latest tick: cash plus crypto
// at the last seen price. The portfolio allocator reads this to
// aggregate P&L; the ladder never writes the shared ledger itself.
func (m *Manager) CurrentValue() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cash + m.crypto*m.lastPrice
}
