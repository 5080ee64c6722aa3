// Package circuit halts grid trading when realized losses pile up. The
// breaker sits between the fill settlement path and the live engine:
// every completed round trip reports its P&L here, and the engine asks
// CanTrade before opening new levels.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the breaker state
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // trading halted
	StateHalfOpen State = "half_open" // cooldown elapsed, probing recovery
)

// Config holds breaker thresholds. Losses are percentages of allocated
// capital.
type Config struct {
	Enabled              bool    `json:"enabled"`
	MaxLossPerHour       float64 `json:"max_loss_per_hour"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxLossPerHour:       3.0,
		MaxDailyLoss:         5.0,
		MaxConsecutiveLosses: 5,
		CooldownMinutes:      30,
	}
}

// Breaker tracks realized losses and trips when a threshold is crossed.
// After the cooldown it moves to half-open; the next winning trade
// closes it again.
type Breaker struct {
	mu                sync.RWMutex
	config            Config
	state             State
	consecutiveLosses int
	hourlyLoss        float64
	dailyLoss         float64
	hourlyResetTime   time.Time
	dailyResetTime    time.Time
	lastTripTime      time.Time
	tripReason        string
	onTrip            func(reason string)
	onReset           func()
	logger            zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Breaker {
	now := time.Now()
	return &Breaker{
		config:          cfg,
		state:           StateClosed,
		hourlyResetTime: now.Add(time.Hour),
		dailyResetTime:  now.Truncate(24 * time.Hour).Add(24 * time.Hour),
		logger:          logger,
	}
}

// OnTrip sets the callback fired when the breaker opens
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset sets the callback fired when the breaker closes again
func (b *Breaker) OnReset(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// CanTrade reports whether new orders may be opened. When blocked, the
// second return value explains why.
func (b *Breaker) CanTrade() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.config.Enabled {
		return true, ""
	}

	b.resetCountersIfNeeded()

	if b.state == StateOpen {
		elapsed := time.Since(b.lastTripTime)
		cooldown := time.Duration(b.config.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			return false, fmt.Sprintf("circuit open, cooldown remaining %v (reason: %s)",
				(cooldown - elapsed).Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
		b.logger.Info().Msg("circuit breaker half-open, probing recovery")
	}

	if b.hourlyLoss >= b.config.MaxLossPerHour {
		return false, fmt.Sprintf("hourly loss limit reached: %.2f%% >= %.2f%%",
			b.hourlyLoss, b.config.MaxLossPerHour)
	}
	if b.dailyLoss >= b.config.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%",
			b.dailyLoss, b.config.MaxDailyLoss)
	}
	if b.consecutiveLosses >= b.config.MaxConsecutiveLosses {
		return false, fmt.Sprintf("max consecutive losses reached: %d", b.consecutiveLosses)
	}

	return true, ""
}

// RecordTrade reports the outcome of one completed round trip as a
// percentage of allocated capital.
func (b *Breaker) RecordTrade(pnlPercent float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.config.Enabled {
		return
	}
	if math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		b.logger.Warn().Float64("pnl_percent", pnlPercent).Msg("ignoring non-finite trade result")
		return
	}

	b.resetCountersIfNeeded()

	if pnlPercent < 0 {
		b.consecutiveLosses++
		b.hourlyLoss += -pnlPercent
		b.dailyLoss += -pnlPercent
		b.checkAndTrip()
		return
	}

	b.consecutiveLosses = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.logger.Info().Msg("circuit breaker closed after winning trade")
		if b.onReset != nil {
			go b.onReset()
		}
	}
}

func (b *Breaker) checkAndTrip() {
	var reason string
	switch {
	case b.consecutiveLosses >= b.config.MaxConsecutiveLosses:
		reason = fmt.Sprintf("consecutive losses: %d", b.consecutiveLosses)
	case b.hourlyLoss >= b.config.MaxLossPerHour:
		reason = fmt.Sprintf("hourly loss: %.2f%%", b.hourlyLoss)
	case b.dailyLoss >= b.config.MaxDailyLoss:
		reason = fmt.Sprintf("daily loss: %.2f%%", b.dailyLoss)
	}
	if reason == "" || b.state == StateOpen {
		return
	}

	b.state = StateOpen
	b.lastTripTime = time.Now()
	b.tripReason = reason
	b.logger.Warn().Str("reason", reason).Msg("circuit breaker tripped")
	if b.onTrip != nil {
		go b.onTrip(reason)
	}
}

func (b *Breaker) resetCountersIfNeeded() {
	now := time.Now()
	if now.After(b.hourlyResetTime) {
		b.hourlyLoss = 0
		b.hourlyResetTime = now.Add(time.Hour)
	}
	if now.After(b.dailyResetTime) {
		b.dailyLoss = 0
		b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// ForceReset closes the breaker and clears loss counters
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.consecutiveLosses = 0
	b.tripReason = ""
	onReset := b.onReset
	b.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}

// GetState returns the current breaker state
func (b *Breaker) GetState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns current counters for the status API
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return map[string]interface{}{
		"state":              string(b.state),
		"consecutive_losses": b.consecutiveLosses,
		"hourly_loss":        b.hourlyLoss,
		"daily_loss":         b.dailyLoss,
		"trip_reason":        b.tripReason,
		"last_trip_time":     b.lastTripTime,
	}
}
