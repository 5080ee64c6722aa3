package database

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/grid"
)

func TestOrderFromEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := events.Event{
		Type:      events.EventOrderPlaced,
		Timestamp: ts,
		Data: map[string]interface{}{
			"pair":     "BTCUSDT",
			"order_id": "0b7e2c16-6a2b-4c51-9a3e-8f1d2e3c4b5a",
			"side":     "buy",
			"price":    95.0,
			"quantity": 0.5,
		},
	}

	order := orderFromEvent(e, grid.OrderOpen)
	if order.ID != "0b7e2c16-6a2b-4c51-9a3e-8f1d2e3c4b5a" {
		t.Errorf("order ID = %q", order.ID)
	}
	if order.Pair != "BTCUSDT" || order.Side != grid.SideBuy {
		t.Errorf("pair/side = %s/%s", order.Pair, order.Side)
	}
	if order.Price != 95 || order.Quantity != 0.5 {
		t.Errorf("price/quantity = %f/%f", order.Price, order.Quantity)
	}
	if order.Status != grid.OrderOpen {
		t.Errorf("status = %q, want %q", order.Status, grid.OrderOpen)
	}
	if !order.CreatedAt.Equal(ts) {
		t.Errorf("created_at = %v, want event timestamp", order.CreatedAt)
	}
}

func TestAttachWithoutRepositoryIsInert(t *testing.T) {
	bus := events.NewEventBus()
	NewRecorder(nil, zerolog.Nop()).Attach(bus)

	// no subscription registered, so a burst of order events must not panic
	bus.PublishOrderPlaced("BTCUSDT", "id-1", "buy", 95, 0.5)
	bus.PublishOrderFilled("BTCUSDT", "id-1", "buy", 95, 0.5)
	bus.PublishOrderCancelled("BTCUSDT", "id-1", "buy", 95, 0.5)
}
