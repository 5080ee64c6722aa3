package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/grid"
)

// Recorder mirrors bus events into the database. It rides the event
// bus instead of being called from the trading path, so a slow or
// unavailable database can never delay a fill.
type Recorder struct {
	repo   *Repository
	logger zerolog.Logger
}

func NewRecorder(repo *Repository, logger zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Attach subscribes the recorder to the persisted event types
func (r *Recorder) Attach(bus *events.EventBus) {
	if r.repo == nil || bus == nil {
		return
	}
	bus.Subscribe(events.EventOrderPlaced, func(e events.Event) {
		r.upsert(orderFromEvent(e, grid.OrderOpen))
	})
	bus.Subscribe(events.EventOrderCancelled, func(e events.Event) {
		r.upsert(orderFromEvent(e, grid.OrderCancelled))
	})
	bus.Subscribe(events.EventOrderFilled, func(e events.Event) {
		order := orderFromEvent(e, grid.OrderFilled)
		order.FilledAt = &e.Timestamp
		r.upsert(order)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.repo.RecordFill(ctx, order.Pair, string(order.Side), order.Price, order.Quantity); err != nil {
			r.logger.Error().Err(err).Str("pair", order.Pair).Msg("persist fill failed")
			return
		}
		if order.Side != grid.SideSell {
			return
		}
		closed, err := r.repo.CloseTradeFromSell(ctx, order.Pair, order.Price, order.Quantity)
		if err != nil {
			r.logger.Error().Err(err).Str("pair", order.Pair).Msg("close trade failed")
		} else if closed {
			r.logger.Debug().Str("pair", order.Pair).Float64("sell_price", order.Price).Msg("round trip closed")
		}
	})
}

func (r *Recorder) upsert(order grid.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.UpsertOrder(ctx, order); err != nil {
		r.logger.Error().Err(err).Str("order_id", order.ID).Msg("persist order failed")
	}
}

// orderFromEvent rebuilds the order row from the event payload. The
// created_at column only takes this timestamp on first insert, so a
// fill or cancel upserting an existing row never rewrites it.
func orderFromEvent(e events.Event, status string) grid.Order {
	pair, _ := e.Data["pair"].(string)
	id, _ := e.Data["order_id"].(string)
	side, _ := e.Data["side"].(string)
	price, _ := e.Data["price"].(float64)
	quantity, _ := e.Data["quantity"].(float64)
	return grid.Order{
		ID:        id,
		Pair:      pair,
		Side:      grid.Side(side),
		Price:     price,
		Quantity:  quantity,
		Status:    status,
		CreatedAt: e.Timestamp,
	}
}
