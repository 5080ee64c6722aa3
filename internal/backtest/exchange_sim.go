package backtest

import (
	"fmt"
	"sort"
	"time"

	"grid-trading-bot/internal/binance"
)

// Trade is one simulated fill. Price is the grid level, ExecutedPrice
// is the level after the fee haircut.
type Trade struct {
	Time          time.Time `json:"time"`
	Side          string    `json:"side"`
	Price         float64   `json:"price"`
	ExecutedPrice float64   `json:"executed_price"`
	Quantity      float64   `json:"quantity"`
	Profit        float64   `json:"profit"`
}

type simOrder struct {
	id       int64
	side     string
	price    float64
	quantity float64
	status   string
}

// simExchange replays a candle series as an exchange: resting limit
// orders fill when a bar's low/high range crosses their price, at the
// level price less the configured fee. It satisfies the same interface
// the live client does, so the grid manager cannot tell the difference.
type simExchange struct {
	symbol     string
	candles    []binance.Kline
	idx        int
	feePercent float64

	nextID int64
	orders map[int64]*simOrder

	cash     float64
	position float64
	avgCost  float64
	trades   []Trade
}

func newSimExchange(symbol string, candles []binance.Kline, initialCapital, feePercent float64) *simExchange {
	return &simExchange{
		symbol:     symbol,
		candles:    candles,
		feePercent: feePercent,
		orders:     make(map[int64]*simOrder),
		cash:       initialCapital,
	}
}

var _ binance.ExchangeClient = (*simExchange)(nil)

// advance moves the virtual clock to bar i and settles every resting
// order the bar's range crosses: buys when the low reaches the level,
// sells when the high does.
func (s *simExchange) advance(i int) {
	s.idx = i
	bar := s.candles[i]

	ids := make([]int64, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	for _, id := range ids {
		order := s.orders[id]
		if order.status != binance.OrderStatusNew {
			continue
		}
		crossed := (order.side == "BUY" && bar.Low <= order.price) ||
			(order.side == "SELL" && bar.High >= order.price)
		if !crossed {
			continue
		}
		order.status = binance.OrderStatusFilled
		s.settle(order, bar)
	}
}

func (s *simExchange) settle(order *simOrder, bar binance.Kline) {
	executed := order.price * (1 - s.feePercent/100)

	trade := Trade{
		Time:          time.UnixMilli(bar.CloseTime),
		Side:          order.side,
		Price:         order.price,
		ExecutedPrice: executed,
		Quantity:      order.quantity,
	}

	if order.side == "BUY" {
		cost := executed * order.quantity
		s.avgCost = weightedCost(s.avgCost, s.position, executed, order.quantity)
		s.cash -= cost
		s.position += order.quantity
	} else {
		trade.Profit = (executed - s.avgCost) * order.quantity
		s.cash += executed * order.quantity
		s.position -= order.quantity
	}

	s.trades = append(s.trades, trade)
}

func weightedCost(avgCost, position, price, quantity float64) float64 {
	total := position + quantity
	if total <= 0 {
		return price
	}
	return (avgCost*position + price*quantity) / total
}

// equity marks the ledger to the current bar's close.
func (s *simExchange) equity() float64 {
	return s.cash + s.position*s.candles[s.idx].Close
}

func (s *simExchange) currentBar() binance.Kline {
	return s.candles[s.idx]
}

// GetKlines serves the history visible at the virtual clock, never
// future bars. Every interval maps to the run's base series; the
// analyzer gets a shorter tail for its coarser timeframes.
func (s *simExchange) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	visible := s.candles[:s.idx+1]
	if len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	out := make([]binance.Kline, len(visible))
	copy(out, visible)
	return out, nil
}

func (s *simExchange) GetCurrentPrice(symbol string) (float64, error) {
	return s.candles[s.idx].Close, nil
}

func (s *simExchange) Get24hrTickers() ([]binance.Ticker24hr, error) {
	return []binance.Ticker24hr{{Symbol: s.symbol, LastPrice: s.candles[s.idx].Close}}, nil
}

func (s *simExchange) GetExchangeInfo() (*binance.ExchangeInfo, error) {
	return &binance.ExchangeInfo{Symbols: []binance.SymbolInfo{{Symbol: s.symbol, Status: "TRADING"}}}, nil
}

func (s *simExchange) PlaceLimitOrder(symbol, side string, price, quantity float64) (int64, error) {
	s.nextID++
	s.orders[s.nextID] = &simOrder{
		id:       s.nextID,
		side:     side,
		price:    price,
		quantity: quantity,
		status:   binance.OrderStatusNew,
	}
	return s.nextID, nil
}

func (s *simExchange) CancelOrder(symbol string, orderID int64) error {
	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found", orderID)
	}
	if order.status == binance.OrderStatusNew {
		order.status = binance.OrderStatusCanceled
	}
	return nil
}

func (s *simExchange) GetOrderStatus(symbol string, orderID int64) (*binance.OrderResponse, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d not found", orderID)
	}
	return &binance.OrderResponse{
		Symbol:      symbol,
		OrderID:     order.id,
		Price:       order.price,
		OrigQty:     order.quantity,
		ExecutedQty: order.quantity,
		Status:      order.status,
		Side:        order.side,
	}, nil
}

func (s *simExchange) GetBalances() (map[string]float64, error) {
	return map[string]float64{"USDT": s.cash}, nil
}
