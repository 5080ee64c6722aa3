package binance

// ExchangeClient defines the exchange operations the engine depends on.
// The real client, the mock client and the backtest's simulated exchange
// all satisfy this interface, which is what lets the backtester drive the
// identical pipeline the live loop runs.
type ExchangeClient interface {
	GetKlines(symbol, interval string, limit int) ([]Kline, error)
	GetCurrentPrice(symbol string) (float64, error)
	Get24hrTickers() ([]Ticker24hr, error)
	GetExchangeInfo() (*ExchangeInfo, error)
	PlaceLimitOrder(symbol, side string, price, quantity float64) (int64, error)
	CancelOrder(symbol string, orderID int64) error
	GetOrderStatus(symbol string, orderID int64) (*OrderResponse, error)
	GetBalances() (map[string]float64, error)
}

// Order status values reported by the exchange
const (
	OrderStatusNew      = "NEW"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
	OrderStatusRejected = "REJECTED"
)

var _ ExchangeClient = (*Client)(nil)
var _ ExchangeClient = (*MockClient)(nil)
