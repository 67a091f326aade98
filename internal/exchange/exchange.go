package exchange

import (
	"context"
	"fmt"

	"github.com/tradewind/tradewind/internal/domain"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderResult is the exchange's view of one order. For market buys Amount
// is quote currency spent; for sells it is base quantity sold.
type OrderResult struct {
	OrderID      string  `json:"order_id"`
	FilledAmount float64 `json:"filled_amount"`
	AvgPrice     float64 `json:"avg_price"`
	Remaining    float64 `json:"remaining"`
	Done         bool    `json:"done"`
}

// Client is the narrow interface the trading core consumes. Implementations
// may rate-limit, fail, or return partial fills; callers own retry policy.
type Client interface {
	// Candles returns up to count OHLCV bars for the pair at the given
	// interval ("1h", "4h", "1d"), newest last.
	Candles(ctx context.Context, pair, interval string, count int) ([]domain.Candle, error)

	// Price returns the current ask price for the pair.
	Price(ctx context.Context, pair string) (float64, error)

	// Balances returns all non-zero account balances keyed by currency.
	Balances(ctx context.Context) (map[string]float64, error)

	// PlaceOrder submits a market order. amount is quote currency for buys
	// and base quantity for sells.
	PlaceOrder(ctx context.Context, pair string, side OrderSide, amount float64) (*OrderResult, error)

	// Order fetches the current state of a previously placed order.
	Order(ctx context.Context, orderID string) (*OrderResult, error)
}

// APIError is a non-2xx response from the exchange. The body is kept
// verbatim so execution failures can be recorded exactly as the exchange
// reported them.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error (HTTP %d): %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the status indicates a temporary condition.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
