package execution

import (
	"fmt"

	"github.com/rkundel/pm-agents/internal/portfolio"
)

// Side of a trade order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects the execution style.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderSmart  OrderType = "SMART"
)

// Status of a trade execution. Executions are terminal immediately; no order
// book persists across cycles.
type Status string

const (
	StatusFilled    Status = "FILLED"
	StatusPartial   Status = "PARTIAL"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusPending   Status = "PENDING"
)

// Order is one simulated trade request.
type Order struct {
	ID                string    `json:"id"`
	AssetID           string    `json:"asset_id"`
	Side              Side      `json:"side"`
	Quantity          float64   `json:"quantity"`
	OrderType         OrderType `json:"order_type"`
	LimitPrice        float64   `json:"limit_price,omitempty"`
	SlippageTolerance float64   `json:"slippage_tolerance"` // [0..0.10]
}

// AssetContext is the market context the simulator prices an order against.
type AssetContext struct {
	Class        portfolio.AssetClass
	MarketValue  float64 // current market value of the full holding
	CurrentPrice float64
}

// Execution is the terminal result of one order.
type Execution struct {
	OrderID        string  `json:"order_id"`
	AssetID        string  `json:"asset_id"`
	Side           Side    `json:"side"`
	Status         Status  `json:"status"`
	FilledQuantity float64 `json:"filled_quantity"`
	Price          float64 `json:"price"`
	Impact         float64 `json:"impact"`
	Slippage       float64 `json:"slippage"`
	LatencyMs      int64   `json:"latency_ms"`
	Err            string  `json:"error,omitempty"`
}

// Notional of the execution at the fill price.
func (e Execution) Notional() float64 {
	return e.FilledQuantity * e.Price
}

// ValidationError is a structured pre-submission rejection. Orders failing
// validation are never silently dropped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order validation failed: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a pre-submission rejection.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}
