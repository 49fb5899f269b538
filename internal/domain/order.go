package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType classifies how an order triggers.
type OrderType string

// OrderSide is the direction of an order.
type OrderSide string

// OrderStatus tracks the order lifecycle. Orders never re-open once closed.
type OrderStatus string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeStop   OrderType = "Stop"

	SideBuy  OrderSide = "Buy"
	SideSell OrderSide = "Sell"

	OrderStatusOpen            OrderStatus = "Open"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCanceled        OrderStatus = "Canceled"
)

// Order is a simulated spot order evaluated against the live price feed.
// Price is nil only for market orders.
type Order struct {
	ID     string          `json:"id"`
	Type   OrderType       `json:"type"`
	Side   OrderSide       `json:"side"`
	Asset  string          `json:"asset"`
	Price  *decimal.Decimal `json:"price,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	Filled decimal.Decimal `json:"filled"`
	Status OrderStatus     `json:"status"`

	// Reserved records exactly what was locked at placement so cancel and
	// settlement release or consume the same amount once.
	Reserved      decimal.Decimal `json:"reserved"`
	ReservedAsset string          `json:"reserved_asset"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen checks if the order is still active.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

// LimitPrice returns the order price or zero for market orders.
func (o *Order) LimitPrice() decimal.Decimal {
	if o.Price == nil {
		return decimal.Zero
	}
	return *o.Price
}
