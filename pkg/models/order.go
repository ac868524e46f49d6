package models

import (
	"time"
)

type Order struct {
	OrderID     string
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Price       float64 // average fill price
	Size        float64 // requested quantity
	ExecutedQty float64
	Status      OrderStatus
	ReduceOnly  bool
	CreatedAt   time.Time
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Filled reports whether any quantity was actually executed. An order
// that landed with zero executed quantity is a failed fill regardless
// of its status.
func (o *Order) Filled() bool {
	return o != nil && o.ExecutedQty > 0
}

// ExecutedValue is the USD value actually executed.
func (o *Order) ExecutedValue() float64 {
	if o == nil {
		return 0
	}
	return o.ExecutedQty * o.Price
}
