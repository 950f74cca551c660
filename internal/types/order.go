package types

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status admits no further transition.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected:
		return true
	default:
		return false
	}
}

// IntentReason records why an order intent was raised.
type IntentReason string

const (
	ReasonSignalOpen  IntentReason = "signal_open"
	ReasonSignalClose IntentReason = "signal_close"
	ReasonStopLoss    IntentReason = "stop_loss"
	ReasonBvltSwitch  IntentReason = "bvlt_switch"
)

// OrderIntent is a request to trade produced by the allocator, the BVLT
// router, or the risk manager. The execution engine turns it into a
// concrete order. Exactly one of Quantity or Notional is set: Notional is
// used for opens (sized from allocated capital), Quantity for closes.
type OrderIntent struct {
	Pair     string       `json:"pair"`
	Side     OrderSide    `json:"side"`
	Reason   IntentReason `json:"reason"`
	Quantity float64      `json:"quantity,omitempty"`
	Notional float64      `json:"notional,omitempty"`

	// ReferencePrice is the candle close (or tick) that triggered the
	// intent; limit pricing offsets from it.
	ReferencePrice float64 `json:"reference_price"`
}

// Order is an in-flight or settled exchange order tracked by the store.
type Order struct {
	ID          int64        `json:"id"`
	ClientID    string       `json:"client_id"`
	Pair        string       `json:"pair"`
	Side        OrderSide    `json:"side"`
	Type        OrderType    `json:"type"`
	Price       float64      `json:"price,omitempty"`
	Quantity    float64      `json:"quantity"`
	ExecutedQty float64      `json:"executed_qty"`
	AvgFill     float64      `json:"avg_fill,omitempty"`
	Status      OrderStatus  `json:"status"`
	Reason      IntentReason `json:"reason"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
