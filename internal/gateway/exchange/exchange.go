// Package exchange defines the core-facing abstraction over the trading
// venue. The execution engine and allocators depend on this interface, not
// on the transport implementation behind it.
package exchange

import (
	"context"

	"tradectl/internal/types"
)

// Rules are the per-pair exchange constants that bound order construction.
type Rules struct {
	Pair          string
	TickSize      float64
	LotStep       float64
	MinQty        float64
	MinNotional   float64
	PriceDecimals int32
	QtyDecimals   int32
}

// OrderRequest is a concrete order ready for submission.
type OrderRequest struct {
	Pair          string
	Side          types.OrderSide
	Type          types.OrderType
	Quantity      float64
	Price         float64 // limit orders only
	ClientOrderID string

	// IsolatedMargin routes the order through the pair's isolated-margin
	// account (leverage/short mode); SideEffectAuto lets the venue borrow
	// and repay as needed.
	IsolatedMargin bool
	SideEffectAuto bool
}

// OrderState is the venue's view of an order at a point in time.
type OrderState struct {
	OrderID       int64
	ClientOrderID string
	Status        types.OrderStatus
	ExecutedQty   float64
	AvgFillPrice  float64
}

type Exchange interface {
	Name() string

	Rules(ctx context.Context, pair string) (Rules, error)

	Balance(ctx context.Context, asset string) (float64, error)

	// LastPrice reports the most recent trade price for the pair.
	LastPrice(ctx context.Context, pair string) (float64, error)

	// IsolatedMarginBalance reports the free quote collateral of the
	// pair's isolated-margin account (leverage/short mode only).
	IsolatedMarginBalance(ctx context.Context, pair string) (float64, error)

	SubmitOrder(ctx context.Context, req OrderRequest) (OrderState, error)

	OrderStatus(ctx context.Context, pair string, orderID int64) (OrderState, error)

	CancelOrder(ctx context.Context, pair string, orderID int64) error

	CancelOpenOrders(ctx context.Context, pair string) error
}
