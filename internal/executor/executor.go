// Package executor submits order intents to the venue and supervises them
// to a terminal state. It owns the fill-polling loop, the timeout-cancel
// path and the single bounded retry for plain signal orders.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradectl/internal/gateway/exchange"
	"tradectl/internal/logger"
	"tradectl/internal/store"
	"tradectl/internal/types"
)

var (
	// ErrUnfilled reports an order that timed out and was canceled after
	// the retry budget was spent.
	ErrUnfilled = errors.New("executor: order unfilled after cancel")

	// ErrRejected reports a venue rejection. Rejections are never retried.
	ErrRejected = errors.New("executor: order rejected by venue")

	// ErrSwitchUnfilled reports an unfilled leg-rotation order. Rotation
	// orders are never silently retried; the caller decides how to recover.
	ErrSwitchUnfilled = errors.New("executor: rotation order unfilled")
)

// Options carry the per-strategy execution style for one intent.
type Options struct {
	Type           types.OrderType
	LimitOffset    int
	Rules          exchange.Rules
	IsolatedMargin bool

	// ExtendOnPartial grants a partially filled order one extra timeout
	// window before the cancel (the "wait" rotation fill policy).
	ExtendOnPartial bool
}

// Config bounds the supervision loop.
type Config struct {
	FillTimeout  time.Duration
	PollInterval time.Duration
	DryRun       bool
}

type Executor struct {
	ex  exchange.Exchange
	st  *store.Store
	cfg Config
}

func New(ex exchange.Exchange, st *store.Store, cfg Config) *Executor {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 45 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Executor{ex: ex, st: st, cfg: cfg}
}

// Execute drives one intent to a terminal order state. Limit orders that
// fail to fill within the fill timeout are canceled; plain signal and stop
// orders are then resubmitted once for the remaining quantity, rotation
// orders are reported back unfilled instead. The returned order always
// carries the quantity filled across every attempt, so even a failed
// Execute tells the caller what it now holds.
func (e *Executor) Execute(ctx context.Context, intent types.OrderIntent, opts Options) (types.Order, error) {
	attempts := 1
	if retryable(intent.Reason) {
		attempts = 2
	}

	var filledQty, filledNotional float64
	combine := func(o types.Order) types.Order {
		if o.ExecutedQty > 0 {
			filledQty += o.ExecutedQty
			filledNotional += o.ExecutedQty * o.AvgFill
		}
		o.Quantity = intent.Quantity
		o.ExecutedQty = filledQty
		if filledQty > 0 {
			o.AvgFill = filledNotional / filledQty
		}
		return o
	}

	var last types.Order
	for attempt := 0; attempt < attempts; attempt++ {
		order, err := e.runOnce(ctx, intent, opts, intent.Quantity-filledQty, attempt)
		last = combine(order)
		if err == nil {
			return last, nil
		}
		if !errors.Is(err, ErrUnfilled) || attempt == attempts-1 {
			return last, err
		}
		remaining := intent.Quantity - filledQty
		if remaining <= 0 {
			return last, err
		}
		if opts.Type == types.OrderLimit {
			intent.ReferencePrice = e.refreshReference(ctx, intent)
		}
		logger.Warnf("[executor] %s %s unfilled after cancel, retrying once for %.8f", intent.Pair, intent.Side, remaining)
	}
	return last, ErrUnfilled
}

// refreshReference re-anchors the retry's limit price on the current market
// price instead of the close that already failed to cross.
func (e *Executor) refreshReference(ctx context.Context, intent types.OrderIntent) float64 {
	px, err := e.ex.LastPrice(ctx, intent.Pair)
	if err != nil || px <= 0 {
		logger.Warnf("[executor] %s price refresh failed, keeping %.8f: %v", intent.Pair, intent.ReferencePrice, err)
		return intent.ReferencePrice
	}
	return px
}

func (e *Executor) runOnce(ctx context.Context, intent types.OrderIntent, opts Options, quantity float64, attempt int) (types.Order, error) {
	now := time.Now()
	order := types.Order{
		ClientID:  uuid.NewString(),
		Pair:      intent.Pair,
		Side:      intent.Side,
		Type:      opts.Type,
		Quantity:  quantity,
		Status:    types.OrderPending,
		Reason:    intent.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.Type == types.OrderLimit {
		order.Price = LimitPrice(intent.Side, intent.ReferencePrice, opts.LimitOffset, opts.Rules)
	}
	if err := e.st.RecordOrder(order); err != nil {
		return order, err
	}

	if e.cfg.DryRun {
		fill := order.Price
		if fill == 0 {
			fill = intent.ReferencePrice
		}
		logger.Infof("[executor] dry-run fill %s %s qty=%.8f price=%.8f reason=%s", order.Pair, order.Side, quantity, fill, order.Reason)
		return e.st.UpdateOrder(order.ClientID, types.OrderFilled, quantity, fill, time.Now())
	}

	state, err := e.ex.SubmitOrder(ctx, exchange.OrderRequest{
		Pair:           intent.Pair,
		Side:           intent.Side,
		Type:           opts.Type,
		Quantity:       quantity,
		Price:          order.Price,
		ClientOrderID:  order.ClientID,
		IsolatedMargin: opts.IsolatedMargin,
		SideEffectAuto: opts.IsolatedMargin,
	})
	if err != nil {
		updated, uerr := e.st.UpdateOrder(order.ClientID, types.OrderRejected, 0, 0, time.Now())
		if uerr != nil {
			updated = order
		}
		return updated, fmt.Errorf("executor: submit %s %s: %w", intent.Pair, intent.Side, err)
	}
	logger.Infof("[executor] submitted %s %s type=%s qty=%.8f price=%.8f reason=%s attempt=%d",
		order.Pair, order.Side, order.Type, quantity, order.Price, order.Reason, attempt+1)

	return e.supervise(ctx, order, state, intent.Reason, opts)
}

// supervise polls the venue until the order is terminal or the fill
// timeout elapses, mirroring every observed progress into the store.
func (e *Executor) supervise(ctx context.Context, order types.Order, state exchange.OrderState, reason types.IntentReason, opts Options) (types.Order, error) {
	deadline := time.Now().Add(e.cfg.FillTimeout)
	extended := false
	current := order

	apply := func(s exchange.OrderState) error {
		if s.Status == types.OrderPending || (s.Status == current.Status && s.ExecutedQty == current.ExecutedQty) {
			return nil
		}
		updated, err := e.st.UpdateOrder(order.ClientID, s.Status, s.ExecutedQty, s.AvgFillPrice, time.Now())
		if err != nil {
			return err
		}
		current = updated
		return nil
	}

	if err := apply(state); err != nil {
		return current, err
	}
	if current.Status.Terminal() {
		return e.finish(current, reason)
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return e.abort(order, state.OrderID, reason, ctx.Err())
		case <-ticker.C:
		}
		s, err := e.ex.OrderStatus(ctx, order.Pair, state.OrderID)
		if err != nil {
			logger.Warnf("[executor] status poll %s order=%d: %v", order.Pair, state.OrderID, err)
		} else if err := apply(s); err != nil {
			return current, err
		}
		if current.Status.Terminal() {
			return e.finish(current, reason)
		}
		if time.Now().After(deadline) {
			if opts.ExtendOnPartial && !extended && current.Status == types.OrderPartiallyFilled {
				extended = true
				deadline = time.Now().Add(e.cfg.FillTimeout)
				logger.Infof("[executor] %s order=%d partially filled at deadline, extending once", order.Pair, state.OrderID)
				continue
			}
			return e.abort(order, state.OrderID, reason, nil)
		}
	}
}

// abort cancels an in-flight order after a timeout or context cancel. The
// fill may race the cancel, so the final venue state decides the outcome.
func (e *Executor) abort(order types.Order, orderID int64, reason types.IntentReason, cause error) (types.Order, error) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.ex.CancelOrder(cancelCtx, order.Pair, orderID); err != nil {
		logger.Warnf("[executor] cancel %s order=%d: %v", order.Pair, orderID, err)
	}
	final, err := e.ex.OrderStatus(cancelCtx, order.Pair, orderID)
	if err != nil {
		logger.Errorf("[executor] final status %s order=%d: %v", order.Pair, orderID, err)
		final = exchange.OrderState{OrderID: orderID, Status: types.OrderCanceled}
	}
	if !final.Status.Terminal() {
		final.Status = types.OrderCanceled
	}
	updated, uerr := e.st.UpdateOrder(order.ClientID, final.Status, final.ExecutedQty, final.AvgFillPrice, time.Now())
	if uerr != nil {
		return order, uerr
	}
	if updated.Status == types.OrderFilled {
		return e.finish(updated, reason)
	}
	if cause != nil {
		return updated, cause
	}
	return e.finish(updated, reason)
}

func (e *Executor) finish(order types.Order, reason types.IntentReason) (types.Order, error) {
	switch order.Status {
	case types.OrderFilled:
		return order, nil
	case types.OrderRejected:
		return order, fmt.Errorf("%w: %s %s", ErrRejected, order.Pair, order.Side)
	default:
		if reason == types.ReasonBvltSwitch {
			return order, fmt.Errorf("%w: %s %s executed=%.8f of %.8f",
				ErrSwitchUnfilled, order.Pair, order.Side, order.ExecutedQty, order.Quantity)
		}
		return order, fmt.Errorf("%w: %s %s executed=%.8f of %.8f",
			ErrUnfilled, order.Pair, order.Side, order.ExecutedQty, order.Quantity)
	}
}

func retryable(reason types.IntentReason) bool {
	switch reason {
	case types.ReasonSignalOpen, types.ReasonSignalClose, types.ReasonStopLoss:
		return true
	default:
		return false
	}
}
