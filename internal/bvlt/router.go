// Package bvlt plans leveraged-token leg rotation for a triangular slot.
// Signals come from the primary pair; the slot holds at most one of the UP
// or DOWN tokens at a time, and a rotation always sells the held leg to
// completion before buying the target leg.
package bvlt

import (
	"errors"
	"fmt"

	"tradectl/internal/config"
	"tradectl/internal/gateway/exchange"
	"tradectl/internal/portfolio"
	"tradectl/internal/signal"
	"tradectl/internal/types"
)

// ErrBothLegsHeld reports a corrupted slot: UP and DOWN tokens held at once.
var ErrBothLegsHeld = errors.New("bvlt: both legs held, manual intervention required")

// Holdings is the slot's current token inventory.
type Holdings struct {
	Up   float64
	Down float64
}

// Legs maps each tradable leg to its last observed price and exchange rules.
type Legs struct {
	UpPrice   float64
	DownPrice float64
	UpRules   exchange.Rules
	DownRules exchange.Rules
}

// Plan is an ordered pair of intents. Sell, when present, must reach a
// terminal fill before Buy may be submitted; a canceled or rejected Sell
// aborts the plan for this signal cycle.
type Plan struct {
	Sell *types.OrderIntent
	Buy  *types.OrderIntent
}

// Empty reports whether the plan requires no trades.
func (p Plan) Empty() bool { return p.Sell == nil && p.Buy == nil }

// Router turns primary-pair bias events into leg rotation plans for one
// BVLT group.
type Router struct {
	group config.BvltGroup
}

func NewRouter(group config.BvltGroup) *Router {
	return &Router{group: group}
}

func (r *Router) Group() config.BvltGroup { return r.group }

// Verify rejects inventories that violate the single-leg invariant.
func (r *Router) Verify(h Holdings) error {
	if h.Up > 0 && h.Down > 0 {
		return fmt.Errorf("%w: %s=%.8f %s=%.8f", ErrBothLegsHeld, r.group.Up, h.Up, r.group.Down, h.Down)
	}
	return nil
}

// Plan maps a bias on the primary pair onto leg trades. A bullish bias
// targets the UP token, a bearish bias the DOWN token; neutral plans
// nothing. Holding the target leg already is a no-op.
func (r *Router) Plan(dir signal.Direction, h Holdings, legs Legs, slotCapital float64) (Plan, error) {
	if err := r.Verify(h); err != nil {
		return Plan{}, err
	}
	switch dir {
	case signal.Bullish:
		return r.rotate(h.Down, r.group.Down, legs.DownPrice, r.group.Up, legs.UpPrice, legs.UpRules, h.Up, slotCapital)
	case signal.Bearish:
		return r.rotate(h.Up, r.group.Up, legs.UpPrice, r.group.Down, legs.DownPrice, legs.DownRules, h.Down, slotCapital)
	default:
		return Plan{}, nil
	}
}

// Flatten sells whatever leg is held, used at shutdown and for stop exits.
func (r *Router) Flatten(h Holdings, legs Legs, reason types.IntentReason) (Plan, error) {
	if err := r.Verify(h); err != nil {
		return Plan{}, err
	}
	var p Plan
	switch {
	case h.Up > 0:
		p.Sell = &types.OrderIntent{
			Pair:           r.group.Up,
			Side:           types.SideSell,
			Reason:         reason,
			Quantity:       h.Up,
			ReferencePrice: legs.UpPrice,
		}
	case h.Down > 0:
		p.Sell = &types.OrderIntent{
			Pair:           r.group.Down,
			Side:           types.SideSell,
			Reason:         reason,
			Quantity:       h.Down,
			ReferencePrice: legs.DownPrice,
		}
	}
	return p, nil
}

func (r *Router) rotate(heldQty float64, heldPair string, heldPrice float64, targetPair string, targetPrice float64, targetRules exchange.Rules, targetQty, slotCapital float64) (Plan, error) {
	if targetQty > 0 {
		return Plan{}, nil
	}
	var p Plan
	reason := types.ReasonSignalOpen
	if heldQty > 0 {
		reason = types.ReasonBvltSwitch
		p.Sell = &types.OrderIntent{
			Pair:           heldPair,
			Side:           types.SideSell,
			Reason:         types.ReasonBvltSwitch,
			Quantity:       heldQty,
			ReferencePrice: heldPrice,
		}
	}
	qty, err := portfolio.SizeQuantity(slotCapital, targetPrice, targetRules)
	if err != nil {
		if p.Sell != nil {
			// The rotation still exits the stale leg even when the new
			// leg cannot be sized.
			return p, nil
		}
		return Plan{}, err
	}
	p.Buy = &types.OrderIntent{
		Pair:           targetPair,
		Side:           types.SideBuy,
		Reason:         reason,
		Quantity:       qty,
		Notional:       slotCapital,
		ReferencePrice: targetPrice,
	}
	return p, nil
}
