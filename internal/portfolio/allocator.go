// Package portfolio converts bias events into capital-sized trade intents.
// Capital is split evenly across allocation slots; the only permitted leak
// is lot-step truncation.
package portfolio

import (
	"errors"

	"tradectl/internal/gateway/exchange"
	"tradectl/internal/logger"
	"tradectl/internal/signal"
	"tradectl/internal/types"

	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinNotional = errors.New("portfolio: sized order below exchange min notional")
	ErrBelowMinQty      = errors.New("portfolio: sized order below exchange min quantity")
)

type Allocator struct {
	slots int
}

// NewAllocator splits capital across the given number of allocation slots
// (a BVLT triple counts as one slot).
func NewAllocator(slots int) *Allocator {
	if slots < 1 {
		slots = 1
	}
	return &Allocator{slots: slots}
}

func (a *Allocator) Slots() int { return a.slots }

// SlotCapital is the even capital share of one slot.
func (a *Allocator) SlotCapital(total float64) float64 {
	if total <= 0 {
		return 0
	}
	share, _ := decimal.NewFromFloat(total).
		Div(decimal.NewFromInt(int64(a.slots))).
		Float64()
	return share
}

// SizeQuantity converts a capital share at the given price into an order
// quantity floored to the pair's lot step.
func SizeQuantity(capital, price float64, rules exchange.Rules) (float64, error) {
	if capital <= 0 || price <= 0 {
		return 0, ErrBelowMinNotional
	}
	qty := decimal.NewFromFloat(capital).Div(decimal.NewFromFloat(price))
	qty = FloorToStep(qty, rules.LotStep)
	q, _ := qty.Float64()
	if rules.MinQty > 0 && q < rules.MinQty {
		return 0, ErrBelowMinQty
	}
	if rules.MinNotional > 0 && q*price < rules.MinNotional {
		return 0, ErrBelowMinNotional
	}
	return q, nil
}

// FloorToStep truncates a quantity down to an exchange increment.
func FloorToStep(qty decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return qty
	}
	stepDec := decimal.NewFromFloat(step)
	return qty.Div(stepDec).Floor().Mul(stepDec)
}

// Intents maps a bias event onto ordered trade intents for a standard-mode
// pair. When both a close and an open are returned, the caller must confirm
// the close fill before submitting the open.
func (a *Allocator) Intents(bias signal.Bias, pos types.Position, slotCapital float64, rules exchange.Rules, shortEnabled bool) []types.OrderIntent {
	switch bias.Direction {
	case signal.Bullish:
		return a.bullishIntents(bias, pos, slotCapital, rules)
	case signal.Bearish:
		return a.bearishIntents(bias, pos, slotCapital, rules, shortEnabled)
	default:
		return nil
	}
}

func (a *Allocator) bullishIntents(bias signal.Bias, pos types.Position, slotCapital float64, rules exchange.Rules) []types.OrderIntent {
	if pos.IsOpen() && pos.Side == types.PositionLong {
		return nil
	}
	var out []types.OrderIntent
	if pos.IsOpen() && pos.Side == types.PositionShort {
		out = append(out, types.OrderIntent{
			Pair:           bias.Pair,
			Side:           types.SideBuy,
			Reason:         types.ReasonSignalClose,
			Quantity:       pos.Quantity,
			ReferencePrice: bias.ClosePrice,
		})
	}
	qty, err := SizeQuantity(slotCapital, bias.ClosePrice, rules)
	if err != nil {
		logger.Warnf("[portfolio] %s bullish open skipped: %v", bias.Pair, err)
		return out
	}
	return append(out, types.OrderIntent{
		Pair:           bias.Pair,
		Side:           types.SideBuy,
		Reason:         types.ReasonSignalOpen,
		Quantity:       qty,
		Notional:       slotCapital,
		ReferencePrice: bias.ClosePrice,
	})
}

func (a *Allocator) bearishIntents(bias signal.Bias, pos types.Position, slotCapital float64, rules exchange.Rules, shortEnabled bool) []types.OrderIntent {
	if pos.IsOpen() && pos.Side == types.PositionShort {
		return nil
	}
	var out []types.OrderIntent
	if pos.IsOpen() && pos.Side == types.PositionLong {
		out = append(out, types.OrderIntent{
			Pair:           bias.Pair,
			Side:           types.SideSell,
			Reason:         types.ReasonSignalClose,
			Quantity:       pos.Quantity,
			ReferencePrice: bias.ClosePrice,
		})
	}
	if !shortEnabled {
		// Flatten only; downtrends without shorting stay in quote.
		return out
	}
	qty, err := SizeQuantity(slotCapital, bias.ClosePrice, rules)
	if err != nil {
		logger.Warnf("[portfolio] %s bearish open skipped: %v", bias.Pair, err)
		return out
	}
	return append(out, types.OrderIntent{
		Pair:           bias.Pair,
		Side:           types.SideSell,
		Reason:         types.ReasonSignalOpen,
		Quantity:       qty,
		Notional:       slotCapital,
		ReferencePrice: bias.ClosePrice,
	})
}
