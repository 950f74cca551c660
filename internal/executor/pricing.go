package executor

import (
	"github.com/shopspring/decimal"

	"tradectl/internal/gateway/exchange"
	"tradectl/internal/types"
)

// LimitPrice derives a marketable limit price from the signal candle close:
// buys bid a few ticks above the close, sells offer a few ticks below, so
// the order crosses the book under normal conditions while capping slippage.
// The result is floored to the pair's quoted price precision.
func LimitPrice(side types.OrderSide, closePrice float64, offset int, rules exchange.Rules) float64 {
	price := decimal.NewFromFloat(closePrice)
	if offset > 0 && rules.TickSize > 0 {
		delta := decimal.NewFromFloat(rules.TickSize).Mul(decimal.NewFromInt(int64(offset)))
		if side == types.SideBuy {
			price = price.Add(delta)
		} else {
			price = price.Sub(delta)
		}
	}
	if rules.PriceDecimals > 0 {
		price = price.RoundFloor(rules.PriceDecimals)
	}
	f, _ := price.Float64()
	return f
}
