package portfolio

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"tradectl/internal/gateway/exchange"
)

func TestSlotCapital_Conservation_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("slot shares sum back to total capital", prop.ForAll(
		func(total float64, slots int) bool {
			a := NewAllocator(slots)
			share := a.SlotCapital(total)
			if total <= 0 {
				return share == 0
			}
			sum := decimal.Zero
			for i := 0; i < a.Slots(); i++ {
				sum = sum.Add(decimal.NewFromFloat(share))
			}
			got, _ := sum.Float64()
			return math.Abs(got-total) < 1e-6*math.Max(1, total)
		},
		gen.Float64Range(0, 1e7),
		gen.IntRange(1, 16),
	))

	properties.TestingRun(t)
}

func TestSizeQuantity_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sized quantity never spends more than its share and lands on the lot step", prop.ForAll(
		func(capital, price float64, stepExp int) bool {
			step := math.Pow10(-stepExp)
			rules := exchange.Rules{LotStep: step}
			qty, err := SizeQuantity(capital, price, rules)
			if err != nil {
				return qty == 0
			}

			// Never spend more than allocated.
			spent := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
			if spent.GreaterThan(decimal.NewFromFloat(capital).Add(decimal.NewFromFloat(1e-9))) {
				return false
			}

			// Quantity is an integer multiple of the lot step.
			q := decimal.NewFromFloat(qty)
			s := decimal.NewFromFloat(step)
			return q.Mod(s).IsZero()
		},
		gen.Float64Range(1, 1e6),
		gen.Float64Range(1, 1e5),
		gen.IntRange(0, 4),
	))

	properties.Property("the lot-step remainder is the only capital leak", prop.ForAll(
		func(capital, price float64, stepExp int) bool {
			step := math.Pow10(-stepExp)
			rules := exchange.Rules{LotStep: step}
			qty, err := SizeQuantity(capital, price, rules)
			if err != nil {
				return true
			}
			// One more lot step would exceed the capital share.
			over := decimal.NewFromFloat(qty).
				Add(decimal.NewFromFloat(step)).
				Mul(decimal.NewFromFloat(price))
			return over.GreaterThan(decimal.NewFromFloat(capital).Sub(decimal.NewFromFloat(1e-9)))
		},
		gen.Float64Range(1, 1e6),
		gen.Float64Range(1, 1e5),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}
