package signal

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Every emitted Bias must be a change: for any input sequence, consecutive
// emissions alternate direction and none is Neutral.
func TestDebounce_EmissionsAlternate_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("consecutive biases never repeat a direction", prop.ForAll(
		func(diffs []float64) bool {
			e := NewEngine(Config{Pair: "BTC/USDT", Kind: KindMacd})
			last := Neutral
			for i, d := range diffs {
				bias, ok := e.OnSnapshot(macdSnap(d, 0, 100, int64(i)))
				if !ok {
					continue
				}
				if bias.Direction == Neutral || bias.Direction == last {
					return false
				}
				last = bias.Direction
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-5, 5)),
	))

	properties.TestingRun(t)
}
