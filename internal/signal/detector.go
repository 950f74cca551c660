package signal

import (
	"tradectl/internal/indicator"

	"github.com/shopspring/decimal"
)

// history holds the most recent snapshots, newest last. Cross and macd need
// two points, trend needs three.
type history struct {
	snaps [3]indicator.Snapshot
	n     int
}

func (h *history) push(s indicator.Snapshot) {
	if h.n < len(h.snaps) {
		h.snaps[h.n] = s
		h.n++
		return
	}
	h.snaps[0], h.snaps[1] = h.snaps[1], h.snaps[2]
	h.snaps[2] = s
}

func (h *history) reset() { h.n = 0 }

func (h *history) cur() indicator.Snapshot  { return h.snaps[h.n-1] }
func (h *history) prev() indicator.Snapshot { return h.snaps[h.n-2] }
func (h *history) prev2() indicator.Snapshot {
	return h.snaps[h.n-3]
}

// detector is a pure function from recent snapshots to a raw direction.
type detector func(h *history) Direction

// detectorFor binds a Kind to its detector once at load time.
// priceDecimals floors moving averages to the pair's price precision before
// comparing, so sub-tick noise cannot fake a crossover. gated enables the
// optional trend-average gate on macd longs.
func detectorFor(kind Kind, priceDecimals int32, gated bool) detector {
	switch kind {
	case KindCross:
		return func(h *history) Direction {
			if h.n < 2 || !h.cur().HasAvgs || !h.prev().HasAvgs {
				return Neutral
			}
			curDiff := floorTo(h.cur().FastAvg, priceDecimals) - floorTo(h.cur().SlowAvg, priceDecimals)
			prevDiff := floorTo(h.prev().FastAvg, priceDecimals) - floorTo(h.prev().SlowAvg, priceDecimals)
			return signFlip(prevDiff, curDiff)
		}
	case KindTrend:
		return func(h *history) Direction {
			if h.n < 3 || !h.cur().HasAvgs || !h.prev().HasAvgs || !h.prev2().HasAvgs {
				return Neutral
			}
			c, p, pp := h.cur().FastAvg, h.prev().FastAvg, h.prev2().FastAvg
			switch {
			case c > p && p < pp:
				// Local minimum: falling turned rising.
				return Bullish
			case c < p && p > pp:
				return Bearish
			default:
				return Neutral
			}
		}
	case KindMacd:
		return func(h *history) Direction {
			if h.n < 2 || !h.cur().HasMACD || !h.prev().HasMACD {
				return Neutral
			}
			curDiff := h.cur().MACD - h.cur().MACDSignal
			prevDiff := h.prev().MACD - h.prev().MACDSignal
			raw := signFlip(prevDiff, curDiff)
			if raw == Bullish && gated {
				// A bullish macd cross is only taken long while the trend
				// average is not falling.
				if !h.cur().HasTrend || !h.prev().HasTrend {
					return Neutral
				}
				if h.cur().TrendAvg < h.prev().TrendAvg {
					return Neutral
				}
			}
			return raw
		}
	default:
		return func(*history) Direction { return Neutral }
	}
}

func signFlip(prevDiff, curDiff float64) Direction {
	switch {
	case prevDiff < 0 && curDiff > 0:
		return Bullish
	case prevDiff > 0 && curDiff < 0:
		return Bearish
	default:
		return Neutral
	}
}

func floorTo(v float64, places int32) float64 {
	if places < 0 {
		return v
	}
	f, _ := decimal.NewFromFloat(v).RoundFloor(places).Float64()
	return f
}
