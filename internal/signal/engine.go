package signal

import (
	"tradectl/internal/indicator"
	"tradectl/internal/logger"
)

type candleColor int

const (
	colorGreen candleColor = iota
	colorRed
)

type Config struct {
	Pair string
	Kind Kind

	// PriceDecimals floors cross comparisons to the pair's price precision.
	// Zero is a real precision (integer ticks); negative disables flooring.
	PriceDecimals int32

	// TrendGate enables the macd trend-average gate (macd kind only).
	TrendGate bool

	// ConfirmationCandles, when > 0 (macd kind only), requires the last N
	// closes to have moved monotonically in the signal's direction before
	// the raw decision is accepted.
	ConfirmationCandles int
}

// Engine tracks snapshot history for one pair and emits debounced Bias
// events. Not safe for concurrent use; each pair worker owns one.
type Engine struct {
	cfg  Config
	det  detector
	hist history

	lastEmitted Direction

	colors    []candleColor
	prevClose float64
	havePrev  bool
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg: cfg,
		det: detectorFor(cfg.Kind, cfg.PriceDecimals, cfg.TrendGate),
	}
}

// Reset drops snapshot and confirmation history after a data gap. The last
// emitted bias survives the reset: the debounce state reflects decisions
// already acted on, not market data.
func (e *Engine) Reset() {
	e.hist.reset()
	e.colors = e.colors[:0]
	e.havePrev = false
}

// OnSnapshot consumes one indicator snapshot and returns a Bias event when
// the debounced decision changes. Repeated same-direction raw decisions
// produce no event.
func (e *Engine) OnSnapshot(s indicator.Snapshot) (Bias, bool) {
	e.hist.push(s)
	confirmed, confirmColor := e.trackConfirmation(s.Close)

	raw := e.det(&e.hist)
	if raw == Neutral {
		return Bias{}, false
	}
	if e.cfg.ConfirmationCandles > 0 {
		want := colorGreen
		if raw == Bearish {
			want = colorRed
		}
		if !confirmed || confirmColor != want {
			logger.Debugf("[signal] %s %s decision awaiting %d confirmation candles",
				e.cfg.Pair, raw, e.cfg.ConfirmationCandles)
			return Bias{}, false
		}
	}
	if raw == e.lastEmitted {
		return Bias{}, false
	}
	e.lastEmitted = raw
	logger.Infof("[signal] %s bias changed to %s (close=%v, kind=%s)",
		e.cfg.Pair, raw, s.Close, e.cfg.Kind)
	return Bias{
		Pair:       e.cfg.Pair,
		Direction:  raw,
		CloseTime:  s.CloseTime,
		ClosePrice: s.Close,
	}, true
}

// LastEmitted exposes the debounce state for observers.
func (e *Engine) LastEmitted() Direction { return e.lastEmitted }

// trackConfirmation updates the candle-color window and reports whether the
// last ConfirmationCandles closes all share one color, and which.
func (e *Engine) trackConfirmation(close float64) (bool, candleColor) {
	if e.cfg.ConfirmationCandles <= 0 {
		return true, colorGreen
	}
	if !e.havePrev {
		e.prevClose = close
		e.havePrev = true
		return false, colorGreen
	}
	color := colorGreen
	if close < e.prevClose {
		color = colorRed
	}
	e.prevClose = close
	e.colors = append(e.colors, color)
	if len(e.colors) > e.cfg.ConfirmationCandles {
		e.colors = e.colors[len(e.colors)-e.cfg.ConfirmationCandles:]
	}
	if len(e.colors) < e.cfg.ConfirmationCandles {
		return false, color
	}
	first := e.colors[0]
	for _, c := range e.colors[1:] {
		if c != first {
			return false, first
		}
	}
	return true, first
}
