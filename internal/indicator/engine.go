// Package indicator maintains per-pair rolling candle windows and computes
// the moving-average and MACD series consumed by the signal engine.
package indicator

import (
	"errors"

	"tradectl/internal/market"
	"tradectl/internal/scheduler"

	talib "github.com/markcheno/go-talib"
)

// ErrGap reports a hole in the candle sequence. The engine has already
// discarded its window when this is returned; the caller resynchronizes
// from history before signal generation resumes.
var ErrGap = errors.New("indicator: candle sequence gap")

const (
	DefaultMacdFast   = 12
	DefaultMacdSlow   = 26
	DefaultMacdSignal = 9
)

type Config struct {
	Interval string
	Fast     int
	Slow     int
	EMA      bool

	// MACD enables MACD computation (12/26/9 unless overridden).
	MACD       bool
	MacdFast   int
	MacdSlow   int
	MacdSignal int

	// TrendMA is the optional gate average used with the macd signal.
	TrendMA int

	// MaxCached bounds the rolling window. Zero picks a bound large enough
	// for every configured period plus reversal lookback.
	MaxCached int
}

// Snapshot is the indicator state as of one closed candle. Snapshots are
// immutable once produced.
type Snapshot struct {
	CloseTime int64
	Close     float64

	FastAvg float64
	SlowAvg float64
	HasAvgs bool

	MACD       float64
	MACDSignal float64
	HasMACD    bool

	TrendAvg float64
	HasTrend bool
}

type Engine struct {
	cfg        Config
	intervalMs int64
	candles    []market.Candle
	lastOpen   int64
}

func New(cfg Config) *Engine {
	if cfg.MacdFast <= 0 {
		cfg.MacdFast = DefaultMacdFast
	}
	if cfg.MacdSlow <= 0 {
		cfg.MacdSlow = DefaultMacdSlow
	}
	if cfg.MacdSignal <= 0 {
		cfg.MacdSignal = DefaultMacdSignal
	}
	if cfg.MaxCached <= 0 {
		cfg.MaxCached = defaultWindow(cfg)
	}
	var intervalMs int64
	if dur, ok := scheduler.ParseIntervalDuration(cfg.Interval); ok {
		intervalMs = dur.Milliseconds()
	}
	return &Engine{cfg: cfg, intervalMs: intervalMs}
}

func defaultWindow(cfg Config) int {
	need := cfg.Slow
	if cfg.Fast > need {
		need = cfg.Fast
	}
	if cfg.MACD && cfg.MacdSlow+cfg.MacdSignal > need {
		need = cfg.MacdSlow + cfg.MacdSignal
	}
	if cfg.TrendMA > need {
		need = cfg.TrendMA
	}
	// Four periods of slack keeps the EMA seed far enough behind the live
	// edge that the bounded window and an unbounded series agree.
	w := need * 4
	if w < 64 {
		w = 64
	}
	return w
}

// MinHistory is the number of closed candles needed before the engine can
// produce a complete snapshot for its configuration.
func (e *Engine) MinHistory() int {
	need := 1
	if e.cfg.Fast > need {
		need = e.cfg.Fast
	}
	if e.cfg.Slow > need {
		need = e.cfg.Slow
	}
	if e.cfg.MACD && e.cfg.MacdSlow+e.cfg.MacdSignal > need {
		need = e.cfg.MacdSlow + e.cfg.MacdSignal
	}
	if e.cfg.TrendMA > need {
		need = e.cfg.TrendMA
	}
	return need + 1
}

// Reset discards the window; the next snapshot is withheld until enough
// fresh candles accumulate again.
func (e *Engine) Reset() {
	e.candles = e.candles[:0]
	e.lastOpen = 0
}

// Warm replays closed historical candles without surfacing gap errors;
// a gap inside history simply restarts accumulation from that point.
func (e *Engine) Warm(history []market.Candle) {
	for _, c := range history {
		_, _, _ = e.Push(c)
	}
}

// Push appends one closed candle and recomputes the series. The boolean is
// false while history is insufficient or when the candle is a replayed
// boundary duplicate. A sequence gap resets the window and returns ErrGap.
func (e *Engine) Push(c market.Candle) (Snapshot, bool, error) {
	if e.lastOpen > 0 {
		if c.OpenTime <= e.lastOpen {
			// Boundary candle replay after reconnect; already processed.
			return Snapshot{}, false, nil
		}
		if e.intervalMs > 0 && c.OpenTime != e.lastOpen+e.intervalMs {
			e.Reset()
			e.lastOpen = c.OpenTime
			e.candles = append(e.candles, c)
			return Snapshot{}, false, ErrGap
		}
	}
	e.lastOpen = c.OpenTime
	e.candles = append(e.candles, c)
	if len(e.candles) > e.cfg.MaxCached {
		e.candles = e.candles[len(e.candles)-e.cfg.MaxCached:]
	}
	snap, ok := e.compute()
	return snap, ok, nil
}

// Len reports the current window size.
func (e *Engine) Len() int { return len(e.candles) }

func (e *Engine) compute() (Snapshot, bool) {
	n := len(e.candles)
	if n == 0 {
		return Snapshot{}, false
	}
	last := e.candles[n-1]
	snap := Snapshot{CloseTime: last.CloseTime, Close: last.Close}

	closes := make([]float64, n)
	for i, c := range e.candles {
		closes[i] = c.Close
	}

	if e.cfg.Fast > 0 && e.cfg.Slow > 0 && n >= e.cfg.Slow {
		snap.FastAvg = lastValue(average(closes, e.cfg.Fast, e.cfg.EMA))
		snap.SlowAvg = lastValue(average(closes, e.cfg.Slow, e.cfg.EMA))
		snap.HasAvgs = true
	} else if e.cfg.Fast > 0 && e.cfg.Slow == 0 && n >= e.cfg.Fast {
		snap.FastAvg = lastValue(average(closes, e.cfg.Fast, e.cfg.EMA))
		snap.HasAvgs = true
	}

	if e.cfg.MACD && n >= e.cfg.MacdSlow+e.cfg.MacdSignal {
		macd, signalLine, _ := talib.Macd(closes, e.cfg.MacdFast, e.cfg.MacdSlow, e.cfg.MacdSignal)
		snap.MACD = lastValue(macd)
		snap.MACDSignal = lastValue(signalLine)
		snap.HasMACD = true
	}

	if e.cfg.TrendMA > 0 && n >= e.cfg.TrendMA {
		snap.TrendAvg = lastValue(average(closes, e.cfg.TrendMA, e.cfg.EMA))
		snap.HasTrend = true
	}

	return snap, snap.HasAvgs || snap.HasMACD
}

// average computes the configured moving average. Exponential weighting
// uses the standard 2/(period+1) smoothing seeded by a simple average over
// the first period values, which is exactly talib's Ema.
func average(values []float64, period int, ema bool) []float64 {
	if ema {
		return talib.Ema(values, period)
	}
	return talib.Sma(values, period)
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
