// Package signal turns indicator snapshots into debounced directional bias
// events per configured strategy.
package signal

import (
	"fmt"
	"strings"
)

// Direction is the directional decision for a pair.
type Direction int

const (
	Neutral Direction = iota
	Bullish
	Bearish
)

func (d Direction) String() string {
	switch d {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "neutral"
	}
}

// Bias is an emitted directional decision. It is produced only when the raw
// decision differs from the last emitted one (debounced), so consumers can
// treat every Bias as a change.
type Bias struct {
	Pair       string
	Direction  Direction
	CloseTime  int64
	ClosePrice float64
}

// Kind selects the raw detector. The set is closed; the detector is picked
// once at configuration load.
type Kind int

const (
	KindCross Kind = iota
	KindTrend
	KindMacd
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cross":
		return KindCross, nil
	case "trend":
		return KindTrend, nil
	case "macd":
		return KindMacd, nil
	default:
		return 0, fmt.Errorf("unsupported signal kind: %q", s)
	}
}

func (k Kind) String() string {
	switch k {
	case KindCross:
		return "cross"
	case KindTrend:
		return "trend"
	case KindMacd:
		return "macd"
	default:
		return "unknown"
	}
}
