package types

import "time"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionNone  PositionSide = "none"
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is the settled holding for one pair. At most one non-none
// position exists per pair at any instant; the state store owns it.
type Position struct {
	Pair       string       `json:"pair"`
	Side       PositionSide `json:"side"`
	Quantity   float64      `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
	Leverage   int          `json:"leverage"`
	StopPrice  float64      `json:"stop_price"`
	OpenedAt   time.Time    `json:"opened_at"`
}

func (p Position) IsOpen() bool {
	return p.Side != "" && p.Side != PositionNone && p.Quantity > 0
}
