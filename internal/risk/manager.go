// Package risk arms protective stops on open positions and fires flatten
// intents when tick prices breach them.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"tradectl/internal/logger"
	"tradectl/internal/store"
	"tradectl/internal/types"
)

// Params are the per-pair protective thresholds, both expressed as a
// percentage of the entry price. Zero disables the threshold.
type Params struct {
	StopPercent       float64
	TakeProfitPercent float64
}

// Manager evaluates tick prices against the stops of open positions. Stop
// breaches are edge triggered: once a flatten intent fires, the pair must
// return to the open state before the stop can fire again.
type Manager struct {
	st *store.Store

	mu     sync.RWMutex
	params map[string]Params
}

func NewManager(st *store.Store) *Manager {
	return &Manager{st: st, params: make(map[string]Params)}
}

// Track registers the protective thresholds for a pair.
func (m *Manager) Track(pair string, p Params) {
	m.mu.Lock()
	m.params[pair] = p
	m.mu.Unlock()
}

// Tracked reports whether the pair has a non-zero stop armed.
func (m *Manager) Tracked(pair string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params[pair].StopPercent > 0
}

// StopPrice computes the protective stop for an entry. Long stops sit below
// the entry, short stops above it.
func StopPrice(side types.PositionSide, entry, stopPercent float64) float64 {
	if stopPercent <= 0 || entry <= 0 {
		return 0
	}
	pct := decimal.NewFromFloat(stopPercent).Div(decimal.NewFromInt(100))
	e := decimal.NewFromFloat(entry)
	var stop decimal.Decimal
	switch side {
	case types.PositionShort:
		stop = e.Mul(decimal.NewFromInt(1).Add(pct))
	default:
		stop = e.Mul(decimal.NewFromInt(1).Sub(pct))
	}
	f, _ := stop.Float64()
	return f
}

// OnTick checks one tick price against the pair's armed stop. It returns a
// flatten intent when the stop is breached while the position is open.
func (m *Manager) OnTick(pair string, price float64) (types.OrderIntent, bool) {
	m.mu.RLock()
	p, tracked := m.params[pair]
	m.mu.RUnlock()
	if !tracked || p.StopPercent <= 0 {
		return types.OrderIntent{}, false
	}
	if m.st.State(pair) != store.StateOpen {
		return types.OrderIntent{}, false
	}
	pos := m.st.Position(pair)
	if !pos.IsOpen() || pos.StopPrice <= 0 {
		return types.OrderIntent{}, false
	}
	if !stopBreached(pos.Side, price, pos.StopPrice) {
		return types.OrderIntent{}, false
	}
	logger.Warnf("[risk] %s stop breached: price=%.8f stop=%.8f side=%s", pair, price, pos.StopPrice, pos.Side)
	side := types.SideSell
	if pos.Side == types.PositionShort {
		side = types.SideBuy
	}
	return types.OrderIntent{
		Pair:           pair,
		Side:           side,
		Reason:         types.ReasonStopLoss,
		Quantity:       pos.Quantity,
		ReferencePrice: price,
	}, true
}

// TakeProfitHit reports whether the close price clears the pair's
// take-profit threshold for the current position.
func (m *Manager) TakeProfitHit(pair string, closePrice float64) bool {
	m.mu.RLock()
	p := m.params[pair]
	m.mu.RUnlock()
	if p.TakeProfitPercent <= 0 {
		return false
	}
	pos := m.st.Position(pair)
	if !pos.IsOpen() || pos.EntryPrice <= 0 {
		return false
	}
	pct := decimal.NewFromFloat(p.TakeProfitPercent).Div(decimal.NewFromInt(100))
	entry := decimal.NewFromFloat(pos.EntryPrice)
	price := decimal.NewFromFloat(closePrice)
	if pos.Side == types.PositionShort {
		target := entry.Mul(decimal.NewFromInt(1).Sub(pct))
		return price.LessThanOrEqual(target)
	}
	target := entry.Mul(decimal.NewFromInt(1).Add(pct))
	return price.GreaterThanOrEqual(target)
}

func stopBreached(side types.PositionSide, price, stop float64) bool {
	if side == types.PositionShort {
		return price >= stop
	}
	return price <= stop
}
