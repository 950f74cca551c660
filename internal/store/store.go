// Package store is the single owner of position and order state. Every
// other component reads snapshots and submits intents; only the execution
// engine writes, and each write is one atomic state transition.
package store

import (
	"fmt"
	"sync"
	"time"

	"tradectl/internal/types"
)

// PairState is the per-pair decision lifecycle. Entering and Exiting
// correspond to an in-flight order; Open and Flat to settled positions.
// Switching is the BVLT-only window between a confirmed leg Sell and the
// opposite leg Buy.
type PairState string

const (
	StateFlat      PairState = "flat"
	StateEntering  PairState = "entering"
	StateOpen      PairState = "open"
	StateExiting   PairState = "exiting"
	StateSwitching PairState = "switching"
)

// legalTransitions encodes the pair state machine, including the failure
// edges (an aborted open returns to flat, an aborted close stays open).
var legalTransitions = map[PairState]map[PairState]bool{
	StateFlat:      {StateEntering: true},
	StateEntering:  {StateOpen: true, StateFlat: true},
	StateOpen:      {StateExiting: true},
	StateExiting:   {StateFlat: true, StateOpen: true, StateSwitching: true},
	StateSwitching: {StateEntering: true, StateFlat: true},
}

var legalOrderTransitions = map[types.OrderStatus]map[types.OrderStatus]bool{
	types.OrderPending: {
		types.OrderPartiallyFilled: true,
		types.OrderFilled:          true,
		types.OrderCanceled:        true,
		types.OrderRejected:        true,
	},
	types.OrderPartiallyFilled: {
		types.OrderPartiallyFilled: true,
		types.OrderFilled:          true,
		types.OrderCanceled:        true,
	},
}

// Snapshot is a consistent read of the store taken under one lock hold.
type Snapshot struct {
	Positions []types.Position
	Orders    []types.Order
	States    map[string]PairState
}

type Store struct {
	mu         sync.RWMutex
	positions  map[string]types.Position
	states     map[string]PairState
	orders     map[string]types.Order
	onTerminal func(types.Order)
}

func New() *Store {
	return &Store{
		positions: make(map[string]types.Position),
		states:    make(map[string]PairState),
		orders:    make(map[string]types.Order),
	}
}

// SetTerminalHook registers a callback invoked (outside the lock) whenever
// an order reaches a terminal status. Used for the audit log.
func (s *Store) SetTerminalHook(fn func(types.Order)) {
	s.mu.Lock()
	s.onTerminal = fn
	s.mu.Unlock()
}

func (s *Store) State(pair string) PairState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[pair]; ok {
		return st
	}
	return StateFlat
}

// Transition moves the pair to a new lifecycle state, enforcing the state
// machine. Illegal moves are programming errors surfaced to the caller.
func (s *Store) Transition(pair string, to PairState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, ok := s.states[pair]
	if !ok {
		from = StateFlat
	}
	if !legalTransitions[from][to] {
		return fmt.Errorf("store: illegal transition %s: %s -> %s", pair, from, to)
	}
	s.states[pair] = to
	return nil
}

// Position returns the settled position for the pair; a flat pair yields a
// zero-quantity position with side none.
func (s *Store) Position(pair string) types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.positions[pair]; ok {
		return p
	}
	return types.Position{Pair: pair, Side: types.PositionNone}
}

// Holding is the open quantity for the pair (0 when flat).
func (s *Store) Holding(pair string) float64 {
	p := s.Position(pair)
	if !p.IsOpen() {
		return 0
	}
	return p.Quantity
}

// OpenPosition records a settled position after the opening order's first
// confirmed fill. At most one non-none position may exist per pair.
func (s *Store) OpenPosition(p types.Position) error {
	if p.Side == types.PositionNone || p.Quantity <= 0 {
		return fmt.Errorf("store: refusing to open empty position for %s", p.Pair)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.positions[p.Pair]; ok && existing.IsOpen() {
		return fmt.Errorf("store: %s already holds a %s position", p.Pair, existing.Side)
	}
	s.positions[p.Pair] = p
	return nil
}

// ReducePosition shrinks the pair's open quantity after a partial close
// fill. A reduction to zero (or below) closes the position.
func (s *Store) ReducePosition(pair string, qty float64) error {
	if qty <= 0 {
		return fmt.Errorf("store: refusing to reduce %s by %f", pair, qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.positions[pair]
	if !ok || !existing.IsOpen() {
		return fmt.Errorf("store: %s has no open position to reduce", pair)
	}
	existing.Quantity -= qty
	if existing.Quantity <= 0 {
		s.positions[pair] = types.Position{Pair: pair, Side: types.PositionNone}
		return nil
	}
	s.positions[pair] = existing
	return nil
}

// ClosePosition resets the pair to no position after the closing order's
// confirmed fill.
func (s *Store) ClosePosition(pair string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.positions[pair]
	if !ok || !existing.IsOpen() {
		return fmt.Errorf("store: %s has no open position to close", pair)
	}
	s.positions[pair] = types.Position{Pair: pair, Side: types.PositionNone}
	return nil
}

// RecordOrder registers a freshly submitted order.
func (s *Store) RecordOrder(o types.Order) error {
	if o.ClientID == "" {
		return fmt.Errorf("store: order for %s missing client id", o.Pair)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ClientID]; exists {
		return fmt.Errorf("store: duplicate order %s", o.ClientID)
	}
	s.orders[o.ClientID] = o
	return nil
}

// UpdateOrder applies one order-status transition atomically. Readers never
// observe an order in two statuses; terminal orders are immutable and are
// retained for audit only.
func (s *Store) UpdateOrder(clientID string, status types.OrderStatus, executedQty, avgFill float64, updatedAt time.Time) (types.Order, error) {
	s.mu.Lock()
	o, ok := s.orders[clientID]
	if !ok {
		s.mu.Unlock()
		return types.Order{}, fmt.Errorf("store: unknown order %s", clientID)
	}
	if o.Status == status {
		// Terminal orders are immutable; a repeated terminal write is a
		// no-op so the terminal hook fires exactly once.
		if o.Status.Terminal() {
			s.mu.Unlock()
			return o, nil
		}
	} else if !legalOrderTransitions[o.Status][status] {
		s.mu.Unlock()
		return types.Order{}, fmt.Errorf("store: illegal order transition %s: %s -> %s", clientID, o.Status, status)
	}
	o.Status = status
	if executedQty > 0 {
		o.ExecutedQty = executedQty
	}
	if avgFill > 0 {
		o.AvgFill = avgFill
	}
	o.UpdatedAt = updatedAt
	s.orders[clientID] = o
	hook := s.onTerminal
	s.mu.Unlock()

	if status.Terminal() && hook != nil {
		hook(o)
	}
	return o, nil
}

func (s *Store) Order(clientID string) (types.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[clientID]
	return o, ok
}

// Snapshot returns a consistent copy of positions, orders and pair states.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Positions: make([]types.Position, 0, len(s.positions)),
		Orders:    make([]types.Order, 0, len(s.orders)),
		States:    make(map[string]PairState, len(s.states)),
	}
	for _, p := range s.positions {
		snap.Positions = append(snap.Positions, p)
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o)
	}
	for pair, st := range s.states {
		snap.States[pair] = st
	}
	return snap
}
