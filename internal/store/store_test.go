package store

import (
	"testing"
	"time"

	"tradectl/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairStateMachine(t *testing.T) {
	s := New()
	pair := "BTC/USDT"

	assert.Equal(t, StateFlat, s.State(pair))
	require.NoError(t, s.Transition(pair, StateEntering))
	require.NoError(t, s.Transition(pair, StateOpen))
	require.NoError(t, s.Transition(pair, StateExiting))
	require.NoError(t, s.Transition(pair, StateFlat))

	// Flat cannot exit, open cannot re-enter.
	assert.Error(t, s.Transition(pair, StateExiting))
	require.NoError(t, s.Transition(pair, StateEntering))
	require.NoError(t, s.Transition(pair, StateOpen))
	assert.Error(t, s.Transition(pair, StateEntering))
}

func TestSwitchingPath(t *testing.T) {
	s := New()
	pair := "BTCDOWN/USDT"
	require.NoError(t, s.Transition(pair, StateEntering))
	require.NoError(t, s.Transition(pair, StateOpen))
	require.NoError(t, s.Transition(pair, StateExiting))
	require.NoError(t, s.Transition(pair, StateSwitching))
	require.NoError(t, s.Transition(pair, StateEntering))

	// Switching is only reachable from exiting.
	assert.Error(t, s.Transition("ETH/USDT", StateSwitching))
}

func TestSinglePositionPerPair(t *testing.T) {
	s := New()
	p := types.Position{Pair: "ADA/USDT", Side: types.PositionLong, Quantity: 10, EntryPrice: 1.0}
	require.NoError(t, s.OpenPosition(p))
	assert.Error(t, s.OpenPosition(p), "second open on the same pair must fail")

	require.NoError(t, s.ClosePosition("ADA/USDT"))
	assert.Error(t, s.ClosePosition("ADA/USDT"))
	assert.Equal(t, 0.0, s.Holding("ADA/USDT"))
}

func TestOrderTransitions(t *testing.T) {
	s := New()
	now := time.Now()
	o := types.Order{ClientID: "c1", Pair: "BTC/USDT", Side: types.SideBuy, Quantity: 1, Status: types.OrderPending, CreatedAt: now}
	require.NoError(t, s.RecordOrder(o))
	assert.Error(t, s.RecordOrder(o), "duplicate client id")

	got, err := s.UpdateOrder("c1", types.OrderPartiallyFilled, 0.4, 100, now)
	require.NoError(t, err)
	assert.Equal(t, types.OrderPartiallyFilled, got.Status)
	assert.Equal(t, 0.4, got.ExecutedQty)

	got, err = s.UpdateOrder("c1", types.OrderFilled, 1, 100, now)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())

	// Terminal orders are immutable.
	_, err = s.UpdateOrder("c1", types.OrderCanceled, 0, 0, now)
	assert.Error(t, err)
}

func TestTerminalHookFires(t *testing.T) {
	s := New()
	var audited []types.Order
	s.SetTerminalHook(func(o types.Order) { audited = append(audited, o) })

	now := time.Now()
	require.NoError(t, s.RecordOrder(types.Order{ClientID: "c1", Pair: "BTC/USDT", Status: types.OrderPending}))
	_, err := s.UpdateOrder("c1", types.OrderPartiallyFilled, 0.5, 100, now)
	require.NoError(t, err)
	assert.Empty(t, audited, "partial fill is not terminal")

	_, err = s.UpdateOrder("c1", types.OrderFilled, 1, 100, now)
	require.NoError(t, err)
	require.Len(t, audited, 1)
	assert.Equal(t, types.OrderFilled, audited[0].Status)

	// A repeated terminal write is a no-op and must not re-fire the hook.
	got, err := s.UpdateOrder("c1", types.OrderFilled, 1, 100, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, now, got.UpdatedAt)
	assert.Len(t, audited, 1)
}

func TestReducePosition(t *testing.T) {
	s := New()
	require.NoError(t, s.OpenPosition(types.Position{Pair: "BTC/USDT", Side: types.PositionLong, Quantity: 2, EntryPrice: 100}))

	require.NoError(t, s.ReducePosition("BTC/USDT", 0.5))
	assert.Equal(t, 1.5, s.Position("BTC/USDT").Quantity)

	// Reducing the rest closes the position.
	require.NoError(t, s.ReducePosition("BTC/USDT", 1.5))
	assert.False(t, s.Position("BTC/USDT").IsOpen())
	assert.Error(t, s.ReducePosition("BTC/USDT", 1), "nothing left to reduce")
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	s := New()
	require.NoError(t, s.OpenPosition(types.Position{Pair: "BTC/USDT", Side: types.PositionLong, Quantity: 1, EntryPrice: 100}))
	require.NoError(t, s.Transition("BTC/USDT", StateEntering))
	require.NoError(t, s.RecordOrder(types.Order{ClientID: "c1", Pair: "BTC/USDT", Status: types.OrderPending}))

	snap := s.Snapshot()
	require.Len(t, snap.Positions, 1)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, StateEntering, snap.States["BTC/USDT"])

	// Mutating the snapshot must not leak back into the store.
	snap.Positions[0].Quantity = 99
	assert.Equal(t, 1.0, s.Position("BTC/USDT").Quantity)
}
