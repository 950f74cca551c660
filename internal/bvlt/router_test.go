package bvlt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradectl/internal/config"
	"tradectl/internal/gateway/exchange"
	"tradectl/internal/signal"
	"tradectl/internal/types"
)

var testGroup = config.BvltGroup{Primary: "BTC/USDT", Up: "BTCUP/USDT", Down: "BTCDOWN/USDT"}

func testLegs() Legs {
	return Legs{
		UpPrice:   10,
		DownPrice: 5,
		UpRules:   exchange.Rules{LotStep: 0.01},
		DownRules: exchange.Rules{LotStep: 0.01},
	}
}

func TestPlanBullishFromFlat(t *testing.T) {
	r := NewRouter(testGroup)

	p, err := r.Plan(signal.Bullish, Holdings{}, testLegs(), 100)
	require.NoError(t, err)

	require.Nil(t, p.Sell)
	require.NotNil(t, p.Buy)
	assert.Equal(t, "BTCUP/USDT", p.Buy.Pair)
	assert.Equal(t, types.SideBuy, p.Buy.Side)
	assert.Equal(t, types.ReasonSignalOpen, p.Buy.Reason)
	assert.InDelta(t, 10.0, p.Buy.Quantity, 1e-9)
}

func TestPlanBullishRotatesOutOfDown(t *testing.T) {
	r := NewRouter(testGroup)

	p, err := r.Plan(signal.Bullish, Holdings{Down: 20}, testLegs(), 100)
	require.NoError(t, err)

	require.NotNil(t, p.Sell)
	assert.Equal(t, "BTCDOWN/USDT", p.Sell.Pair)
	assert.Equal(t, types.SideSell, p.Sell.Side)
	assert.Equal(t, types.ReasonBvltSwitch, p.Sell.Reason)
	assert.InDelta(t, 20.0, p.Sell.Quantity, 1e-9)

	require.NotNil(t, p.Buy)
	assert.Equal(t, "BTCUP/USDT", p.Buy.Pair)
	assert.Equal(t, types.ReasonBvltSwitch, p.Buy.Reason)
	assert.InDelta(t, 10.0, p.Buy.Quantity, 1e-9)
}

func TestPlanBearishRotatesOutOfUp(t *testing.T) {
	r := NewRouter(testGroup)

	p, err := r.Plan(signal.Bearish, Holdings{Up: 10}, testLegs(), 100)
	require.NoError(t, err)

	require.NotNil(t, p.Sell)
	assert.Equal(t, "BTCUP/USDT", p.Sell.Pair)
	require.NotNil(t, p.Buy)
	assert.Equal(t, "BTCDOWN/USDT", p.Buy.Pair)
	assert.InDelta(t, 20.0, p.Buy.Quantity, 1e-9)
}

func TestPlanHoldingTargetLegIsNoop(t *testing.T) {
	r := NewRouter(testGroup)

	p, err := r.Plan(signal.Bullish, Holdings{Up: 10}, testLegs(), 100)
	require.NoError(t, err)
	assert.True(t, p.Empty())

	p, err = r.Plan(signal.Bearish, Holdings{Down: 20}, testLegs(), 100)
	require.NoError(t, err)
	assert.True(t, p.Empty())
}

func TestPlanNeutralIsNoop(t *testing.T) {
	r := NewRouter(testGroup)

	p, err := r.Plan(signal.Neutral, Holdings{Down: 20}, testLegs(), 100)
	require.NoError(t, err)
	assert.True(t, p.Empty())
}

func TestPlanRejectsBothLegsHeld(t *testing.T) {
	r := NewRouter(testGroup)

	_, err := r.Plan(signal.Bullish, Holdings{Up: 1, Down: 1}, testLegs(), 100)
	require.ErrorIs(t, err, ErrBothLegsHeld)
}

func TestPlanSellSurvivesUnsizableBuy(t *testing.T) {
	r := NewRouter(testGroup)
	legs := testLegs()
	legs.UpRules.MinNotional = 1000

	p, err := r.Plan(signal.Bullish, Holdings{Down: 20}, legs, 100)
	require.NoError(t, err)

	require.NotNil(t, p.Sell)
	assert.Equal(t, "BTCDOWN/USDT", p.Sell.Pair)
	assert.Nil(t, p.Buy)
}

func TestPlanFromFlatUnsizableBuyErrors(t *testing.T) {
	r := NewRouter(testGroup)
	legs := testLegs()
	legs.UpRules.MinNotional = 1000

	_, err := r.Plan(signal.Bullish, Holdings{}, legs, 100)
	require.Error(t, err)
}

func TestFlatten(t *testing.T) {
	r := NewRouter(testGroup)

	p, err := r.Flatten(Holdings{Up: 10}, testLegs(), types.ReasonStopLoss)
	require.NoError(t, err)
	require.NotNil(t, p.Sell)
	assert.Equal(t, "BTCUP/USDT", p.Sell.Pair)
	assert.Equal(t, types.ReasonStopLoss, p.Sell.Reason)
	assert.Nil(t, p.Buy)

	p, err = r.Flatten(Holdings{}, testLegs(), types.ReasonSignalClose)
	require.NoError(t, err)
	assert.True(t, p.Empty())
}
