package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tradectl/internal/gateway/exchange"
	"tradectl/internal/store"
	"tradectl/internal/types"
)

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) Name() string { return "mock" }

func (m *mockExchange) Rules(ctx context.Context, pair string) (exchange.Rules, error) {
	args := m.Called(ctx, pair)
	return args.Get(0).(exchange.Rules), args.Error(1)
}

func (m *mockExchange) Balance(ctx context.Context, asset string) (float64, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockExchange) LastPrice(ctx context.Context, pair string) (float64, error) {
	args := m.Called(ctx, pair)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockExchange) IsolatedMarginBalance(ctx context.Context, pair string) (float64, error) {
	args := m.Called(ctx, pair)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockExchange) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderState, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderState), args.Error(1)
}

func (m *mockExchange) OrderStatus(ctx context.Context, pair string, orderID int64) (exchange.OrderState, error) {
	args := m.Called(ctx, pair, orderID)
	return args.Get(0).(exchange.OrderState), args.Error(1)
}

func (m *mockExchange) CancelOrder(ctx context.Context, pair string, orderID int64) error {
	return m.Called(ctx, pair, orderID).Error(0)
}

func (m *mockExchange) CancelOpenOrders(ctx context.Context, pair string) error {
	return m.Called(ctx, pair).Error(0)
}

func fastConfig() Config {
	return Config{FillTimeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond}
}

func buyIntent(reason types.IntentReason) types.OrderIntent {
	return types.OrderIntent{
		Pair:           "BTC/USDT",
		Side:           types.SideBuy,
		Reason:         reason,
		Quantity:       0.5,
		ReferencePrice: 100,
	}
}

func TestLimitPrice(t *testing.T) {
	rules := exchange.Rules{TickSize: 0.01, PriceDecimals: 2}

	assert.InDelta(t, 100.10, LimitPrice(types.SideBuy, 100, 10, rules), 1e-9)
	assert.InDelta(t, 99.90, LimitPrice(types.SideSell, 100, 10, rules), 1e-9)

	// Sub-tick close prices are floored to the quoted precision.
	assert.InDelta(t, 100.11, LimitPrice(types.SideBuy, 100.0199, 10, rules), 1e-9)

	// Zero offset keeps the close.
	assert.InDelta(t, 100.0, LimitPrice(types.SideBuy, 100, 0, rules), 1e-9)
}

func TestExecuteDryRun(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, Config{DryRun: true})

	order, err := e.Execute(context.Background(), buyIntent(types.ReasonSignalOpen), Options{Type: types.OrderMarket})
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)
	assert.InDelta(t, 0.5, order.ExecutedQty, 1e-9)
	assert.InDelta(t, 100.0, order.AvgFill, 1e-9)
	ex.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestExecuteMarketFillsSynchronously(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	ex.On("SubmitOrder", mock.Anything, mock.Anything).Return(exchange.OrderState{
		OrderID:      1,
		Status:       types.OrderFilled,
		ExecutedQty:  0.5,
		AvgFillPrice: 100.02,
	}, nil).Once()

	order, err := e.Execute(context.Background(), buyIntent(types.ReasonSignalOpen), Options{Type: types.OrderMarket})
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)
	assert.InDelta(t, 100.02, order.AvgFill, 1e-9)
	ex.AssertExpectations(t)
}

func TestExecuteLimitFillsAfterPolling(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	ex.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Type == types.OrderLimit && req.Price > 100
	})).Return(exchange.OrderState{OrderID: 7, Status: types.OrderPending}, nil).Once()
	ex.On("OrderStatus", mock.Anything, "BTC/USDT", int64(7)).Return(exchange.OrderState{
		OrderID: 7, Status: types.OrderPartiallyFilled, ExecutedQty: 0.2, AvgFillPrice: 100.05,
	}, nil).Once()
	ex.On("OrderStatus", mock.Anything, "BTC/USDT", int64(7)).Return(exchange.OrderState{
		OrderID: 7, Status: types.OrderFilled, ExecutedQty: 0.5, AvgFillPrice: 100.05,
	}, nil).Once()

	opts := Options{Type: types.OrderLimit, LimitOffset: 10, Rules: exchange.Rules{TickSize: 0.01, PriceDecimals: 2}}
	order, err := e.Execute(context.Background(), buyIntent(types.ReasonSignalOpen), opts)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)
	assert.InDelta(t, 0.5, order.ExecutedQty, 1e-9)
	ex.AssertExpectations(t)
}

func TestExecuteTimeoutCancelsAndRetriesOnce(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	// First attempt never fills and is canceled at the deadline.
	ex.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderState{OrderID: 1, Status: types.OrderPending}, nil).Once()
	ex.On("OrderStatus", mock.Anything, "BTC/USDT", int64(1)).
		Return(exchange.OrderState{OrderID: 1, Status: types.OrderPending}, nil)
	ex.On("CancelOrder", mock.Anything, "BTC/USDT", int64(1)).Return(nil).Once()

	// The retry fills immediately.
	ex.On("SubmitOrder", mock.Anything, mock.Anything).Return(exchange.OrderState{
		OrderID: 2, Status: types.OrderFilled, ExecutedQty: 0.5, AvgFillPrice: 100.1,
	}, nil).Once()

	order, err := e.Execute(context.Background(), buyIntent(types.ReasonSignalOpen), Options{Type: types.OrderMarket})
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)
	ex.AssertNumberOfCalls(t, "SubmitOrder", 2)
}

func TestExecuteRetryAccumulatesPartialFills(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	// Attempt one fills 0.2 of 0.5, then is canceled at the deadline.
	ex.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderState{OrderID: 8, Status: types.OrderPending}, nil).Once()
	ex.On("OrderStatus", mock.Anything, "BTC/USDT", int64(8)).
		Return(exchange.OrderState{OrderID: 8, Status: types.OrderPartiallyFilled, ExecutedQty: 0.2, AvgFillPrice: 100}, nil)
	ex.On("CancelOrder", mock.Anything, "BTC/USDT", int64(8)).Return(nil).Once()

	// The retry is submitted for the remainder only and fills it.
	ex.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Quantity > 0.29 && req.Quantity < 0.31
	})).Return(exchange.OrderState{
		OrderID: 9, Status: types.OrderFilled, ExecutedQty: 0.3, AvgFillPrice: 102,
	}, nil).Once()

	order, err := e.Execute(context.Background(), buyIntent(types.ReasonSignalOpen), Options{Type: types.OrderMarket})
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)

	// Both attempts' fills are on the books, at the blended price.
	assert.InDelta(t, 0.5, order.ExecutedQty, 1e-9)
	assert.InDelta(t, 101.2, order.AvgFill, 1e-9)
	assert.InDelta(t, 0.5, order.Quantity, 1e-9)
	ex.AssertExpectations(t)
}

func TestExecutePartialFillSurvivesFailedRetry(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	// Attempt one fills 0.2 and is canceled; the retry never fills at all.
	ex.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderState{OrderID: 11, Status: types.OrderPending}, nil).Once()
	ex.On("OrderStatus", mock.Anything, "BTC/USDT", int64(11)).
		Return(exchange.OrderState{OrderID: 11, Status: types.OrderPartiallyFilled, ExecutedQty: 0.2, AvgFillPrice: 100}, nil)
	ex.On("CancelOrder", mock.Anything, "BTC/USDT", int64(11)).Return(nil).Once()

	ex.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderState{OrderID: 12, Status: types.OrderPending}, nil).Once()
	ex.On("OrderStatus", mock.Anything, "BTC/USDT", int64(12)).
		Return(exchange.OrderState{OrderID: 12, Status: types.OrderPending}, nil)
	ex.On("CancelOrder", mock.Anything, "BTC/USDT", int64(12)).Return(nil).Once()

	order, err := e.Execute(context.Background(), buyIntent(types.ReasonSignalOpen), Options{Type: types.OrderMarket})
	require.ErrorIs(t, err, ErrUnfilled)

	// The failed Execute still reports the 0.2 the caller now holds.
	assert.InDelta(t, 0.2, order.ExecutedQty, 1e-9)
	assert.InDelta(t, 100.0, order.AvgFill, 1e-9)
}

func TestExecuteRetryRepricesFromFreshReference(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	var prices []float64
	ex.On("SubmitOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			prices = append(prices, args.Get(1).(exchange.OrderRequest).Price)
		}).
		Return(exchange.OrderState{OrderID: 10, Status: types.OrderPending}, nil).Times(2)
	ex.On("OrderStatus", mock.Anything, "BTC/USDT", int64(10)).
		Return(exchange.OrderState{OrderID: 10, Status: types.OrderPending}, nil)
	ex.On("CancelOrder", mock.Anything, "BTC/USDT", int64(10)).Return(nil).Times(2)

	// The market dropped to 98 while the stale 100-anchored limit rested.
	ex.On("LastPrice", mock.Anything, "BTC/USDT").Return(98.0, nil).Once()

	opts := Options{Type: types.OrderLimit, LimitOffset: 10, Rules: exchange.Rules{TickSize: 0.01, PriceDecimals: 2}}
	_, err := e.Execute(context.Background(), buyIntent(types.ReasonSignalOpen), opts)
	require.ErrorIs(t, err, ErrUnfilled)

	require.Len(t, prices, 2)
	assert.InDelta(t, 100.10, prices[0], 1e-9)
	assert.InDelta(t, 98.10, prices[1], 1e-9)
	ex.AssertExpectations(t)
}

func TestExecuteRejectedIsNotRetried(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	ex.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderState{OrderID: 3, Status: types.OrderRejected}, nil).Once()

	order, err := e.Execute(context.Background(), buyIntent(types.ReasonSignalOpen), Options{Type: types.OrderMarket})
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, types.OrderRejected, order.Status)
	ex.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestExecuteRotationTimeoutIsReportedNotRetried(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	ex.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderState{OrderID: 4, Status: types.OrderPending}, nil).Once()
	ex.On("OrderStatus", mock.Anything, "BTCDOWN/USDT", int64(4)).
		Return(exchange.OrderState{OrderID: 4, Status: types.OrderPending}, nil)
	ex.On("CancelOrder", mock.Anything, "BTCDOWN/USDT", int64(4)).Return(nil).Once()

	intent := types.OrderIntent{
		Pair:           "BTCDOWN/USDT",
		Side:           types.SideSell,
		Reason:         types.ReasonBvltSwitch,
		Quantity:       2,
		ReferencePrice: 5,
	}
	order, err := e.Execute(context.Background(), intent, Options{Type: types.OrderMarket})
	require.ErrorIs(t, err, ErrSwitchUnfilled)
	assert.Equal(t, types.OrderCanceled, order.Status)
	ex.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestExecuteExtendOnPartialGrantsSecondWindow(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	ex.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderState{OrderID: 5, Status: types.OrderPending}, nil).Once()
	ex.On("OrderStatus", mock.Anything, "BTCDOWN/USDT", int64(5)).
		Return(exchange.OrderState{OrderID: 5, Status: types.OrderPartiallyFilled, ExecutedQty: 1, AvgFillPrice: 5}, nil).Times(7)
	ex.On("OrderStatus", mock.Anything, "BTCDOWN/USDT", int64(5)).
		Return(exchange.OrderState{OrderID: 5, Status: types.OrderFilled, ExecutedQty: 2, AvgFillPrice: 5}, nil)

	intent := types.OrderIntent{
		Pair:           "BTCDOWN/USDT",
		Side:           types.SideSell,
		Reason:         types.ReasonBvltSwitch,
		Quantity:       2,
		ReferencePrice: 5,
	}
	order, err := e.Execute(context.Background(), intent, Options{Type: types.OrderMarket, ExtendOnPartial: true})
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)
	ex.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteSubmitErrorMarksRejected(t *testing.T) {
	ex := &mockExchange{}
	st := store.New()
	e := New(ex, st, fastConfig())

	ex.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderState{}, errors.New("connection reset"))

	order, err := e.Execute(context.Background(), buyIntent(types.ReasonBvltSwitch), Options{Type: types.OrderMarket})
	require.Error(t, err)
	assert.Equal(t, types.OrderRejected, order.Status)
}
