package binance

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"

	"tradectl/internal/types"
)

func TestDecimalsOf(t *testing.T) {
	assert.Equal(t, int32(2), decimalsOf("0.01000000"))
	assert.Equal(t, int32(3), decimalsOf("0.001"))
	assert.Equal(t, int32(0), decimalsOf("1.00000000"))
	assert.Equal(t, int32(0), decimalsOf("1"))
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "0.50", formatDecimal(0.5, 2))
	assert.Equal(t, "100", formatDecimal(100.4, 0))
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, types.OrderPending, mapStatus(binance.OrderStatusTypeNew))
	assert.Equal(t, types.OrderPartiallyFilled, mapStatus(binance.OrderStatusTypePartiallyFilled))
	assert.Equal(t, types.OrderFilled, mapStatus(binance.OrderStatusTypeFilled))
	assert.Equal(t, types.OrderCanceled, mapStatus(binance.OrderStatusTypeExpired))
	assert.Equal(t, types.OrderRejected, mapStatus(binance.OrderStatusTypeRejected))
}

func TestConvertKlineEvent(t *testing.T) {
	ev := &binance.WsKlineEvent{
		Symbol: "btcusdt",
		Kline: binance.WsKline{
			StartTime: 1000,
			EndTime:   1999,
			Interval:  "1H",
			Open:      "100.1",
			High:      "101",
			Low:       "99.5",
			Close:     "100.7",
			Volume:    "12.5",
			TradeNum:  42,
			IsFinal:   true,
		},
	}
	ce, ok := convertKlineEvent(ev)
	assert.True(t, ok)
	assert.Equal(t, "BTCUSDT", ce.Symbol)
	assert.Equal(t, "1h", ce.Interval)
	assert.True(t, ce.Final)
	assert.InDelta(t, 100.7, ce.Candle.Close, 1e-9)
	assert.EqualValues(t, 42, ce.Candle.Trades)

	_, ok = convertKlineEvent(nil)
	assert.False(t, ok)
}

func TestNextDelayCaps(t *testing.T) {
	d := time.Second
	for i := 0; i < 10; i++ {
		d = nextDelay(d)
	}
	assert.Equal(t, 30*time.Second, d)
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&Config{}).withDefaults()
	assert.Equal(t, "https://api.binance.com", cfg.RESTBaseURL)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
}

func TestAvgFill(t *testing.T) {
	assert.InDelta(t, 100.0, avgFill(50, 0.5), 1e-9)
	assert.Zero(t, avgFill(50, 0))
}
