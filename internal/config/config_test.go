package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const baseConfig = `
[app]
log_level = "debug"

[trading]
capital = 100.0

[[strategies]]
pairs = "ADA/USDT,BTC/USDT"
time_frame = "1h"
fast = 7
slow = 25
ema = true
signals = "cross"
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)

	slots := cfg.Slots()
	require.Len(t, slots, 2)
	assert.Equal(t, "ADA/USDT", slots[0].Pair)
	assert.Equal(t, "BTC/USDT", slots[1].Pair)
	assert.False(t, slots[0].IsBvlt())
	assert.Equal(t, "market", slots[0].Strategy.OrderType)
	assert.Equal(t, "wait", cfg.Bvlt.SwitchFillPolicy)
	assert.Equal(t, 100.0, cfg.Trading.Capital)
}

func TestLoadBvltSlot(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[[strategies]]
pairs = "BTC/USDT:BTCUP/USDT:BTCDOWN/USDT"
time_frame = "4h"
fast = 7
slow = 25
signals = "cross"
`))
	require.NoError(t, err)

	slots := cfg.Slots()
	require.Len(t, slots, 1)
	require.True(t, slots[0].IsBvlt())
	assert.Equal(t, "BTC/USDT", slots[0].Bvlt.Primary)
	assert.Equal(t, "BTCUP/USDT", slots[0].Bvlt.Up)
	assert.Equal(t, "BTCDOWN/USDT", slots[0].Bvlt.Down)
	assert.Equal(t, "BTC/USDT", slots[0].SignalPair())
	assert.Equal(t, []string{"BTCUP/USDT", "BTCDOWN/USDT"}, slots[0].TradePairs())
}

func TestValidationRejections(t *testing.T) {
	cases := map[string]string{
		"stop and leverage": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
stop_percent = 5.0
leverage = 3
`,
		"stop and leverage one": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
stop_percent = 5.0
leverage = 1
`,
		"stop and short": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
stop_percent = 5.0
short = true
`,
		"limit without offset": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
order_type = "limit"
`,
		"offset without limit": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
limit_offset = 10
`,
		"unknown signal": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "rsi"
`,
		"fast above slow": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "1h"
fast = 25
slow = 7
signals = "cross"
`,
		"bad timeframe": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "fortnight"
fast = 7
slow = 25
signals = "cross"
`,
		"confirmation without macd": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
confirmation_candles = 3
`,
		"bvlt two legs": `
[[strategies]]
pairs = "BTC/USDT:BTCUP/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
`,
		"bvlt wrong token order": `
[[strategies]]
pairs = "BTC/USDT:BTCDOWN/USDT:BTCUP/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
`,
		"bvlt with short": `
[[strategies]]
pairs = "BTC/USDT:BTCUP/USDT:BTCDOWN/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
short = true
`,
		"leverage out of range": `
[[strategies]]
pairs = "BTC/USDT"
time_frame = "1h"
fast = 7
slow = 25
signals = "cross"
leverage = 20
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadLimitStrategy(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[[strategies]]
pairs = "ETH/USDT"
time_frame = "15m"
fast = 12
slow = 26
signals = "macd"
order_type = "limit"
limit_offset = 10
confirmation_candles = 3
macd_trend_ma = 50
`))
	require.NoError(t, err)
	st := cfg.Strategies[0]
	assert.Equal(t, 10, st.LimitOffset)
	assert.Equal(t, 3, st.ConfirmationCandles)
	assert.Equal(t, 50, st.MacdTrendMA)
}
