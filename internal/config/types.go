package config

import "time"

// Config is the full runtime configuration. Validation failures are fatal
// at startup; there is no partial-configuration running mode.
type Config struct {
	App        AppConfig      `toml:"app"`
	Exchange   ExchangeConfig `toml:"exchange"`
	Trading    TradingConfig  `toml:"trading"`
	Bvlt       BvltConfig     `toml:"bvlt"`
	Strategies []Strategy     `toml:"strategies"`
}

type AppConfig struct {
	LogLevel   string `toml:"log_level"`
	LogPath    string `toml:"log_path"`
	AuditDB    string `toml:"audit_db"`
	StatusAddr string `toml:"status_addr"`
	DryRun     bool   `toml:"dry_run"`

	// Telegram order alerts; both empty disables them.
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
}

type ExchangeConfig struct {
	APIKey      string        `toml:"api_key"`
	APISecret   string        `toml:"api_secret"`
	RESTBaseURL string        `toml:"rest_base_url"`
	HTTPTimeout time.Duration `toml:"http_timeout"`
}

type TradingConfig struct {
	// Capital is the quote-asset budget split across allocation slots.
	// Zero means "use the free balance fetched at cycle start".
	Capital       float64       `toml:"capital"`
	QuoteAsset    string        `toml:"quote_asset"`
	FillTimeout   time.Duration `toml:"fill_timeout"`
	PollInterval  time.Duration `toml:"poll_interval"`
	FlattenOnExit bool          `toml:"flatten_on_exit"`
}

// BvltConfig carries the leveraged-token switch policy. A switch Sell that
// partially fills before the deadline is a risk-policy decision, not a
// hardcoded behavior: "wait" keeps waiting for the deadline then cancels
// and reports, "cancel" cancels as soon as the deadline passes with any
// partial fill outstanding.
type BvltConfig struct {
	SwitchFillPolicy string `toml:"switch_fill_policy"`
}

// Strategy mirrors one configured strategy entry. Pairs is a comma list;
// an element with two colons ("BTC/USDT:BTCUP/USDT:BTCDOWN/USDT") enables
// BVLT mode for that allocation slot.
type Strategy struct {
	Pairs               string  `toml:"pairs"`
	TimeFrame           string  `toml:"time_frame"`
	Fast                int     `toml:"fast"`
	Slow                int     `toml:"slow"`
	EMA                 bool    `toml:"ema"`
	Signals             string  `toml:"signals"`
	OrderType           string  `toml:"order_type"`
	LimitOffset         int     `toml:"limit_offset"`
	StopPercent         float64 `toml:"stop_percent"`
	TakeProfitPercent   float64 `toml:"take_profit_percent"`
	Leverage            int     `toml:"leverage"`
	Short               bool    `toml:"short"`
	ConfirmationCandles int     `toml:"confirmation_candles"`
	MacdTrendMA         int     `toml:"macd_trend_ma"`
}

// BvltGroup names the three legs of a leveraged-token slot. Signals are
// computed on Primary; trades happen on Up and Down.
type BvltGroup struct {
	Primary string
	Up      string
	Down    string
}

// Slot is one capital allocation unit: either a single tradable pair or a
// BVLT triple occupying the slot with two tradable legs.
type Slot struct {
	Strategy *Strategy
	Pair     string
	Bvlt     *BvltGroup
}

func (s Slot) IsBvlt() bool { return s.Bvlt != nil }

// SignalPair is the pair whose candles drive the slot's signal engine.
func (s Slot) SignalPair() string {
	if s.Bvlt != nil {
		return s.Bvlt.Primary
	}
	return s.Pair
}

// TradePairs lists the pairs the slot may hold positions on.
func (s Slot) TradePairs() []string {
	if s.Bvlt != nil {
		return []string{s.Bvlt.Up, s.Bvlt.Down}
	}
	return []string{s.Pair}
}

// Slots flattens all strategy entries into allocation slots, in config
// order. Capital is split evenly across the result.
func (c *Config) Slots() []Slot {
	var out []Slot
	for i := range c.Strategies {
		st := &c.Strategies[i]
		for _, entry := range splitList(st.Pairs) {
			slot := Slot{Strategy: st}
			if legs := splitLegs(entry); len(legs) == 3 {
				slot.Bvlt = &BvltGroup{Primary: legs[0], Up: legs[1], Down: legs[2]}
			} else {
				slot.Pair = entry
			}
			out = append(out, slot)
		}
	}
	return out
}
