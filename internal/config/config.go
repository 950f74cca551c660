package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads, decodes and validates the configuration file. Any validation
// failure aborts startup.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the file on change and applies the settings that are safe
// to adjust at runtime (currently the log level). Structural changes still
// require a restart.
func Watch(path string, onChange func(*Config)) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}
	if strings.TrimSpace(c.Exchange.RESTBaseURL) == "" {
		c.Exchange.RESTBaseURL = "https://api.binance.com"
	}
	if c.Exchange.HTTPTimeout <= 0 {
		c.Exchange.HTTPTimeout = 15 * time.Second
	}
	if strings.TrimSpace(c.Trading.QuoteAsset) == "" {
		c.Trading.QuoteAsset = "USDT"
	}
	if c.Trading.FillTimeout <= 0 {
		c.Trading.FillTimeout = 45 * time.Second
	}
	if c.Trading.PollInterval <= 0 {
		c.Trading.PollInterval = 2 * time.Second
	}
	if strings.TrimSpace(c.Bvlt.SwitchFillPolicy) == "" {
		c.Bvlt.SwitchFillPolicy = "wait"
	}
	for i := range c.Strategies {
		st := &c.Strategies[i]
		if strings.TrimSpace(st.OrderType) == "" {
			st.OrderType = "market"
		}
	}
}
