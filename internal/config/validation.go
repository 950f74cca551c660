package config

import (
	"fmt"
	"strings"

	"tradectl/internal/pkg/symbol"
	"tradectl/internal/scheduler"
)

var validSignals = map[string]bool{"cross": true, "trend": true, "macd": true}

func validate(c *Config) error {
	if len(c.Strategies) == 0 {
		return fmt.Errorf("strategies requires at least one entry")
	}
	if c.Trading.Capital < 0 {
		return fmt.Errorf("trading.capital must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Bvlt.SwitchFillPolicy)) {
	case "wait", "cancel":
	default:
		return fmt.Errorf("bvlt.switch_fill_policy must be wait or cancel, got %q", c.Bvlt.SwitchFillPolicy)
	}
	for i := range c.Strategies {
		if err := c.Strategies[i].validate(); err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
	}
	return nil
}

func (s *Strategy) validate() error {
	if strings.TrimSpace(s.Pairs) == "" {
		return fmt.Errorf("pairs cannot be empty")
	}
	if _, ok := scheduler.ParseIntervalDuration(s.TimeFrame); !ok {
		return fmt.Errorf("time_frame %q is not a valid interval", s.TimeFrame)
	}

	sig := strings.ToLower(strings.TrimSpace(s.Signals))
	if !validSignals[sig] {
		return fmt.Errorf("signals must be one of cross, trend, macd; got %q", s.Signals)
	}
	switch sig {
	case "cross":
		if s.Fast <= 0 || s.Slow <= 0 {
			return fmt.Errorf("cross signal requires fast and slow periods")
		}
		if s.Fast >= s.Slow {
			return fmt.Errorf("fast period (%d) must be below slow period (%d)", s.Fast, s.Slow)
		}
	case "trend":
		if s.Fast <= 0 {
			return fmt.Errorf("trend signal requires a fast period")
		}
	case "macd":
		if s.ConfirmationCandles < 0 || s.ConfirmationCandles > 10 {
			return fmt.Errorf("confirmation_candles must be in [0,10]")
		}
	}
	if s.ConfirmationCandles > 0 && sig != "macd" {
		return fmt.Errorf("confirmation_candles is set but signals is %q, not macd", s.Signals)
	}
	if s.MacdTrendMA > 0 && sig != "macd" {
		return fmt.Errorf("macd_trend_ma is set but signals is %q, not macd", s.Signals)
	}

	ot := strings.ToLower(strings.TrimSpace(s.OrderType))
	switch ot {
	case "market":
		if s.LimitOffset != 0 {
			return fmt.Errorf("limit_offset is set but order_type is market")
		}
	case "limit":
		if s.LimitOffset <= 0 {
			return fmt.Errorf("limit orders require a positive integer limit_offset")
		}
	default:
		return fmt.Errorf("order_type must be market or limit, got %q", s.OrderType)
	}

	if s.StopPercent < 0 || s.StopPercent > 100 {
		return fmt.Errorf("stop_percent must be a percentage in (0,100]")
	}
	if s.TakeProfitPercent < 0 || s.TakeProfitPercent > 100 {
		return fmt.Errorf("take_profit_percent must be a percentage in (0,100]")
	}
	if s.Leverage != 0 && (s.Leverage < 1 || s.Leverage > 10) {
		return fmt.Errorf("leverage must be in [1,10] or unset")
	}

	// The exchange's isolated-margin mechanics make stop orders unreliable
	// under leverage or short positions, so these are rejected at load time
	// rather than checked at runtime.
	if s.StopPercent > 0 && s.Leverage > 0 {
		return fmt.Errorf("stop_percent and leverage are mutually exclusive")
	}
	if s.StopPercent > 0 && s.Short {
		return fmt.Errorf("stop_percent and short are mutually exclusive")
	}

	for _, entry := range splitList(s.Pairs) {
		legs := splitLegs(entry)
		switch len(legs) {
		case 1:
			if symbol.Parse(legs[0]).Internal() == "" {
				return fmt.Errorf("invalid pair %q", legs[0])
			}
		case 3:
			if err := validateBvltLegs(legs); err != nil {
				return err
			}
			if s.Short || s.Leverage > 1 {
				return fmt.Errorf("bvlt entry %q cannot combine with short or leverage", entry)
			}
		default:
			return fmt.Errorf("pairs entry %q must name one pair or a primary:up:down triple", entry)
		}
	}
	return nil
}

func validateBvltLegs(legs []string) error {
	for _, leg := range legs {
		if symbol.Parse(leg).Internal() == "" {
			return fmt.Errorf("invalid pair %q", leg)
		}
	}
	if symbol.Parse(legs[0]).Leveraged() != symbol.LeveragedNone {
		return fmt.Errorf("bvlt primary %q must not be a leveraged token", legs[0])
	}
	if symbol.Parse(legs[1]).Leveraged() != symbol.LeveragedUp {
		return fmt.Errorf("bvlt up leg %q must be an UP token", legs[1])
	}
	if symbol.Parse(legs[2]).Leveraged() != symbol.LeveragedDown {
		return fmt.Errorf("bvlt down leg %q must be a DOWN token", legs[2])
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitLegs(entry string) []string {
	var out []string
	for _, part := range strings.Split(entry, ":") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
