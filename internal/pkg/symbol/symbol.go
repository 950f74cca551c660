// Package symbol converts between pair names ("BTC/USDT") and exchange
// symbols ("BTCUSDT") and classifies leveraged-token pairs.
package symbol

import (
	"strings"
)

// LeveragedSide marks the direction of a leveraged-token base asset.
type LeveragedSide int

const (
	LeveragedNone LeveragedSide = iota
	LeveragedUp
	LeveragedDown
)

type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Leveraged reports whether the base asset is an UP or DOWN leveraged token.
func (s Symbol) Leveraged() LeveragedSide {
	switch {
	case strings.HasSuffix(s.Base, "UP"):
		return LeveragedUp
	case strings.HasSuffix(s.Base, "DOWN"):
		return LeveragedDown
	default:
		return LeveragedNone
	}
}

func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}

	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}

	quoteCurrencies := []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

// ToExchange converts a pair name to the Binance wire symbol.
func ToExchange(pair string) string {
	s := strings.ToUpper(strings.TrimSpace(pair))
	return strings.ReplaceAll(s, "/", "")
}

// FromExchange converts a Binance wire symbol back to a pair name.
func FromExchange(raw string) string {
	return Parse(raw).Internal()
}
