// Package notifier pushes trade events to an external channel. A nil or
// unconfigured notifier is a no-op so callers never need to guard sends.
package notifier

import (
	"fmt"
	"strings"

	"tradectl/internal/types"
)

type Notifier interface {
	SendText(text string) error
}

// FormatOrder renders a terminal order as a compact alert message.
func FormatOrder(o types.Order) string {
	var b strings.Builder
	switch o.Status {
	case types.OrderFilled:
		fmt.Fprintf(&b, "✅ %s %s filled", strings.ToUpper(string(o.Side)), o.Pair)
	case types.OrderCanceled:
		fmt.Fprintf(&b, "⚠️ %s %s canceled", strings.ToUpper(string(o.Side)), o.Pair)
	case types.OrderRejected:
		fmt.Fprintf(&b, "🛑 %s %s rejected", strings.ToUpper(string(o.Side)), o.Pair)
	default:
		fmt.Fprintf(&b, "%s %s %s", strings.ToUpper(string(o.Side)), o.Pair, o.Status)
	}
	fmt.Fprintf(&b, "\nqty: %.8f", o.Quantity)
	if o.ExecutedQty > 0 {
		fmt.Fprintf(&b, "\nfilled: %.8f @ %.8f", o.ExecutedQty, o.AvgFill)
	}
	if o.Reason != "" {
		fmt.Fprintf(&b, "\nreason: %s", o.Reason)
	}
	return b.String()
}
