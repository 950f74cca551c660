package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"

	"tradectl/internal/gateway/exchange"
	symbolpkg "tradectl/internal/pkg/symbol"
	"tradectl/internal/types"
)

// Client implements exchange.Exchange on the Binance spot and isolated
// margin REST APIs. Pairs listed in Config.MarginPairs are routed through
// their isolated-margin account; everything else trades spot.
type Client struct {
	cfg    Config
	api    *binance.Client
	margin map[string]bool

	rulesMu sync.Mutex
	rules   map[string]exchange.Rules
}

func NewClient(cfg Config) *Client {
	final := cfg.withDefaults()
	api := binance.NewClient(final.APIKey, final.APISecret)
	api.BaseURL = final.RESTBaseURL
	api.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	margin := make(map[string]bool, len(final.MarginPairs))
	for _, pair := range final.MarginPairs {
		margin[symbolpkg.ToExchange(pair)] = true
	}
	return &Client{
		cfg:    final,
		api:    api,
		margin: margin,
		rules:  make(map[string]exchange.Rules),
	}
}

func (c *Client) Name() string { return "binance" }

// Rules fetches and caches the pair's trading filters. Filters change only
// on exchange maintenance windows, so a process-lifetime cache is fine.
func (c *Client) Rules(ctx context.Context, pair string) (exchange.Rules, error) {
	clean := symbolpkg.ToExchange(pair)
	c.rulesMu.Lock()
	if r, ok := c.rules[clean]; ok {
		c.rulesMu.Unlock()
		return r, nil
	}
	c.rulesMu.Unlock()

	info, err := c.api.NewExchangeInfoService().Symbols(clean).Do(ctx)
	if err != nil {
		return exchange.Rules{}, fmt.Errorf("binance: exchange info %s: %w", pair, err)
	}
	for _, sym := range info.Symbols {
		if !strings.EqualFold(sym.Symbol, clean) {
			continue
		}
		r := exchange.Rules{Pair: pair}
		if f := sym.PriceFilter(); f != nil {
			r.TickSize = parseFloat(f.TickSize)
			r.PriceDecimals = decimalsOf(f.TickSize)
		}
		if f := sym.LotSizeFilter(); f != nil {
			r.LotStep = parseFloat(f.StepSize)
			r.MinQty = parseFloat(f.MinQuantity)
			r.QtyDecimals = decimalsOf(f.StepSize)
		}
		if f := sym.NotionalFilter(); f != nil {
			r.MinNotional = parseFloat(f.MinNotional)
		}
		c.rulesMu.Lock()
		c.rules[clean] = r
		c.rulesMu.Unlock()
		return r, nil
	}
	return exchange.Rules{}, fmt.Errorf("binance: symbol %s not found in exchange info", pair)
}

func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: account: %w", err)
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	for _, b := range acct.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

func (c *Client) LastPrice(ctx context.Context, pair string) (float64, error) {
	clean := symbolpkg.ToExchange(pair)
	prices, err := c.api.NewListPricesService().Symbol(clean).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: ticker price %s: %w", pair, err)
	}
	for _, p := range prices {
		if strings.EqualFold(p.Symbol, clean) {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("binance: ticker price %s not found", pair)
}

func (c *Client) IsolatedMarginBalance(ctx context.Context, pair string) (float64, error) {
	clean := symbolpkg.ToExchange(pair)
	acct, err := c.api.NewGetIsolatedMarginAccountService().Symbols(clean).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: isolated margin account %s: %w", pair, err)
	}
	for _, a := range acct.Assets {
		if strings.EqualFold(a.Symbol, clean) {
			return parseFloat(a.QuoteAsset.Free), nil
		}
	}
	return 0, fmt.Errorf("binance: isolated margin account %s not found", pair)
}

func (c *Client) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderState, error) {
	clean := symbolpkg.ToExchange(req.Pair)
	rules, err := c.Rules(ctx, req.Pair)
	if err != nil {
		return exchange.OrderState{}, err
	}
	qty := formatDecimal(req.Quantity, rules.QtyDecimals)

	if req.IsolatedMargin || c.margin[clean] {
		return c.submitMargin(ctx, req, clean, qty, rules)
	}

	svc := c.api.NewCreateOrderService().
		Symbol(clean).
		Side(sideType(req.Side)).
		Type(orderType(req.Type)).
		Quantity(qty).
		NewClientOrderID(req.ClientOrderID)
	if req.Type == types.OrderLimit {
		svc = svc.
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatDecimal(req.Price, rules.PriceDecimals))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderState{}, fmt.Errorf("binance: create order %s: %w", req.Pair, err)
	}
	executed := parseFloat(resp.ExecutedQuantity)
	return exchange.OrderState{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Status:        mapStatus(resp.Status),
		ExecutedQty:   executed,
		AvgFillPrice:  avgFill(parseFloat(resp.CummulativeQuoteQuantity), executed),
	}, nil
}

func (c *Client) submitMargin(ctx context.Context, req exchange.OrderRequest, clean, qty string, rules exchange.Rules) (exchange.OrderState, error) {
	sideEffect := binance.SideEffectTypeNoSideEffect
	if req.SideEffectAuto {
		if req.Side == types.SideBuy {
			sideEffect = binance.SideEffectTypeAutoRepay
		} else {
			sideEffect = binance.SideEffectTypeMarginBuy
		}
	}
	svc := c.api.NewCreateMarginOrderService().
		Symbol(clean).
		Side(sideType(req.Side)).
		Type(orderType(req.Type)).
		Quantity(qty).
		IsIsolated(true).
		SideEffectType(sideEffect).
		NewClientOrderID(req.ClientOrderID)
	if req.Type == types.OrderLimit {
		svc = svc.
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatDecimal(req.Price, rules.PriceDecimals))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderState{}, fmt.Errorf("binance: create margin order %s: %w", req.Pair, err)
	}
	executed := parseFloat(resp.ExecutedQuantity)
	return exchange.OrderState{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Status:        mapStatus(resp.Status),
		ExecutedQty:   executed,
		AvgFillPrice:  avgFill(parseFloat(resp.CummulativeQuoteQuantity), executed),
	}, nil
}

func (c *Client) OrderStatus(ctx context.Context, pair string, orderID int64) (exchange.OrderState, error) {
	clean := symbolpkg.ToExchange(pair)
	if c.margin[clean] {
		o, err := c.api.NewGetMarginOrderService().Symbol(clean).IsIsolated(true).OrderID(orderID).Do(ctx)
		if err != nil {
			return exchange.OrderState{}, fmt.Errorf("binance: margin order status %s/%d: %w", pair, orderID, err)
		}
		executed := parseFloat(o.ExecutedQuantity)
		return exchange.OrderState{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Status:        mapStatus(o.Status),
			ExecutedQty:   executed,
			AvgFillPrice:  avgFill(parseFloat(o.CummulativeQuoteQuantity), executed),
		}, nil
	}
	o, err := c.api.NewGetOrderService().Symbol(clean).OrderID(orderID).Do(ctx)
	if err != nil {
		return exchange.OrderState{}, fmt.Errorf("binance: order status %s/%d: %w", pair, orderID, err)
	}
	executed := parseFloat(o.ExecutedQuantity)
	return exchange.OrderState{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Status:        mapStatus(o.Status),
		ExecutedQty:   executed,
		AvgFillPrice:  avgFill(parseFloat(o.CummulativeQuoteQuantity), executed),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, pair string, orderID int64) error {
	clean := symbolpkg.ToExchange(pair)
	if c.margin[clean] {
		_, err := c.api.NewCancelMarginOrderService().Symbol(clean).IsIsolated(true).OrderID(orderID).Do(ctx)
		if err != nil {
			return fmt.Errorf("binance: cancel margin order %s/%d: %w", pair, orderID, err)
		}
		return nil
	}
	_, err := c.api.NewCancelOrderService().Symbol(clean).OrderID(orderID).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: cancel order %s/%d: %w", pair, orderID, err)
	}
	return nil
}

func (c *Client) CancelOpenOrders(ctx context.Context, pair string) error {
	clean := symbolpkg.ToExchange(pair)
	if c.margin[clean] {
		orders, err := c.api.NewListMarginOpenOrdersService().Symbol(clean).IsIsolated(true).Do(ctx)
		if err != nil {
			return fmt.Errorf("binance: list margin open orders %s: %w", pair, err)
		}
		for _, o := range orders {
			if err := c.CancelOrder(ctx, pair, o.OrderID); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := c.api.NewCancelOpenOrdersService().Symbol(clean).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "-2011") {
		// -2011 means nothing to cancel.
		return fmt.Errorf("binance: cancel open orders %s: %w", pair, err)
	}
	return nil
}

func sideType(s types.OrderSide) binance.SideType {
	if s == types.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func orderType(t types.OrderType) binance.OrderType {
	if t == types.OrderLimit {
		return binance.OrderTypeLimit
	}
	return binance.OrderTypeMarket
}

func mapStatus(s binance.OrderStatusType) types.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePendingCancel:
		return types.OrderPending
	case binance.OrderStatusTypePartiallyFilled:
		return types.OrderPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return types.OrderFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return types.OrderCanceled
	case binance.OrderStatusTypeRejected:
		return types.OrderRejected
	default:
		return types.OrderPending
	}
}

func avgFill(quoteQty, executed float64) float64 {
	if executed <= 0 {
		return 0
	}
	return quoteQty / executed
}

func formatDecimal(v float64, decimals int32) string {
	if decimals < 0 {
		decimals = 8
	}
	return strconv.FormatFloat(v, 'f', int(decimals), 64)
}

func decimalsOf(step string) int32 {
	step = strings.TrimRight(strings.TrimSpace(step), "0")
	i := strings.IndexByte(step, '.')
	if i < 0 {
		return 0
	}
	return int32(len(step) - i - 1)
}
