// Package trader runs one worker goroutine per allocation slot plus a
// shared stop-loss tick monitor. Workers own their pair's full decision
// path (candles, indicators, bias, sizing, execution); cross-worker
// coordination happens only through the state store's guarded transitions.
package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tradectl/internal/config"
	"tradectl/internal/executor"
	"tradectl/internal/gateway/exchange"
	"tradectl/internal/logger"
	"tradectl/internal/market"
	"tradectl/internal/portfolio"
	"tradectl/internal/risk"
	"tradectl/internal/store"
	"tradectl/internal/types"
)

// execEngine is the executor surface workers depend on.
type execEngine interface {
	Execute(ctx context.Context, intent types.OrderIntent, opts executor.Options) (types.Order, error)
}

type Deps struct {
	Cfg      *config.Config
	Source   market.Source
	Exchange exchange.Exchange
	Store    *store.Store
	Risk     *risk.Manager
	Exec     execEngine
	Alloc    *portfolio.Allocator
}

type Trader struct {
	deps  Deps
	slots []config.Slot
}

func New(deps Deps) *Trader {
	return &Trader{deps: deps, slots: deps.Cfg.Slots()}
}

// Run starts all slot workers and the stop monitor, blocking until the
// context is canceled or a worker fails fatally.
func (t *Trader) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, slot := range t.slots {
		slot := slot
		if slot.IsBvlt() {
			w, err := newBvltWorker(gctx, t.deps, slot)
			if err != nil {
				return err
			}
			g.Go(func() error { return w.run(gctx) })
			continue
		}
		w, err := newWorker(gctx, t.deps, slot)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.run(gctx) })
	}

	if pairs := t.stopMonitoredPairs(); len(pairs) > 0 {
		g.Go(func() error { return t.runStopMonitor(gctx, pairs) })
	}

	return g.Wait()
}

// Flatten market-closes every open position. Called on shutdown when
// flatten_on_exit is set; errors are logged per pair, not propagated, so
// one stuck pair cannot block the rest of the exit.
func (t *Trader) Flatten(ctx context.Context) {
	snap := t.deps.Store.Snapshot()
	for _, pos := range snap.Positions {
		if !pos.IsOpen() {
			continue
		}
		if err := t.flattenPosition(ctx, pos); err != nil {
			logger.Errorf("[trader] flatten %s: %v", pos.Pair, err)
		}
	}
}

func (t *Trader) flattenPosition(ctx context.Context, pos types.Position) error {
	if err := t.deps.Store.Transition(pos.Pair, store.StateExiting); err != nil {
		return err
	}
	side := types.SideSell
	if pos.Side == types.PositionShort {
		side = types.SideBuy
	}
	rules, err := t.deps.Exchange.Rules(ctx, pos.Pair)
	if err != nil {
		rules = exchange.Rules{Pair: pos.Pair}
	}
	order, err := t.deps.Exec.Execute(ctx, types.OrderIntent{
		Pair:     pos.Pair,
		Side:     side,
		Reason:   types.ReasonSignalClose,
		Quantity: pos.Quantity,
	}, executor.Options{
		Type:           types.OrderMarket,
		Rules:          rules,
		IsolatedMargin: pos.Leverage > 0 || pos.Side == types.PositionShort,
	})
	if err != nil || order.Status != types.OrderFilled {
		target := store.StateOpen
		if order.ExecutedQty > 0 {
			if rerr := t.deps.Store.ReducePosition(pos.Pair, order.ExecutedQty); rerr != nil {
				logger.Errorf("[trader] flatten reduce %s: %v", pos.Pair, rerr)
			}
			if t.deps.Store.Holding(pos.Pair) == 0 {
				target = store.StateFlat
			}
		}
		if terr := t.deps.Store.Transition(pos.Pair, target); terr != nil {
			logger.Errorf("[trader] flatten revert %s: %v", pos.Pair, terr)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("flatten order for %s ended %s", pos.Pair, order.Status)
	}
	if err := t.deps.Store.ClosePosition(pos.Pair); err != nil {
		return err
	}
	return t.deps.Store.Transition(pos.Pair, store.StateFlat)
}

// stopMonitoredPairs lists every trade pair whose strategy arms a stop.
func (t *Trader) stopMonitoredPairs() []string {
	var out []string
	seen := make(map[string]bool)
	for _, slot := range t.slots {
		if slot.Strategy.StopPercent <= 0 {
			continue
		}
		for _, pair := range slot.TradePairs() {
			if !seen[pair] {
				seen[pair] = true
				out = append(out, pair)
			}
		}
	}
	return out
}

// capitalBase resolves the budget split across slots: the configured
// capital, or the free quote balance fetched at decision time.
func capitalBase(ctx context.Context, deps Deps) float64 {
	if deps.Cfg.Trading.Capital > 0 {
		return deps.Cfg.Trading.Capital
	}
	quote := deps.Cfg.Trading.QuoteAsset
	free, err := deps.Exchange.Balance(ctx, quote)
	if err != nil {
		logger.Warnf("[trader] %s balance fetch failed, skipping cycle: %v", quote, err)
		return 0
	}
	return free
}

func marginMode(s *config.Strategy) bool {
	return s.Leverage > 0 || s.Short
}

func execOptions(s *config.Strategy, rules exchange.Rules) executor.Options {
	return executor.Options{
		Type:           types.OrderType(strings.ToLower(strings.TrimSpace(s.OrderType))),
		LimitOffset:    s.LimitOffset,
		Rules:          rules,
		IsolatedMargin: marginMode(s),
	}
}

func positionSide(side types.OrderSide) types.PositionSide {
	if side == types.SideSell {
		return types.PositionShort
	}
	return types.PositionLong
}

// openFromOrder builds the settled position for a filled entry order.
func openFromOrder(order types.Order, s *config.Strategy) types.Position {
	entry := order.AvgFill
	if entry <= 0 {
		entry = order.Price
	}
	side := positionSide(order.Side)
	return types.Position{
		Pair:       order.Pair,
		Side:       side,
		Quantity:   order.ExecutedQty,
		EntryPrice: entry,
		Leverage:   s.Leverage,
		StopPrice:  risk.StopPrice(side, entry, s.StopPercent),
		OpenedAt:   time.Now(),
	}
}
