package trader

import (
	"context"
	"errors"
	"fmt"

	"tradectl/internal/bvlt"
	"tradectl/internal/config"
	"tradectl/internal/gateway/exchange"
	"tradectl/internal/indicator"
	"tradectl/internal/logger"
	"tradectl/internal/market"
	"tradectl/internal/risk"
	"tradectl/internal/signal"
	"tradectl/internal/store"
	"tradectl/internal/types"
)

// legPriceInterval is the interval used to fetch a fresh leg reference
// price ahead of a rotation.
const legPriceInterval = "1m"

// bvltWorker drives one leveraged-token slot. Bias comes from the primary
// pair's candles; trades rotate the UP and DOWN legs.
type bvltWorker struct {
	deps   Deps
	slot   config.Slot
	strat  *config.Strategy
	group  config.BvltGroup
	router *bvlt.Router

	ind *indicator.Engine
	sig *signal.Engine

	upRules   exchange.Rules
	downRules exchange.Rules
}

func newBvltWorker(ctx context.Context, deps Deps, slot config.Slot) (*bvltWorker, error) {
	s := slot.Strategy
	group := *slot.Bvlt
	upRules, err := deps.Exchange.Rules(ctx, group.Up)
	if err != nil {
		return nil, fmt.Errorf("trader: rules for %s: %w", group.Up, err)
	}
	downRules, err := deps.Exchange.Rules(ctx, group.Down)
	if err != nil {
		return nil, fmt.Errorf("trader: rules for %s: %w", group.Down, err)
	}
	primaryRules, err := deps.Exchange.Rules(ctx, group.Primary)
	if err != nil {
		return nil, fmt.Errorf("trader: rules for %s: %w", group.Primary, err)
	}
	kind, err := signal.ParseKind(s.Signals)
	if err != nil {
		return nil, err
	}
	ind := indicator.New(indicatorConfig(s, kind))
	sig := signal.NewEngine(signal.Config{
		Pair:                group.Primary,
		Kind:                kind,
		PriceDecimals:       primaryRules.PriceDecimals,
		TrendGate:           s.MacdTrendMA > 0,
		ConfirmationCandles: s.ConfirmationCandles,
	})
	params := risk.Params{StopPercent: s.StopPercent, TakeProfitPercent: s.TakeProfitPercent}
	deps.Risk.Track(group.Up, params)
	deps.Risk.Track(group.Down, params)
	return &bvltWorker{
		deps:      deps,
		slot:      slot,
		strat:     s,
		group:     group,
		router:    bvlt.NewRouter(group),
		ind:       ind,
		sig:       sig,
		upRules:   upRules,
		downRules: downRules,
	}, nil
}

func (w *bvltWorker) run(ctx context.Context) error {
	if err := w.warmUp(ctx); err != nil {
		logger.Warnf("[bvlt] %s warm-up failed, continuing from live stream: %v", w.group.Primary, err)
	}
	ch, err := w.deps.Source.SubscribeCandles(ctx, w.group.Primary, w.strat.TimeFrame, market.SubscribeOptions{
		OnConnect:    func() { logger.Infof("[bvlt] %s %s stream connected", w.group.Primary, w.strat.TimeFrame) },
		OnDisconnect: func(err error) { logger.Warnf("[bvlt] %s stream disconnected: %v", w.group.Primary, err) },
	})
	if err != nil {
		return fmt.Errorf("trader: subscribe %s: %w", w.group.Primary, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if !ev.Final {
				continue
			}
			w.onCandle(ctx, ev.Candle)
		}
	}
}

func (w *bvltWorker) warmUp(ctx context.Context) error {
	history, err := w.deps.Source.FetchHistory(ctx, w.group.Primary, w.strat.TimeFrame, w.ind.MinHistory())
	if err != nil {
		return err
	}
	w.ind.Reset()
	w.sig.Reset()
	w.ind.Warm(history)
	logger.Infof("[bvlt] %s warmed with %d candles", w.group.Primary, w.ind.Len())
	return nil
}

func (w *bvltWorker) onCandle(ctx context.Context, c market.Candle) {
	snap, ok, err := w.ind.Push(c)
	if err != nil {
		if errors.Is(err, indicator.ErrGap) {
			logger.Warnf("[bvlt] %s candle gap detected, resyncing history", w.group.Primary)
			if werr := w.warmUp(ctx); werr != nil {
				logger.Errorf("[bvlt] %s resync failed: %v", w.group.Primary, werr)
			}
			return
		}
		logger.Errorf("[bvlt] %s indicator push: %v", w.group.Primary, err)
		return
	}
	if !ok {
		return
	}
	bias, emitted := w.sig.OnSnapshot(snap)
	if !emitted {
		return
	}
	logger.Infof("[bvlt] %s bias %s at close %.8f", bias.Pair, bias.Direction, bias.ClosePrice)
	w.rotate(ctx, bias.Direction)
}

// rotate sells the stale leg to completion, then buys the target leg. A
// sell that cannot be confirmed filled aborts the cycle: the buy never
// runs with the old leg still (partially) held.
func (w *bvltWorker) rotate(ctx context.Context, dir signal.Direction) {
	base := capitalBase(ctx, w.deps)
	if base <= 0 {
		return
	}
	legs, err := w.legQuotes(ctx)
	if err != nil {
		logger.Errorf("[bvlt] %s leg quotes: %v", w.group.Primary, err)
		return
	}
	holdings := bvlt.Holdings{
		Up:   w.deps.Store.Holding(w.group.Up),
		Down: w.deps.Store.Holding(w.group.Down),
	}
	plan, err := w.router.Plan(dir, holdings, legs, w.deps.Alloc.SlotCapital(base))
	if err != nil {
		logger.Errorf("[bvlt] %s plan: %v", w.group.Primary, err)
		return
	}
	if plan.Empty() {
		return
	}

	switched := false
	if plan.Sell != nil {
		if !w.executeSell(ctx, *plan.Sell) {
			return
		}
		switched = true
	}
	if plan.Buy != nil {
		w.executeBuy(ctx, *plan.Buy)
	}
	if switched {
		// Switching -> Flat releases the old leg whatever the buy did.
		if err := w.deps.Store.Transition(plan.Sell.Pair, store.StateFlat); err != nil {
			logger.Errorf("[bvlt] %s release: %v", plan.Sell.Pair, err)
		}
	}
}

// executeSell confirms the full exit of the held leg. On success the leg
// parks in Switching until the rotation completes.
func (w *bvltWorker) executeSell(ctx context.Context, intent types.OrderIntent) bool {
	st := w.deps.Store
	if err := st.Transition(intent.Pair, store.StateExiting); err != nil {
		logger.Errorf("[bvlt] %s claim exit: %v", intent.Pair, err)
		return false
	}
	opts := execOptions(w.strat, w.rulesFor(intent.Pair))
	opts.ExtendOnPartial = w.deps.Cfg.Bvlt.SwitchFillPolicy == "wait"
	order, err := w.deps.Exec.Execute(ctx, intent, opts)
	if err != nil || order.Status != types.OrderFilled {
		target := store.StateOpen
		if order.ExecutedQty > 0 {
			if rerr := st.ReducePosition(intent.Pair, order.ExecutedQty); rerr != nil {
				logger.Errorf("[bvlt] %s reduce after partial sell: %v", intent.Pair, rerr)
			}
			if st.Holding(intent.Pair) == 0 {
				target = store.StateFlat
			}
		}
		if terr := st.Transition(intent.Pair, target); terr != nil {
			logger.Errorf("[bvlt] %s exit revert: %v", intent.Pair, terr)
		}
		logger.Errorf("[bvlt] rotation sell %s missed (status=%s executed=%.8f): %v",
			intent.Pair, order.Status, order.ExecutedQty, err)
		return false
	}
	if err := st.ClosePosition(intent.Pair); err != nil {
		logger.Errorf("[bvlt] %s close position: %v", intent.Pair, err)
		return false
	}
	if err := st.Transition(intent.Pair, store.StateSwitching); err != nil {
		logger.Errorf("[bvlt] %s park switching: %v", intent.Pair, err)
		return false
	}
	return true
}

func (w *bvltWorker) executeBuy(ctx context.Context, intent types.OrderIntent) {
	st := w.deps.Store
	if err := st.Transition(intent.Pair, store.StateEntering); err != nil {
		logger.Errorf("[bvlt] %s claim entry: %v", intent.Pair, err)
		return
	}
	order, err := w.deps.Exec.Execute(ctx, intent, execOptions(w.strat, w.rulesFor(intent.Pair)))
	if err != nil || order.Status != types.OrderFilled {
		if order.ExecutedQty > 0 {
			if perr := st.OpenPosition(openFromOrder(order, w.strat)); perr != nil {
				logger.Errorf("[bvlt] %s book partial entry: %v", intent.Pair, perr)
			}
			if terr := st.Transition(intent.Pair, store.StateOpen); terr != nil {
				logger.Errorf("[bvlt] %s settle partial entry: %v", intent.Pair, terr)
			}
		} else if terr := st.Transition(intent.Pair, store.StateFlat); terr != nil {
			logger.Errorf("[bvlt] %s entry revert: %v", intent.Pair, terr)
		}
		logger.Errorf("[bvlt] rotation buy %s missed (status=%s executed=%.8f): %v",
			intent.Pair, order.Status, order.ExecutedQty, err)
		return
	}
	if err := st.OpenPosition(openFromOrder(order, w.strat)); err != nil {
		logger.Errorf("[bvlt] %s open position: %v", intent.Pair, err)
		return
	}
	if err := st.Transition(intent.Pair, store.StateOpen); err != nil {
		logger.Errorf("[bvlt] %s settle entry: %v", intent.Pair, err)
	}
}

// legQuotes fetches fresh reference prices for both legs.
func (w *bvltWorker) legQuotes(ctx context.Context) (bvlt.Legs, error) {
	up, err := w.lastClose(ctx, w.group.Up)
	if err != nil {
		return bvlt.Legs{}, err
	}
	down, err := w.lastClose(ctx, w.group.Down)
	if err != nil {
		return bvlt.Legs{}, err
	}
	return bvlt.Legs{
		UpPrice:   up,
		DownPrice: down,
		UpRules:   w.upRules,
		DownRules: w.downRules,
	}, nil
}

func (w *bvltWorker) lastClose(ctx context.Context, pair string) (float64, error) {
	candles, err := w.deps.Source.FetchHistory(ctx, pair, legPriceInterval, 2)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no recent candles for %s", pair)
	}
	return candles[len(candles)-1].Close, nil
}

func (w *bvltWorker) rulesFor(pair string) exchange.Rules {
	if pair == w.group.Down {
		return w.downRules
	}
	return w.upRules
}
