package trader

import (
	"context"
	"errors"
	"fmt"

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

// worker drives one standard (non-BVLT) allocation slot.
type worker struct {
	deps  Deps
	slot  config.Slot
	strat *config.Strategy

	ind   *indicator.Engine
	sig   *signal.Engine
	rules exchange.Rules
}

func newWorker(ctx context.Context, deps Deps, slot config.Slot) (*worker, error) {
	s := slot.Strategy
	rules, err := deps.Exchange.Rules(ctx, slot.Pair)
	if err != nil {
		return nil, fmt.Errorf("trader: rules for %s: %w", slot.Pair, err)
	}
	kind, err := signal.ParseKind(s.Signals)
	if err != nil {
		return nil, err
	}
	ind := indicator.New(indicatorConfig(s, kind))
	sig := signal.NewEngine(signal.Config{
		Pair:                slot.Pair,
		Kind:                kind,
		PriceDecimals:       rules.PriceDecimals,
		TrendGate:           s.MacdTrendMA > 0,
		ConfirmationCandles: s.ConfirmationCandles,
	})
	deps.Risk.Track(slot.Pair, risk.Params{
		StopPercent:       s.StopPercent,
		TakeProfitPercent: s.TakeProfitPercent,
	})
	return &worker{deps: deps, slot: slot, strat: s, ind: ind, sig: sig, rules: rules}, nil
}

func indicatorConfig(s *config.Strategy, kind signal.Kind) indicator.Config {
	return indicator.Config{
		Interval: s.TimeFrame,
		Fast:     s.Fast,
		Slow:     s.Slow,
		EMA:      s.EMA,
		MACD:     kind == signal.KindMacd,
		TrendMA:  s.MacdTrendMA,
	}
}

func (w *worker) run(ctx context.Context) error {
	if err := w.warmUp(ctx); err != nil {
		logger.Warnf("[trader] %s warm-up failed, continuing from live stream: %v", w.slot.Pair, err)
	}
	ch, err := w.deps.Source.SubscribeCandles(ctx, w.slot.Pair, w.strat.TimeFrame, market.SubscribeOptions{
		OnConnect:    func() { logger.Infof("[trader] %s %s stream connected", w.slot.Pair, w.strat.TimeFrame) },
		OnDisconnect: func(err error) { logger.Warnf("[trader] %s stream disconnected: %v", w.slot.Pair, err) },
	})
	if err != nil {
		return fmt.Errorf("trader: subscribe %s: %w", w.slot.Pair, err)
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

// warmUp seeds the indicator engine from REST history so the first live
// candle already produces a full snapshot.
func (w *worker) warmUp(ctx context.Context) error {
	history, err := w.deps.Source.FetchHistory(ctx, w.slot.Pair, w.strat.TimeFrame, w.ind.MinHistory())
	if err != nil {
		return err
	}
	w.ind.Reset()
	w.sig.Reset()
	w.ind.Warm(history)
	logger.Infof("[trader] %s warmed with %d candles", w.slot.Pair, w.ind.Len())
	return nil
}

func (w *worker) onCandle(ctx context.Context, c market.Candle) {
	snap, ok, err := w.ind.Push(c)
	if err != nil {
		if errors.Is(err, indicator.ErrGap) {
			logger.Warnf("[trader] %s candle gap detected, resyncing history", w.slot.Pair)
			if werr := w.warmUp(ctx); werr != nil {
				logger.Errorf("[trader] %s resync failed: %v", w.slot.Pair, werr)
			}
			return
		}
		logger.Errorf("[trader] %s indicator push: %v", w.slot.Pair, err)
		return
	}

	// Take-profit is an override: it closes on the candle boundary without
	// waiting for an opposite signal.
	if w.deps.Risk.TakeProfitHit(w.slot.Pair, c.Close) {
		logger.Infof("[trader] %s take-profit hit at %.8f", w.slot.Pair, c.Close)
		w.closePosition(ctx, c.Close)
		return
	}
	if !ok {
		return
	}
	bias, emitted := w.sig.OnSnapshot(snap)
	if !emitted {
		return
	}
	logger.Infof("[trader] %s bias %s at close %.8f", bias.Pair, bias.Direction, bias.ClosePrice)
	w.onBias(ctx, bias)
}

func (w *worker) onBias(ctx context.Context, bias signal.Bias) {
	base := capitalBase(ctx, w.deps)
	if base <= 0 {
		return
	}
	slotCapital := w.deps.Alloc.SlotCapital(base)
	pos := w.deps.Store.Position(w.slot.Pair)
	intents := w.deps.Alloc.Intents(bias, pos, slotCapital, w.rules, w.strat.Short)
	for _, intent := range intents {
		if err := w.applyIntent(ctx, intent); err != nil {
			logger.Errorf("[trader] %s %s (%s): %v", intent.Pair, intent.Side, intent.Reason, err)
			// A failed close aborts the open that was queued behind it.
			return
		}
	}
}

// closePosition flattens the slot's position outside the signal path
// (take-profit override).
func (w *worker) closePosition(ctx context.Context, refPrice float64) {
	pos := w.deps.Store.Position(w.slot.Pair)
	if !pos.IsOpen() {
		return
	}
	side := types.SideSell
	if pos.Side == types.PositionShort {
		side = types.SideBuy
	}
	err := w.applyIntent(ctx, types.OrderIntent{
		Pair:           w.slot.Pair,
		Side:           side,
		Reason:         types.ReasonSignalClose,
		Quantity:       pos.Quantity,
		ReferencePrice: refPrice,
	})
	if err != nil {
		logger.Errorf("[trader] %s take-profit close: %v", w.slot.Pair, err)
	}
}

// applyIntent runs one intent through the guarded state machine. Close
// intents claim Exiting before submitting and revert to Open on failure;
// open intents claim Entering and revert to Flat.
func (w *worker) applyIntent(ctx context.Context, intent types.OrderIntent) error {
	st := w.deps.Store
	opts := execOptions(w.strat, w.rules)

	switch intent.Reason {
	case types.ReasonSignalClose, types.ReasonStopLoss:
		if err := st.Transition(intent.Pair, store.StateExiting); err != nil {
			return err
		}
		order, err := w.deps.Exec.Execute(ctx, intent, opts)
		if err != nil || order.Status != types.OrderFilled {
			target := store.StateOpen
			if order.ExecutedQty > 0 {
				// Book the partial fill so a later close sells what is
				// actually still held.
				if rerr := st.ReducePosition(intent.Pair, order.ExecutedQty); rerr != nil {
					logger.Errorf("[trader] %s reduce after partial close: %v", intent.Pair, rerr)
				}
				if st.Holding(intent.Pair) == 0 {
					target = store.StateFlat
				}
			}
			if terr := st.Transition(intent.Pair, target); terr != nil {
				logger.Errorf("[trader] %s exit revert: %v", intent.Pair, terr)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("close order ended %s", order.Status)
		}
		if err := st.ClosePosition(intent.Pair); err != nil {
			return err
		}
		return st.Transition(intent.Pair, store.StateFlat)

	case types.ReasonSignalOpen:
		if err := st.Transition(intent.Pair, store.StateEntering); err != nil {
			return err
		}
		order, err := w.deps.Exec.Execute(ctx, intent, opts)
		if err != nil || order.Status != types.OrderFilled {
			if order.ExecutedQty > 0 {
				// The entry partially filled before the cancel: record the
				// position for what filled so the risk manager and the
				// shutdown flatten see the real holding.
				if perr := st.OpenPosition(openFromOrder(order, w.strat)); perr != nil {
					logger.Errorf("[trader] %s book partial entry: %v", intent.Pair, perr)
				}
				if terr := st.Transition(intent.Pair, store.StateOpen); terr != nil {
					logger.Errorf("[trader] %s settle partial entry: %v", intent.Pair, terr)
				}
				logger.Warnf("[trader] %s entry filled %.8f of %.8f before cancel, booked as position",
					intent.Pair, order.ExecutedQty, order.Quantity)
			} else if terr := st.Transition(intent.Pair, store.StateFlat); terr != nil {
				logger.Errorf("[trader] %s entry revert: %v", intent.Pair, terr)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("open order ended %s", order.Status)
		}
		if err := st.OpenPosition(openFromOrder(order, w.strat)); err != nil {
			return err
		}
		return st.Transition(intent.Pair, store.StateOpen)

	default:
		return fmt.Errorf("unexpected intent reason %q for standard slot", intent.Reason)
	}
}
