package trader

import (
	"context"

	"tradectl/internal/executor"
	"tradectl/internal/gateway/exchange"
	"tradectl/internal/logger"
	"tradectl/internal/market"
	"tradectl/internal/store"
	"tradectl/internal/types"
)

// runStopMonitor watches live trade prices for every stop-armed pair and
// flattens breached positions with market orders. Stops run on ticks, not
// candle closes, so a fast move inside a candle still exits.
func (t *Trader) runStopMonitor(ctx context.Context, pairs []string) error {
	ch, err := t.deps.Source.SubscribeTicks(ctx, pairs, market.SubscribeOptions{
		OnConnect:    func() { logger.Infof("[stops] tick stream connected for %d pairs", len(pairs)) },
		OnDisconnect: func(err error) { logger.Warnf("[stops] tick stream disconnected: %v", err) },
	})
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			intent, fired := t.deps.Risk.OnTick(ev.Symbol, ev.Price)
			if !fired {
				continue
			}
			// Execute off the tick loop so one slow exit does not delay
			// stop checks on other pairs. The store's transition guard
			// makes duplicate fires harmless.
			go t.stopFlatten(ctx, intent)
		}
	}
}

func (t *Trader) stopFlatten(ctx context.Context, intent types.OrderIntent) {
	st := t.deps.Store
	pos := st.Position(intent.Pair)
	if err := st.Transition(intent.Pair, store.StateExiting); err != nil {
		logger.Debugf("[stops] %s already claimed: %v", intent.Pair, err)
		return
	}
	rules, err := t.deps.Exchange.Rules(ctx, intent.Pair)
	if err != nil {
		rules = exchange.Rules{Pair: intent.Pair}
	}
	// Stops always exit with market orders; a resting limit defeats the
	// point of a protective stop.
	order, err := t.deps.Exec.Execute(ctx, intent, executor.Options{
		Type:           types.OrderMarket,
		Rules:          rules,
		IsolatedMargin: pos.Leverage > 0 || pos.Side == types.PositionShort,
	})
	if err != nil || order.Status != types.OrderFilled {
		target := store.StateOpen
		if order.ExecutedQty > 0 {
			if rerr := st.ReducePosition(intent.Pair, order.ExecutedQty); rerr != nil {
				logger.Errorf("[stops] %s reduce after partial exit: %v", intent.Pair, rerr)
			}
			if st.Holding(intent.Pair) == 0 {
				target = store.StateFlat
			}
		}
		if terr := st.Transition(intent.Pair, target); terr != nil {
			logger.Errorf("[stops] %s revert: %v", intent.Pair, terr)
		}
		logger.Errorf("[stops] %s flatten failed (status=%s executed=%.8f): %v",
			intent.Pair, order.Status, order.ExecutedQty, err)
		return
	}
	if err := st.ClosePosition(intent.Pair); err != nil {
		logger.Errorf("[stops] %s close position: %v", intent.Pair, err)
		return
	}
	if err := st.Transition(intent.Pair, store.StateFlat); err != nil {
		logger.Errorf("[stops] %s settle: %v", intent.Pair, err)
	}
	logger.Warnf("[stops] %s stop-loss exit filled, qty=%.8f avg=%.8f", intent.Pair, order.ExecutedQty, order.AvgFill)
}
