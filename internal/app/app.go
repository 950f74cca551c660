// Package app wires configuration, gateways, the state store and the
// trading workers into one runnable unit.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tradectl/internal/config"
	"tradectl/internal/executor"
	"tradectl/internal/gateway/binance"
	"tradectl/internal/gateway/notifier"
	"tradectl/internal/logger"
	"tradectl/internal/portfolio"
	"tradectl/internal/risk"
	"tradectl/internal/store"
	"tradectl/internal/store/audit"
	"tradectl/internal/trader"
	"tradectl/internal/transport/http/status"
	"tradectl/internal/types"
)

type App struct {
	cfg    *config.Config
	trader *trader.Trader
	status *status.Server
	audit  *audit.Store
	source *binance.Source
}

// New builds the application object without starting anything.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	gwCfg := binance.Config{
		APIKey:      cfg.Exchange.APIKey,
		APISecret:   cfg.Exchange.APISecret,
		RESTBaseURL: cfg.Exchange.RESTBaseURL,
		HTTPTimeout: cfg.Exchange.HTTPTimeout,
		MarginPairs: marginPairs(cfg),
	}
	source := binance.NewSource(gwCfg)
	client := binance.NewClient(gwCfg)

	st := store.New()

	var auditStore *audit.Store
	if cfg.App.AuditDB != "" {
		var err error
		auditStore, err = audit.Open(cfg.App.AuditDB)
		if err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
	}
	var notify notifier.Notifier
	if cfg.App.TelegramToken != "" && cfg.App.TelegramChatID != "" {
		notify = notifier.NewTelegram(cfg.App.TelegramToken, cfg.App.TelegramChatID)
	}
	if auditStore != nil || notify != nil {
		st.SetTerminalHook(func(o types.Order) {
			if auditStore != nil {
				if err := auditStore.RecordOrder(context.Background(), o); err != nil {
					logger.Errorf("[app] audit write %s: %v", o.ClientID, err)
				}
			}
			if notify != nil {
				// Off the execution path; telegram retries can take seconds.
				go func(o types.Order) {
					if err := notify.SendText(notifier.FormatOrder(o)); err != nil {
						logger.Warnf("[app] telegram notify: %v", err)
					}
				}(o)
			}
		})
	}

	slots := cfg.Slots()
	exec := executor.New(client, st, executor.Config{
		FillTimeout:  cfg.Trading.FillTimeout,
		PollInterval: cfg.Trading.PollInterval,
		DryRun:       cfg.App.DryRun,
	})
	deps := trader.Deps{
		Cfg:      cfg,
		Source:   source,
		Exchange: client,
		Store:    st,
		Risk:     risk.NewManager(st),
		Exec:     exec,
		Alloc:    portfolio.NewAllocator(len(slots)),
	}

	a := &App{
		cfg:    cfg,
		trader: trader.New(deps),
		audit:  auditStore,
		source: source,
	}
	if cfg.App.StatusAddr != "" {
		srv, err := status.NewServer(status.Config{
			Addr:  cfg.App.StatusAddr,
			Store: st,
			Audit: auditStore,
			Feed:  source,
		})
		if err != nil {
			return nil, err
		}
		a.status = srv
	}
	return a, nil
}

// Run starts the workers and the status server, blocking until a signal
// arrives or a component fails. When flatten_on_exit is set the shutdown
// path market-closes every open position before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.trader.Run(gctx) })
	if a.status != nil {
		g.Go(func() error { return a.status.Run(gctx) })
	}

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		logger.Errorf("[app] terminated: %v", err)
	}

	if a.cfg.Trading.FlattenOnExit {
		logger.Infof("[app] flattening open positions before exit")
		flattenCtx, cancel := context.WithTimeout(context.Background(), 2*a.cfg.Trading.FillTimeout)
		a.trader.Flatten(flattenCtx)
		cancel()
	}
	if cerr := a.source.Close(); cerr != nil {
		logger.Warnf("[app] feed close: %v", cerr)
	}
	if a.audit != nil {
		if cerr := a.audit.Close(); cerr != nil {
			logger.Warnf("[app] audit close: %v", cerr)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// marginPairs lists every trade pair whose strategy runs on the isolated
// margin account.
func marginPairs(cfg *config.Config) []string {
	var out []string
	for _, slot := range cfg.Slots() {
		s := slot.Strategy
		if s.Leverage > 0 || s.Short {
			out = append(out, slot.TradePairs()...)
		}
	}
	return out
}
