package market

import "context"

type CandleEvent struct {
	Symbol   string
	Interval string
	Final    bool
	Candle   Candle
}

type TickEvent struct {
	Symbol    string
	Price     float64
	Quantity  float64
	EventTime int64
	TradeTime int64
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Source abstracts the exchange market-data feed. Candle subscriptions are
// per pair and restartable: after a reconnect the stream re-delivers the
// boundary candle, so consumers must deduplicate on OpenTime.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	SubscribeCandles(ctx context.Context, symbol, interval string, opts SubscribeOptions) (<-chan CandleEvent, error)

	SubscribeTicks(ctx context.Context, symbols []string, opts SubscribeOptions) (<-chan TickEvent, error)

	Stats() SourceStats

	Close() error
}
