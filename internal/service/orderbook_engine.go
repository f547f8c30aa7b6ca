package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/feed"
	"github.com/alanyoungcy/ledgersync/internal/platform/horizon"
)

// OrderbookOptions configures an OrderbookEngine.
type OrderbookOptions struct {
	Pair     domain.AssetPair
	Source   OrderbookSource
	Stream   OrderbookStreamer
	Archiver TradeArchiver
	OnUpdate func()
	Logger   *slog.Logger

	// Now overrides the clock used for the trade fetch budget.
	Now func() time.Time
}

// OrderbookEngine owns the book of one pair and its derived trade series.
// An engine only moves from not ready to ready; selecting another pair
// builds a new engine.
type OrderbookEngine struct {
	pair     domain.AssetPair
	src      OrderbookSource
	stream   OrderbookStreamer
	archiver TradeArchiver
	onUpdate func()
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.RWMutex
	snap   domain.OrderbookSnapshot
	trades []domain.TradePoint
	closed bool

	releases feed.Releases
}

// NewOrderbookEngine creates an engine that is not ready until Start loads
// the first snapshot.
func NewOrderbookEngine(opts OrderbookOptions) *OrderbookEngine {
	if opts.OnUpdate == nil {
		opts.OnUpdate = func() {}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &OrderbookEngine{
		pair:     opts.Pair,
		src:      opts.Source,
		stream:   opts.Stream,
		archiver: opts.Archiver,
		onUpdate: opts.OnUpdate,
		now:      opts.Now,
		logger: opts.Logger.With(
			slog.String("component", "orderbook_engine"),
			slog.String("pair", opts.Pair.String()),
		),
		snap: domain.OrderbookSnapshot{Pair: opts.Pair},
	}
}

// Start loads the book, opens the live subscription and builds the trade
// series once.
func (e *OrderbookEngine) Start(ctx context.Context) error {
	ob, err := e.src.Orderbook(ctx, e.pair)
	if err != nil {
		return fmt.Errorf("orderbook_engine: load %s: %w", e.pair, err)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.snap.Bids = ob.Bids
	e.snap.Asks = ob.Asks
	e.snap.Ready = true
	e.mu.Unlock()
	e.onUpdate()

	if e.stream != nil {
		release, err := e.stream.Orderbook(ctx, e.pair, e.apply)
		if err != nil {
			return fmt.Errorf("orderbook_engine: subscribe %s: %w", e.pair, err)
		}
		e.releases.Add(release)
	}

	e.buildTrades(ctx)
	return nil
}

// apply replaces bids and asks individually and fires only on change.
func (e *OrderbookEngine) apply(next domain.OrderbookSnapshot) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	changed := false
	if !domain.LevelsEqual(e.snap.Bids, next.Bids) {
		e.snap.Bids = next.Bids
		changed = true
	}
	if !domain.LevelsEqual(e.snap.Asks, next.Asks) {
		e.snap.Asks = next.Asks
		changed = true
	}
	e.mu.Unlock()
	if changed {
		e.onUpdate()
	}
}

func (e *OrderbookEngine) buildTrades(ctx context.Context) {
	raw := e.FetchManyTrades(ctx)
	points := domain.BuildTradeSeries(raw)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.trades = points
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "trade series built",
		slog.Int("trades", len(raw)),
		slog.Int("points", len(points)),
	)
	e.onUpdate()

	if e.archiver != nil && len(points) > 0 {
		if err := e.archiver.ArchiveTrades(ctx, e.pair, points); err != nil {
			e.logger.WarnContext(ctx, "archive trade series failed", slog.String("error", err.Error()))
		}
	}
}

// FetchManyTrades pages through trade history newest first. It stops after
// a short page, after domain.MaxTradePages pages or once
// domain.TradeFetchBudget has elapsed, whichever comes first. A failed page
// ends pagination with what was already collected.
func (e *OrderbookEngine) FetchManyTrades(ctx context.Context) []domain.Trade {
	ctx, cancel := context.WithTimeout(ctx, domain.TradeFetchBudget)
	defer cancel()

	start := e.now()
	var (
		records []domain.Trade
		cursor  string
	)
	for page := 0; page < domain.MaxTradePages && e.now().Sub(start) < domain.TradeFetchBudget; page++ {
		res, err := e.src.Trades(ctx, e.pair, horizon.PageQuery{
			Cursor: cursor,
			Limit:  domain.TradePageSize,
			Order:  "desc",
		})
		if err != nil {
			e.logger.WarnContext(ctx, "trade page failed",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			break
		}
		records = append(records, res.Records...)
		if len(res.Records) < domain.TradePageSize || res.Next == "" {
			break
		}
		cursor = res.Next
	}
	return records
}

// Pair returns the pair this engine tracks.
func (e *OrderbookEngine) Pair() domain.AssetPair {
	return e.pair
}

// Ready reports whether the first snapshot has loaded.
func (e *OrderbookEngine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Ready
}

// Snapshot returns a copy of the current book.
func (e *OrderbookEngine) Snapshot() domain.OrderbookSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Clone()
}

// Trades returns the filtered price series in chronological order.
func (e *OrderbookEngine) Trades() []domain.TradePoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.TradePoint(nil), e.trades...)
}

// Close releases the live subscription. It is safe to call more than once.
func (e *OrderbookEngine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.releases.Release()
}
