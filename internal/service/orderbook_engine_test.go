package service

import (
	"context"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

var testPair = domain.AssetPair{Base: domain.NativeAsset(), Counter: domain.CreditAsset("USD", otherAccount)}

func fullPage(page int) []domain.Trade {
	out := make([]domain.Trade, domain.TradePageSize)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		n := page*domain.TradePageSize + i
		out[i] = domain.Trade{
			ID:              strconv.Itoa(n),
			PagingToken:     strconv.Itoa(n),
			LedgerCloseTime: base.Add(-time.Duration(n) * time.Minute),
			BoughtAmount:    "1",
			SoldAmount:      "1",
		}
	}
	return out
}

func newTestEngine(ledger *fakeLedger, stream *fakeStream, updates *counter) *OrderbookEngine {
	return NewOrderbookEngine(OrderbookOptions{
		Pair:     testPair,
		Source:   ledger,
		Stream:   stream,
		OnUpdate: updates.inc,
		Logger:   discardLogger(),
	})
}

func TestFetchManyTradesStopsAtPageLimit(t *testing.T) {
	ledger := newFakeLedger()
	for p := 0; p < 8; p++ {
		ledger.tradePages = append(ledger.tradePages, fullPage(p))
	}
	e := newTestEngine(ledger, newFakeStream(), &counter{})

	trades := e.FetchManyTrades(context.Background())
	assert.Len(t, trades, domain.MaxTradePages*domain.TradePageSize)
	assert.Equal(t, domain.MaxTradePages, ledger.tradeCalls)
}

func TestFetchManyTradesStopsOnShortPage(t *testing.T) {
	ledger := newFakeLedger()
	ledger.tradePages = [][]domain.Trade{fullPage(0), fullPage(1)[:50], fullPage(2)}
	e := newTestEngine(ledger, newFakeStream(), &counter{})

	trades := e.FetchManyTrades(context.Background())
	assert.Len(t, trades, domain.TradePageSize+50)
	assert.Equal(t, 2, ledger.tradeCalls)
}

func TestFetchManyTradesStopsAtTimeBudget(t *testing.T) {
	ledger := newFakeLedger()
	for p := 0; p < 8; p++ {
		ledger.tradePages = append(ledger.tradePages, fullPage(p))
	}
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger.onTrades = func() {
		mu.Lock()
		now = now.Add(3 * time.Second)
		mu.Unlock()
	}
	e := NewOrderbookEngine(OrderbookOptions{
		Pair:   testPair,
		Source: ledger,
		Logger: discardLogger(),
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		},
	})

	trades := e.FetchManyTrades(context.Background())
	assert.Equal(t, 2, ledger.tradeCalls)
	assert.Len(t, trades, 2*domain.TradePageSize)
}

func TestFetchManyTradesKeepsPagesBeforeError(t *testing.T) {
	ledger := newFakeLedger()
	ledger.tradePages = [][]domain.Trade{fullPage(0), fullPage(1), fullPage(2)}
	ledger.tradeErrAt = 1
	e := newTestEngine(ledger, newFakeStream(), &counter{})

	trades := e.FetchManyTrades(context.Background())
	assert.Len(t, trades, domain.TradePageSize)
}

func TestEngineStart(t *testing.T) {
	ledger := newFakeLedger()
	ledger.book = domain.OrderbookSnapshot{
		Bids: []domain.PriceLevel{{Price: "1", Amount: "10"}},
		Asks: []domain.PriceLevel{{Price: "2", Amount: "5"}},
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger.tradePages = [][]domain.Trade{{
		{ID: "a", LedgerCloseTime: base.Add(4 * time.Minute), BoughtAmount: "1.1", SoldAmount: "1"},
		{ID: "b", LedgerCloseTime: base.Add(3 * time.Minute), BoughtAmount: "3.5", SoldAmount: "1"},
		{ID: "c", LedgerCloseTime: base.Add(2 * time.Minute), BoughtAmount: "0", SoldAmount: "0"},
		{ID: "d", LedgerCloseTime: base.Add(1 * time.Minute), BoughtAmount: "1.05", SoldAmount: "1"},
		{ID: "e", LedgerCloseTime: base, BoughtAmount: "1", SoldAmount: "1"},
	}}
	stream := newFakeStream()
	updates := &counter{}
	e := newTestEngine(ledger, stream, updates)
	assert.False(t, e.Ready())

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.Ready())
	assert.Equal(t, 2, updates.get(), "snapshot load and trade series")

	points := e.Trades()
	require.Len(t, points, 3)
	prices := []float64{points[0].Price, points[1].Price, points[2].Price}
	assert.InDeltaSlice(t, []float64{1.0, 1.05, 1.1}, prices, 1e-9)
	for _, p := range points {
		assert.False(t, math.IsNaN(p.Price))
	}
	assert.True(t, points[0].Time.Before(points[2].Time))

	snap := e.Snapshot()
	stream.pushBook(testPair, snap)
	assert.Equal(t, 2, updates.get(), "identical book does not notify")

	snap.Asks = []domain.PriceLevel{{Price: "2", Amount: "4"}}
	stream.pushBook(testPair, snap)
	assert.Equal(t, 3, updates.get())
	assert.Equal(t, "4", e.Snapshot().Asks[0].Amount)
	assert.Equal(t, "10", e.Snapshot().Bids[0].Amount)

	e.Close()
	e.Close()
	assert.Equal(t, 1, stream.releases("book:"+testPair.String()))

	snap.Bids = nil
	stream.pushBook(testPair, snap)
	assert.Equal(t, 3, updates.get())
}

type recordingArchiver struct {
	pair   domain.AssetPair
	points []domain.TradePoint
}

func (a *recordingArchiver) ArchiveTrades(_ context.Context, pair domain.AssetPair, points []domain.TradePoint) error {
	a.pair, a.points = pair, points
	return nil
}

func TestEngineArchivesSeries(t *testing.T) {
	ledger := newFakeLedger()
	ledger.tradePages = [][]domain.Trade{fullPage(0)[:3]}
	arch := &recordingArchiver{}
	e := NewOrderbookEngine(OrderbookOptions{
		Pair:     testPair,
		Source:   ledger,
		Archiver: arch,
		Logger:   discardLogger(),
	})

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, arch.pair.Equal(testPair))
	assert.Len(t, arch.points, 3)
}
