package horizon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func TestLoadAccountNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":404}`, http.StatusNotFound)
	})

	_, err := c.LoadAccount(context.Background(), "0xabc")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestLoadAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/0xabc", r.URL.Path)
		_, _ = io.WriteString(w, `{
			"id": "0xabc", "sequence": "42", "subentry_count": 2,
			"balances": [
				{"asset_type": "credit_alphanum4", "asset_code": "USD", "asset_issuer": "GISS", "balance": "3.0000000", "limit": "100"},
				{"asset_type": "native", "balance": "100.0000000"}
			]
		}`)
	})

	snap, err := c.LoadAccount(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", snap.ID)
	assert.Equal(t, "42", snap.Sequence)
	assert.Equal(t, 2, snap.SubentryCount)
	require.Len(t, snap.Balances, 2)
	assert.Equal(t, domain.CreditAsset("USD", "GISS"), snap.Balances[0].Asset)
	assert.True(t, snap.Balances[1].Asset.IsNative())
}

func TestServerErrorIsTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Orderbook(context.Background(), domain.AssetPair{Base: domain.NativeAsset(), Counter: domain.CreditAsset("USD", "GISS")})
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestEffectsQueryAndParse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/0xabc/effects", r.URL.Path)
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"_embedded":{"records":[
			{"id":"0012-1","paging_token":"12-1","type":"account_credited","amount":"5","created_at":"2024-01-02T03:04:05Z"},
			{"id":"0012-2","paging_token":"12-2","type":"brand_new_kind"}
		]}}`)
	})

	recs, err := c.Effects(context.Background(), "0xabc", PageQuery{Limit: 10, Order: "desc"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.EffectAccountCredited, recs[0].Category)
	assert.Equal(t, "0012", recs[0].OperationID())
	assert.Equal(t, "5", recs[0].Fields["amount"])
	assert.Equal(t, 2024, recs[0].CreatedAt.Year())
	assert.Equal(t, domain.EffectUnknown, recs[1].Category)
}

func TestOperationHashFallsBackToLink(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"77","type":"payment","_links":{"transaction":{"href":"https://h/transactions/deadbeef"}}}`)
	})

	op, err := c.Operation(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, "payment", op.Type)
	assert.Equal(t, "deadbeef", op.TransactionHash)
}

func TestTradesCursorAndAssetParams(t *testing.T) {
	pair := domain.AssetPair{Base: domain.CreditAsset("USD", "GISS"), Counter: domain.NativeAsset()}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "credit_alphanum4", q.Get("base_asset_type"))
		assert.Equal(t, "USD", q.Get("base_asset_code"))
		assert.Equal(t, "native", q.Get("counter_asset_type"))
		assert.Empty(t, q.Get("counter_asset_code"))
		assert.Equal(t, "p1", q.Get("cursor"))
		_, _ = io.WriteString(w, `{"_embedded":{"records":[
			{"id":"t1","paging_token":"p2","ledger_close_time":"2024-01-01T00:00:00Z","bought_amount":"2","sold_amount":"1"},
			{"id":"t2","paging_token":"p3","ledger_close_time":"2024-01-01T00:01:00Z","bought_amount":"4","sold_amount":"2"}
		]}}`)
	})

	page, err := c.Trades(context.Background(), pair, PageQuery{Cursor: "p1", Limit: 200})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "p3", page.Next)
	assert.Equal(t, "2", page.Records[0].BoughtAmount)
}

func TestTradesEmptyPageHasNoCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"_embedded":{"records":[]}}`)
	})

	page, err := c.Trades(context.Background(), domain.AssetPair{}, PageQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Empty(t, page.Next)
}

func TestOrderbookUsesSellingBuying(t *testing.T) {
	pair := domain.AssetPair{Base: domain.CreditAsset("USD", "GISS"), Counter: domain.NativeAsset()}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "USD", q.Get("selling_asset_code"))
		assert.Equal(t, "native", q.Get("buying_asset_type"))
		_, _ = io.WriteString(w, `{"bids":[{"price":"1.5","amount":"10"}],"asks":[]}`)
	})

	ob, err := c.Orderbook(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, []domain.PriceLevel{{Price: "1.5", Amount: "10"}}, ob.Bids)
	assert.Empty(t, ob.Asks)
}

func TestSubmitTransaction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transactions", r.URL.Path)
		var signed domain.SignedEnvelope
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&signed))
		assert.Equal(t, int64(8), signed.Envelope.Sequence)
		_, _ = io.WriteString(w, `{"hash":"`+signed.Hash+`","ledger":"99","successful":true}`)
	})

	res, err := c.SubmitTransaction(context.Background(), domain.SignedEnvelope{
		Envelope: domain.Envelope{Source: "0xabc", Sequence: 8, Fee: domain.BaseFee},
		Hash:     "0xfeed",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", res.Hash)
	assert.Equal(t, int64(99), res.Ledger)
	assert.True(t, res.Successful)
}

func TestSubmitRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"hash":"h","successful":false}`)
	})

	res, err := c.SubmitTransaction(context.Background(), domain.SignedEnvelope{Hash: "h"})
	require.Error(t, err)
	assert.False(t, res.Successful)
}

type countingLimiter struct{ calls int }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(context.Context, string, int, time.Duration) error {
	l.calls++
	return nil
}

func TestClientWaitsOnLimiter(t *testing.T) {
	lim := &countingLimiter{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"bids":[],"asks":[]}`)
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, RequestsPerSecond: 5, Limiter: lim})

	_, err := c.Orderbook(context.Background(), domain.AssetPair{})
	require.NoError(t, err)
	assert.Equal(t, 1, lim.calls)
}
