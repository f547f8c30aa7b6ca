package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/platform/horizon"
)

type fakeSubscriber struct {
	handlers map[string]horizon.RecordHandler
	cursors  map[string]string
	released map[string]int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		handlers: map[string]horizon.RecordHandler{},
		cursors:  map[string]string{},
		released: map[string]int{},
	}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, resource, cursor string, h horizon.RecordHandler) (func(), error) {
	f.handlers[resource] = h
	f.cursors[resource] = cursor
	return func() { f.released[resource]++ }, nil
}

func (f *fakeSubscriber) push(t *testing.T, resource string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	h, ok := f.handlers[resource]
	require.True(t, ok, "no subscription for %s", resource)
	h(raw)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLedgerStreamAccount(t *testing.T) {
	sub := newFakeSubscriber()
	s := NewLedgerStream(sub, discardLogger())

	var got []domain.AccountSnapshot
	release, err := s.Account(context.Background(), "0xabc", func(a domain.AccountSnapshot) { got = append(got, a) })
	require.NoError(t, err)

	sub.push(t, "accounts/0xabc", map[string]any{
		"id": "0xabc", "sequence": "7", "subentry_count": 1,
		"balances": []map[string]any{{"asset_type": "native", "balance": "12.5"}},
	})
	sub.handlers["accounts/0xabc"](json.RawMessage(`not json`))

	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].Sequence)
	assert.Equal(t, "12.5", got[0].NativeBalance().String())

	release()
	assert.Equal(t, 1, sub.released["accounts/0xabc"])
}

func TestLedgerStreamEffectsStartsAtNow(t *testing.T) {
	sub := newFakeSubscriber()
	s := NewLedgerStream(sub, discardLogger())

	var got []domain.EffectRecord
	_, err := s.Effects(context.Background(), "0xabc", func(e domain.EffectRecord) { got = append(got, e) })
	require.NoError(t, err)
	assert.Equal(t, "now", sub.cursors["accounts/0xabc/effects"])

	sub.push(t, "accounts/0xabc/effects", map[string]any{"id": "5-1", "type": "account_credited", "amount": "1"})
	sub.push(t, "accounts/0xabc/effects", map[string]any{"type": "account_debited"})

	require.Len(t, got, 1)
	assert.Equal(t, domain.EffectAccountCredited, got[0].Category)
	assert.Equal(t, "5", got[0].OperationID())
}

func TestLedgerStreamOrderbook(t *testing.T) {
	sub := newFakeSubscriber()
	s := NewLedgerStream(sub, discardLogger())
	pair := domain.AssetPair{Base: domain.CreditAsset("USD", "GISS"), Counter: domain.NativeAsset()}

	var got domain.OrderbookSnapshot
	_, err := s.Orderbook(context.Background(), pair, func(ob domain.OrderbookSnapshot) { got = ob })
	require.NoError(t, err)

	sub.push(t, OrderbookResource(pair), map[string]any{
		"bids": []map[string]string{{"price": "1.1", "amount": "5"}},
		"asks": []map[string]string{},
	})
	assert.True(t, got.Pair.Equal(pair))
	assert.Equal(t, []domain.PriceLevel{{Price: "1.1", Amount: "5"}}, got.Bids)
}

func TestReleasesIdempotent(t *testing.T) {
	var r Releases
	calls := 0
	r.Add(func() { calls++ })
	r.Add(func() { calls++ })
	r.Release()
	r.Release()
	assert.Equal(t, 2, calls)

	r.Add(func() { calls++ })
	assert.Equal(t, 3, calls)
}
