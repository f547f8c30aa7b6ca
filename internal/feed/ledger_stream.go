// Package feed turns raw stream subscriptions into typed domain callbacks.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/platform/horizon"
)

// Subscriber is the raw subscription primitive of the stream transport.
type Subscriber interface {
	Subscribe(ctx context.Context, resource, cursor string, handler horizon.RecordHandler) (func(), error)
}

// LedgerStream exposes one typed subscription per resource kind. Every
// method returns a release handle.
type LedgerStream struct {
	sub    Subscriber
	logger *slog.Logger
}

// NewLedgerStream wraps a raw subscriber.
func NewLedgerStream(sub Subscriber, logger *slog.Logger) *LedgerStream {
	return &LedgerStream{
		sub:    sub,
		logger: logger.With(slog.String("component", "ledger_stream")),
	}
}

// Account streams snapshots of one account.
func (s *LedgerStream) Account(ctx context.Context, accountID string, fn func(domain.AccountSnapshot)) (func(), error) {
	return s.sub.Subscribe(ctx, AccountResource(accountID), "", func(raw json.RawMessage) {
		var acct horizon.AccountJSON
		if err := json.Unmarshal(raw, &acct); err != nil {
			s.logger.Warn("drop malformed account record", slog.String("error", err.Error()))
			return
		}
		fn(acct.ToDomain())
	})
}

// Effects streams new effects of one account, starting from now.
func (s *LedgerStream) Effects(ctx context.Context, accountID string, fn func(domain.EffectRecord)) (func(), error) {
	return s.sub.Subscribe(ctx, AccountResource(accountID)+"/effects", "now", func(raw json.RawMessage) {
		rec, err := horizon.ParseEffect(raw)
		if err != nil {
			s.logger.Warn("drop malformed effect record", slog.String("error", err.Error()))
			return
		}
		fn(rec)
	})
}

// Orderbook streams book snapshots for one pair.
func (s *LedgerStream) Orderbook(ctx context.Context, pair domain.AssetPair, fn func(domain.OrderbookSnapshot)) (func(), error) {
	return s.sub.Subscribe(ctx, OrderbookResource(pair), "", func(raw json.RawMessage) {
		var ob horizon.OrderbookJSON
		if err := json.Unmarshal(raw, &ob); err != nil {
			s.logger.Warn("drop malformed orderbook record", slog.String("error", err.Error()))
			return
		}
		fn(domain.OrderbookSnapshot{Pair: pair, Bids: ob.Bids, Asks: ob.Asks})
	})
}

// AccountResource is the stream resource name of an account.
func AccountResource(accountID string) string {
	return "accounts/" + accountID
}

// OrderbookResource is the stream resource name of a pair's book.
func OrderbookResource(pair domain.AssetPair) string {
	return "order_book?selling=" + pair.Base.String() + "&buying=" + pair.Counter.String()
}

// Releases collects release handles so an owner can drop them all at once.
// Release is idempotent.
type Releases struct {
	mu       sync.Mutex
	handles  []func()
	released bool
}

// Add registers a handle. Adding after Release calls the handle at once.
func (r *Releases) Add(h func()) {
	if h == nil {
		return
	}
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		h()
		return
	}
	r.handles = append(r.handles, h)
	r.mu.Unlock()
}

// Release calls every registered handle in reverse order, once.
func (r *Releases) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	handles := r.handles
	r.handles = nil
	r.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		handles[i]()
	}
}
