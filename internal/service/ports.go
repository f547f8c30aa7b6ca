package service

import (
	"context"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/platform/horizon"
)

// RecordFetcher looks up the operation and transaction behind an effect.
type RecordFetcher interface {
	Operation(ctx context.Context, id string) (domain.OperationRecord, error)
	Transaction(ctx context.Context, hash string) (domain.TransactionRecord, error)
}

// AccountLoader loads one account. A missing account fails with
// domain.ErrAccountNotFound.
type AccountLoader interface {
	LoadAccount(ctx context.Context, accountID string) (domain.AccountSnapshot, error)
}

// AccountSource loads an account and its recent history.
type AccountSource interface {
	AccountLoader
	Effects(ctx context.Context, accountID string, q horizon.PageQuery) ([]domain.EffectRecord, error)
}

// OfferLister polls the open offers of an account.
type OfferLister interface {
	Offers(ctx context.Context, accountID string, q horizon.PageQuery) ([]domain.Offer, error)
}

// OrderbookSource loads a pair's book and trade history.
type OrderbookSource interface {
	Orderbook(ctx context.Context, pair domain.AssetPair) (domain.OrderbookSnapshot, error)
	Trades(ctx context.Context, pair domain.AssetPair, q horizon.PageQuery) (domain.TradePage, error)
}

// TransactionSender submits signed envelopes.
type TransactionSender interface {
	SubmitTransaction(ctx context.Context, signed domain.SignedEnvelope) (domain.SubmitResult, error)
}

// LedgerSource is everything a session needs from the REST side of the
// ledger service.
type LedgerSource interface {
	RecordFetcher
	AccountSource
	OfferLister
	OrderbookSource
	TransactionSender
}

// AccountStreamer opens live account and effect subscriptions.
type AccountStreamer interface {
	Account(ctx context.Context, accountID string, fn func(domain.AccountSnapshot)) (func(), error)
	Effects(ctx context.Context, accountID string, fn func(domain.EffectRecord)) (func(), error)
}

// OrderbookStreamer opens a live orderbook subscription.
type OrderbookStreamer interface {
	Orderbook(ctx context.Context, pair domain.AssetPair, fn func(domain.OrderbookSnapshot)) (func(), error)
}

// LedgerStreamer is the streaming side of the ledger service.
type LedgerStreamer interface {
	AccountStreamer
	OrderbookStreamer
}

// Signer signs envelopes for one account. View-only signers report
// CanSign false and fail Sign with domain.ErrSigning.
type Signer interface {
	AccountID() string
	CanSign() bool
	Sign(env domain.Envelope) (domain.SignedEnvelope, error)
}

// TradeArchiver stores a built trade series.
type TradeArchiver interface {
	ArchiveTrades(ctx context.Context, pair domain.AssetPair, points []domain.TradePoint) error
}

// Alerter delivers operator alerts for notable session events.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}
