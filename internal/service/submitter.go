package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// RemoveOfferCode is the asset code of the synthetic selling asset used to
// cancel an offer.
const RemoveOfferCode = "REMOVE"

// DefaultSubmitLockTTL bounds how long one submission holds the account lock.
const DefaultSubmitLockTTL = 30 * time.Second

// SequenceSource hands out the sequence number of the next envelope.
type SequenceSource interface {
	NextSequence() (int64, error)
}

// Refresher re-polls a piece of local state after a mutation.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// OfferOpts describes a new offer relative to a base asset.
type OfferOpts struct {
	Base    domain.Asset `json:"base"`
	Counter domain.Asset `json:"counter"`
	Price   string       `json:"price"`
	Amount  string       `json:"amount"`
}

// PaymentOpts describes a payment. Memo is optional.
type PaymentOpts struct {
	Destination string       `json:"destination"`
	Asset       domain.Asset `json:"asset"`
	Amount      string       `json:"amount"`
	Memo        *domain.Memo `json:"memo,omitempty"`
}

// TrustOpts describes a trust line change. A nil Limit means the maximum
// limit.
type TrustOpts struct {
	Asset domain.Asset `json:"asset"`
	Limit *string      `json:"limit,omitempty"`
}

// UnmarshalJSON accepts a limit only as a JSON string or absent.
func (o *TrustOpts) UnmarshalJSON(b []byte) error {
	var raw struct {
		Asset domain.Asset    `json:"asset"`
		Limit json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: trust options: %v", domain.ErrInvalidArgument, err)
	}
	o.Asset = raw.Asset
	o.Limit = nil
	if len(raw.Limit) == 0 {
		return nil
	}
	lim := bytes.TrimSpace(raw.Limit)
	if len(lim) == 0 || lim[0] != '"' {
		return fmt.Errorf("%w: trust limit must be a string", domain.ErrInvalidArgument)
	}
	var s string
	if err := json.Unmarshal(lim, &s); err != nil {
		return fmt.Errorf("%w: trust limit must be a string", domain.ErrInvalidArgument)
	}
	o.Limit = &s
	return nil
}

// SubmitterOptions configures a TransactionSubmitter.
type SubmitterOptions struct {
	Signer   Signer
	Accounts AccountLoader
	Sender   TransactionSender
	Sequence SequenceSource

	// Offers and Account are refreshed after mutations that touch them.
	Offers  Refresher
	Account Refresher

	// Locks, Limiter and Audit are optional.
	Locks            domain.LockManager
	LockTTL          time.Duration
	Limiter          domain.RateLimiter
	SubmitsPerMinute int
	Audit            domain.AuditStore

	Logger *slog.Logger
}

// TransactionSubmitter builds, signs and submits mutations for one account.
type TransactionSubmitter struct {
	signer   Signer
	accounts AccountLoader
	sender   TransactionSender
	seq      SequenceSource
	offers   Refresher
	account  Refresher
	locks    domain.LockManager
	lockTTL  time.Duration
	limiter  domain.RateLimiter
	perMin   int
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewTransactionSubmitter creates a submitter.
func NewTransactionSubmitter(opts SubmitterOptions) *TransactionSubmitter {
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultSubmitLockTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &TransactionSubmitter{
		signer:   opts.Signer,
		accounts: opts.Accounts,
		sender:   opts.Sender,
		seq:      opts.Sequence,
		offers:   opts.Offers,
		account:  opts.Account,
		locks:    opts.Locks,
		lockTTL:  opts.LockTTL,
		limiter:  opts.Limiter,
		perMin:   opts.SubmitsPerMinute,
		audit:    opts.Audit,
		logger:   opts.Logger.With(slog.String("component", "submitter")),
	}
}

// CreateOffer places an offer. side is domain.OfferSideBuy or
// domain.OfferSideSell relative to opts.Base. A buy sells the counter asset
// at the inverse price for amount×price of it.
func (t *TransactionSubmitter) CreateOffer(ctx context.Context, side domain.OfferSide, opts OfferOpts) (domain.SubmitResult, error) {
	if err := opts.Base.Validate(); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submitter: create offer: base: %w", err)
	}
	if err := opts.Counter.Validate(); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submitter: create offer: counter: %w", err)
	}
	if opts.Base.Equal(opts.Counter) {
		return domain.SubmitResult{}, fmt.Errorf("submitter: create offer: %w: base and counter are the same asset", domain.ErrInvalidArgument)
	}
	price, err := positiveDecimal("price", opts.Price)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submitter: create offer: %w", err)
	}
	amount, err := positiveDecimal("amount", opts.Amount)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submitter: create offer: %w", err)
	}

	op := domain.Operation{Kind: domain.OpManageOffer}
	switch side {
	case domain.OfferSideBuy:
		buying, selling := opts.Base, opts.Counter
		op.Buying, op.Selling = &buying, &selling
		op.Price = decimal.NewFromInt(1).Div(price).String()
		op.Amount = amount.Mul(price).StringFixed(domain.AmountPrecision)
	case domain.OfferSideSell:
		buying, selling := opts.Counter, opts.Base
		op.Buying, op.Selling = &buying, &selling
		op.Price = price.String()
		op.Amount = amount.StringFixed(domain.AmountPrecision)
	default:
		return domain.SubmitResult{}, fmt.Errorf("submitter: create offer: %w: side %q", domain.ErrInvalidArgument, side)
	}

	res, err := t.submit(ctx, "offer_created", []domain.Operation{op}, nil, map[string]any{
		"side":   string(side),
		"price":  op.Price,
		"amount": op.Amount,
	})
	if err != nil {
		return res, err
	}
	t.refresh(ctx, t.offers, "offers")
	return res, nil
}

// SendPayment pays destination. An unfunded destination is created with a
// native payment and rejected with domain.ErrDestinationUnfunded for any
// other asset.
func (t *TransactionSubmitter) SendPayment(ctx context.Context, opts PaymentOpts) (domain.SubmitResult, error) {
	if opts.Destination == "" {
		return domain.SubmitResult{}, fmt.Errorf("submitter: send payment: %w: destination required", domain.ErrInvalidArgument)
	}
	if err := opts.Asset.Validate(); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submitter: send payment: %w", err)
	}
	amount, err := positiveDecimal("amount", opts.Amount)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submitter: send payment: %w", err)
	}
	if opts.Memo != nil {
		if err := opts.Memo.Validate(); err != nil {
			return domain.SubmitResult{}, fmt.Errorf("submitter: send payment: %w", err)
		}
	}

	var op domain.Operation
	_, err = t.accounts.LoadAccount(ctx, opts.Destination)
	switch {
	case err == nil:
		asset := opts.Asset
		op = domain.Operation{
			Kind:        domain.OpPayment,
			Destination: opts.Destination,
			Asset:       &asset,
			Amount:      amount.String(),
		}
	case errors.Is(err, domain.ErrAccountNotFound):
		if !opts.Asset.IsNative() {
			return domain.SubmitResult{}, fmt.Errorf("submitter: send payment to %s: %w", opts.Destination, domain.ErrDestinationUnfunded)
		}
		op = domain.Operation{
			Kind:            domain.OpCreateAccount,
			Destination:     opts.Destination,
			StartingBalance: amount.String(),
		}
	default:
		return domain.SubmitResult{}, fmt.Errorf("submitter: look up destination %s: %w", opts.Destination, err)
	}

	return t.submit(ctx, string(op.Kind), []domain.Operation{op}, opts.Memo, map[string]any{
		"destination": opts.Destination,
		"asset":       opts.Asset.String(),
		"amount":      amount.String(),
	})
}

// ChangeTrust creates, updates or removes a trust line. A limit of "0"
// removes it.
func (t *TransactionSubmitter) ChangeTrust(ctx context.Context, opts TrustOpts) (domain.SubmitResult, error) {
	if err := opts.Asset.Validate(); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submitter: change trust: %w", err)
	}
	if opts.Asset.IsNative() {
		return domain.SubmitResult{}, fmt.Errorf("submitter: change trust: %w: asset must be an issued asset", domain.ErrInvalidArgument)
	}
	if opts.Limit != nil {
		lim, err := decimal.NewFromString(*opts.Limit)
		if err != nil || lim.IsNegative() {
			return domain.SubmitResult{}, fmt.Errorf("submitter: change trust: %w: limit %q", domain.ErrInvalidArgument, *opts.Limit)
		}
	}

	asset := opts.Asset
	op := domain.Operation{Kind: domain.OpChangeTrust, Asset: &asset, Limit: opts.Limit}
	detail := map[string]any{"asset": asset.String()}
	if opts.Limit != nil {
		detail["limit"] = *opts.Limit
	}
	res, err := t.submit(ctx, "trust_changed", []domain.Operation{op}, nil, detail)
	if err != nil {
		return res, err
	}
	t.refresh(ctx, t.account, "account")
	return res, nil
}

// RemoveOffer cancels an offer with a zero-amount update at unit price.
func (t *TransactionSubmitter) RemoveOffer(ctx context.Context, offerID int64) (domain.SubmitResult, error) {
	if offerID <= 0 {
		return domain.SubmitResult{}, fmt.Errorf("submitter: remove offer: %w: offer id %d", domain.ErrInvalidArgument, offerID)
	}
	selling := domain.CreditAsset(RemoveOfferCode, t.signer.AccountID())
	buying := domain.NativeAsset()
	op := domain.Operation{
		Kind:    domain.OpManageOffer,
		Selling: &selling,
		Buying:  &buying,
		Amount:  "0",
		Price:   "1",
		OfferID: offerID,
	}
	res, err := t.submit(ctx, "offer_removed", []domain.Operation{op}, nil, map[string]any{"offer_id": offerID})
	if err != nil {
		return res, err
	}
	t.refresh(ctx, t.offers, "offers")
	return res, nil
}

// SetInflation points the account's inflation vote at destination.
func (t *TransactionSubmitter) SetInflation(ctx context.Context, destination string) (domain.SubmitResult, error) {
	if destination == "" {
		return domain.SubmitResult{}, fmt.Errorf("submitter: set inflation: %w: destination required", domain.ErrInvalidArgument)
	}
	op := domain.Operation{Kind: domain.OpSetOptions, InflationDest: destination}
	return t.submit(ctx, "inflation_set", []domain.Operation{op}, nil, map[string]any{"destination": destination})
}

// submit runs the shared sign-and-send path. Failures are returned
// unchanged apart from a prefix.
func (t *TransactionSubmitter) submit(ctx context.Context, event string, ops []domain.Operation, memo *domain.Memo, detail map[string]any) (domain.SubmitResult, error) {
	account := t.signer.AccountID()
	if !t.signer.CanSign() {
		return domain.SubmitResult{}, fmt.Errorf("submitter: %s: account %s is view-only: %w", event, account, domain.ErrSigning)
	}

	if t.limiter != nil && t.perMin > 0 {
		allowed, err := t.limiter.Allow(ctx, "submit:"+account, t.perMin, time.Minute)
		if err != nil {
			return domain.SubmitResult{}, fmt.Errorf("submitter: rate limiter: %w", err)
		}
		if !allowed {
			return domain.SubmitResult{}, fmt.Errorf("submitter: %s: %w", event, domain.ErrRateLimited)
		}
	}

	if t.locks != nil {
		unlock, err := t.locks.Acquire(ctx, "submit:"+account, t.lockTTL)
		if err != nil {
			return domain.SubmitResult{}, fmt.Errorf("submitter: %s: lock: %w", event, err)
		}
		defer unlock()
	}

	seq, err := t.seq.NextSequence()
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submitter: %s: %w", event, err)
	}
	env := domain.Envelope{
		Source:     account,
		Sequence:   seq,
		Fee:        domain.BaseFee * int64(len(ops)),
		Memo:       memo,
		Operations: ops,
	}

	signed, err := t.signer.Sign(env)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submitter: %s: %w", event, err)
	}

	res, err := t.sender.SubmitTransaction(ctx, signed)
	t.record(ctx, event, account, signed.Hash, detail, err)
	if err != nil {
		t.logger.WarnContext(ctx, "submission failed",
			slog.String("event", event),
			slog.String("hash", signed.Hash),
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("submitter: %s: %w", event, err)
	}

	t.logger.InfoContext(ctx, "submission accepted",
		slog.String("event", event),
		slog.String("hash", res.Hash),
		slog.Int64("ledger", res.Ledger),
	)
	return res, nil
}

func (t *TransactionSubmitter) record(ctx context.Context, event, account, hash string, detail map[string]any, submitErr error) {
	if t.audit == nil {
		return
	}
	entry := make(map[string]any, len(detail)+2)
	for k, v := range detail {
		entry[k] = v
	}
	entry["hash"] = hash
	if submitErr != nil {
		entry["error"] = submitErr.Error()
	}
	if err := t.audit.Log(ctx, event, account, entry); err != nil {
		t.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (t *TransactionSubmitter) refresh(ctx context.Context, r Refresher, what string) {
	if r == nil {
		return
	}
	if err := r.Refresh(ctx); err != nil {
		t.logger.WarnContext(ctx, "post-submit refresh failed",
			slog.String("target", what),
			slog.String("error", err.Error()),
		)
	}
}

func positiveDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s %q is not a number", domain.ErrInvalidArgument, field, s)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must be positive", domain.ErrInvalidArgument, field)
	}
	return d, nil
}
