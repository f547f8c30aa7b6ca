package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ledgersync/internal/broadcast"
	"github.com/alanyoungcy/ledgersync/internal/crypto"
	"github.com/alanyoungcy/ledgersync/internal/domain"
)

const (
	// DefaultUnfundedRetryDelay is how long an unfunded login waits before
	// checking again whether the account exists.
	DefaultUnfundedRetryDelay = 2 * time.Second
	// DefaultRetryTimeout bounds background work started by the session.
	DefaultRetryTimeout = 30 * time.Second
)

// SessionConfig tunes session behavior.
type SessionConfig struct {
	UnfundedRetryDelay time.Duration
	RetryTimeout       time.Duration

	// InflationAllowList lists vote destinations that count as already
	// voted. InflationDestination is the target of Vote.
	InflationAllowList   []string
	InflationDestination string

	EnrichConcurrency int
	SubmitLockTTL     time.Duration
	SubmitsPerMinute  int
}

// SessionDeps are the collaborators a session builds its components from.
// Everything below Stream is optional.
type SessionDeps struct {
	Source LedgerSource
	Stream LedgerStreamer

	Directory domain.AssetDirectory
	Locks     domain.LockManager
	Limiter   domain.RateLimiter
	Audit     domain.AuditStore
	Archiver  TradeArchiver

	Logger *slog.Logger
}

// Session drives the login lifecycle and owns at most one account
// synchronizer and one orderbook engine. States move between out, loading,
// in and unfunded.
type Session struct {
	cfg    SessionConfig
	deps   SessionDeps
	logger *slog.Logger

	sessionTopic   *broadcast.Topic[domain.SessionView]
	accountTopic   *broadcast.Topic[struct{}]
	offersTopic    *broadcast.Topic[struct{}]
	orderbookTopic *broadcast.Topic[struct{}]
	effectTopic    *broadcast.Topic[domain.EffectRecord]

	mu                sync.Mutex
	state             domain.SessionState
	accountID         string
	pendingID         string
	canSign           bool
	invalidCredential bool
	setupError        bool
	inflationDone     bool
	cred              domain.Credential
	gen               uint64
	retry             *time.Timer

	account   *AccountSynchronizer
	offers    *OfferLedger
	submitter *TransactionSubmitter
	engine    *OrderbookEngine

	offersRefreshing atomic.Bool
}

// NewSession creates a logged-out session.
func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	if cfg.UnfundedRetryDelay <= 0 {
		cfg.UnfundedRetryDelay = DefaultUnfundedRetryDelay
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultRetryTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Session{
		cfg:            cfg,
		deps:           deps,
		logger:         deps.Logger.With(slog.String("component", "session")),
		sessionTopic:   broadcast.New[domain.SessionView](),
		accountTopic:   broadcast.New[struct{}](),
		offersTopic:    broadcast.New[struct{}](),
		orderbookTopic: broadcast.New[struct{}](),
		effectTopic:    broadcast.New[domain.EffectRecord](),
		state:          domain.SessionOut,
	}
}

// OnSession registers a listener for session state changes.
func (s *Session) OnSession(fn func(domain.SessionView)) (unlisten func()) {
	return s.sessionTopic.Listen(fn)
}

// OnAccount registers a listener for account snapshot or history changes.
func (s *Session) OnAccount(fn func()) (unlisten func()) {
	return s.accountTopic.Listen(func(struct{}) { fn() })
}

// OnOffers registers a listener for open offer changes.
func (s *Session) OnOffers(fn func()) (unlisten func()) {
	return s.offersTopic.Listen(func(struct{}) { fn() })
}

// OnOrderbook registers a listener for book or trade series changes.
func (s *Session) OnOrderbook(fn func()) (unlisten func()) {
	return s.orderbookTopic.Listen(func(struct{}) { fn() })
}

// OnEffect registers a listener for effects newly added by the stream.
func (s *Session) OnEffect(fn func(domain.EffectRecord)) (unlisten func()) {
	return s.effectTopic.Listen(fn)
}

// LogIn derives an identity from cred and loads its account. A credential
// that cannot be parsed leaves the state unchanged and returns an error
// wrapping domain.ErrSigning. An account that does not exist yet moves the
// session to unfunded and schedules one retry; that is not an error. A
// login overtaken by a later LogIn or LogOut returns domain.ErrSuperseded.
func (s *Session) LogIn(ctx context.Context, cred domain.Credential) error {
	id, err := crypto.FromCredential(cred)
	if err != nil {
		s.mu.Lock()
		s.invalidCredential = true
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("session: log in: %w", err)
	}

	s.mu.Lock()
	s.invalidCredential = false
	s.setupError = false
	s.inflationDone = false
	if s.state != domain.SessionUnfunded {
		s.state = domain.SessionLoading
	}
	s.gen++
	gen := s.gen
	s.cred = cred
	s.stopRetryLocked()
	prev := s.detachAccountLocked()
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	s.notify()

	acct, offers := s.newAccount(id.AccountID())
	_, err = acct.Load(ctx)
	if err == nil {
		if serr := acct.SubscribeBalances(ctx); serr != nil {
			s.logger.WarnContext(ctx, "balance stream unavailable", slog.String("error", serr.Error()))
		}
		if serr := acct.SubscribeEffects(ctx); serr != nil {
			s.logger.WarnContext(ctx, "effect stream unavailable", slog.String("error", serr.Error()))
		}
		if rerr := offers.Refresh(ctx); rerr != nil {
			s.logger.WarnContext(ctx, "initial offer poll failed", slog.String("error", rerr.Error()))
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		acct.Close()
		s.logger.InfoContext(ctx, "login superseded", slog.String("account", id.AccountID()))
		return fmt.Errorf("session: log in %s: %w", id.AccountID(), domain.ErrSuperseded)
	}

	switch {
	case err == nil:
		s.state = domain.SessionIn
		s.accountID = id.AccountID()
		s.pendingID = ""
		s.canSign = id.CanSign()
		s.account = acct
		s.offers = offers
		s.submitter = s.newSubmitter(id, acct, offers)
		if s.allowListed(acct.Snapshot().InflationDestination) {
			s.inflationDone = true
		}
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "logged in",
			slog.String("account", id.AccountID()),
			slog.Bool("can_sign", id.CanSign()),
		)
		s.notify()
		return nil

	case errors.Is(err, domain.ErrAccountNotFound):
		s.state = domain.SessionUnfunded
		s.pendingID = id.AccountID()
		s.accountID = ""
		s.retry = time.AfterFunc(s.cfg.UnfundedRetryDelay, s.retryLogIn)
		s.mu.Unlock()
		acct.Close()
		s.logger.InfoContext(ctx, "account not funded yet, will retry",
			slog.String("account", id.AccountID()),
			slog.Duration("delay", s.cfg.UnfundedRetryDelay),
		)
		s.notify()
		return nil

	default:
		s.state = domain.SessionOut
		s.setupError = true
		s.accountID = ""
		s.pendingID = ""
		s.mu.Unlock()
		acct.Close()
		s.logger.ErrorContext(ctx, "account setup failed",
			slog.String("account", id.AccountID()),
			slog.String("error", err.Error()),
		)
		s.notify()
		return fmt.Errorf("session: log in: %w", err)
	}
}

// retryLogIn re-attempts a login only while the session is still
// unfunded. A logout or a later successful login makes it a no-op.
func (s *Session) retryLogIn() {
	s.mu.Lock()
	if s.state != domain.SessionUnfunded {
		s.mu.Unlock()
		s.logger.Debug("stale unfunded retry ignored")
		return
	}
	cred := s.cred
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RetryTimeout)
	defer cancel()
	err := s.LogIn(ctx, cred)
	switch {
	case errors.Is(err, domain.ErrSuperseded):
		s.logger.Debug("unfunded retry superseded")
	case err != nil:
		s.logger.Warn("unfunded retry failed", slog.String("error", err.Error()))
	}
}

// LogOut closes the account synchronizer and orderbook engine, cancels a
// pending retry and returns to out.
func (s *Session) LogOut() {
	s.mu.Lock()
	s.gen++
	s.stopRetryLocked()
	acct := s.detachAccountLocked()
	engine := s.engine
	s.engine = nil
	s.state = domain.SessionOut
	s.accountID = ""
	s.pendingID = ""
	s.canSign = false
	s.inflationDone = false
	s.setupError = false
	s.invalidCredential = false
	s.cred = domain.Credential{}
	s.mu.Unlock()

	if acct != nil {
		acct.Close()
	}
	if engine != nil {
		engine.Close()
	}
	s.logger.Info("logged out")
	s.notify()
}

// Close tears the session down.
func (s *Session) Close() {
	s.LogOut()
}

// SetOrderbook selects the active pair. Selecting the active pair again is
// a no-op; otherwise the previous engine is closed before the new one
// starts.
func (s *Session) SetOrderbook(ctx context.Context, pair domain.AssetPair) error {
	s.mu.Lock()
	if s.engine != nil && s.engine.Pair().Equal(pair) {
		s.mu.Unlock()
		return nil
	}
	prev := s.engine
	engine := NewOrderbookEngine(OrderbookOptions{
		Pair:     pair,
		Source:   s.deps.Source,
		Stream:   s.deps.Stream,
		Archiver: s.deps.Archiver,
		Logger:   s.deps.Logger,
		OnUpdate: func() {
			s.orderbookTopic.Trigger(struct{}{})
			s.refreshOffersAsync()
		},
	})
	s.engine = engine
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	s.notify()

	if err := engine.Start(ctx); err != nil {
		s.mu.Lock()
		if s.engine == engine {
			s.engine = nil
		}
		s.mu.Unlock()
		engine.Close()
		s.notify()
		return fmt.Errorf("session: set orderbook: %w", err)
	}
	return nil
}

// Vote submits the configured inflation destination.
func (s *Session) Vote(ctx context.Context) (domain.SubmitResult, error) {
	if s.cfg.InflationDestination == "" {
		return domain.SubmitResult{}, fmt.Errorf("session: vote: %w: no inflation destination configured", domain.ErrInvalidArgument)
	}
	sub, err := s.activeSubmitter()
	if err != nil {
		return domain.SubmitResult{}, err
	}
	s.mu.Lock()
	s.inflationDone = true
	s.mu.Unlock()
	s.notify()
	return sub.SetInflation(ctx, s.cfg.InflationDestination)
}

// DismissVote acknowledges the vote prompt without submitting.
func (s *Session) DismissVote() {
	s.mu.Lock()
	s.inflationDone = true
	s.mu.Unlock()
	s.notify()
}

// CreateOffer places an offer. When opts names no pair the active
// orderbook pair is used.
func (s *Session) CreateOffer(ctx context.Context, side domain.OfferSide, opts OfferOpts) (domain.SubmitResult, error) {
	sub, err := s.activeSubmitter()
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if opts.Base.Type == "" && opts.Counter.Type == "" {
		s.mu.Lock()
		engine := s.engine
		s.mu.Unlock()
		if engine == nil {
			return domain.SubmitResult{}, fmt.Errorf("session: create offer: %w: no orderbook selected", domain.ErrInvalidArgument)
		}
		opts.Base, opts.Counter = engine.Pair().Base, engine.Pair().Counter
	}
	return sub.CreateOffer(ctx, side, opts)
}

// RemoveOffer cancels one of the account's offers.
func (s *Session) RemoveOffer(ctx context.Context, offerID int64) (domain.SubmitResult, error) {
	sub, err := s.activeSubmitter()
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return sub.RemoveOffer(ctx, offerID)
}

// SendPayment pays or creates another account.
func (s *Session) SendPayment(ctx context.Context, opts PaymentOpts) (domain.SubmitResult, error) {
	sub, err := s.activeSubmitter()
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return sub.SendPayment(ctx, opts)
}

// ChangeTrust changes a trust line.
func (s *Session) ChangeTrust(ctx context.Context, opts TrustOpts) (domain.SubmitResult, error) {
	sub, err := s.activeSubmitter()
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return sub.ChangeTrust(ctx, opts)
}

// AddTrust opens a trust line at the maximum limit.
func (s *Session) AddTrust(ctx context.Context, asset domain.Asset) (domain.SubmitResult, error) {
	return s.ChangeTrust(ctx, TrustOpts{Asset: asset})
}

// RemoveTrust closes a trust line.
func (s *Session) RemoveTrust(ctx context.Context, asset domain.Asset) (domain.SubmitResult, error) {
	zero := "0"
	return s.ChangeTrust(ctx, TrustOpts{Asset: asset, Limit: &zero})
}

// View returns the read-only session state.
func (s *Session) View() domain.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := domain.SessionView{
		State:             s.state,
		AccountID:         s.accountID,
		CanSign:           s.canSign,
		InvalidCredential: s.invalidCredential,
		SetupError:        s.setupError,
		InflationDone:     s.inflationDone,
	}
	if v.State == domain.SessionUnfunded {
		v.AccountID = s.pendingID
	}
	if s.engine != nil {
		pair := s.engine.Pair()
		v.Pair = &pair
	}
	return v
}

// AccountView is the read-only account state handed to presentation.
type AccountView struct {
	Account        domain.AccountSnapshot  `json:"account"`
	Balances       []domain.Balance        `json:"balances"`
	Reserve        domain.ReserveBreakdown `json:"reserve"`
	PaddedReserve  decimal.Decimal         `json:"padded_reserve"`
	MaxNativeSpend string                  `json:"max_native_spend"`
	Offers         []domain.Offer          `json:"offers"`
}

// AccountView returns the current account view. It fails with
// domain.ErrNotLoggedIn outside the in state.
func (s *Session) AccountView(hideNative bool) (AccountView, error) {
	acct, offers, err := s.activeAccount()
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{
		Account:        acct.Snapshot(),
		Balances:       acct.SortedBalances(hideNative),
		Reserve:        acct.ExplainReserve(),
		PaddedReserve:  acct.PaddedReserve(),
		MaxNativeSpend: acct.MaxNativeSpend(),
		Offers:         offers.Offers(),
	}, nil
}

// Balance returns the held amount of asset; ok is false without a trust
// line.
func (s *Session) Balance(asset domain.Asset) (amount string, ok bool, err error) {
	acct, _, err := s.activeAccount()
	if err != nil {
		return "", false, err
	}
	amount, ok = acct.Balance(asset)
	return amount, ok, nil
}

// History returns the account's effect history, newest first.
func (s *Session) History() ([]domain.EffectRecord, error) {
	acct, _, err := s.activeAccount()
	if err != nil {
		return nil, err
	}
	return acct.History(), nil
}

// Offers returns the account's open offers.
func (s *Session) Offers() ([]domain.Offer, error) {
	_, offers, err := s.activeAccount()
	if err != nil {
		return nil, err
	}
	return offers.Offers(), nil
}

// OrderbookView is the active book and its trade series.
type OrderbookView struct {
	Orderbook domain.OrderbookSnapshot `json:"orderbook"`
	Trades    []domain.TradePoint      `json:"trades"`
}

// OrderbookView returns the active book. It fails with domain.ErrNotFound
// when no pair is selected.
func (s *Session) OrderbookView() (OrderbookView, error) {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return OrderbookView{}, fmt.Errorf("session: orderbook: %w: no pair selected", domain.ErrNotFound)
	}
	return OrderbookView{Orderbook: engine.Snapshot(), Trades: engine.Trades()}, nil
}

func (s *Session) newAccount(accountID string) (*AccountSynchronizer, *OfferLedger) {
	offers := NewOfferLedger(accountID, s.deps.Source, func() {
		s.offersTopic.Trigger(struct{}{})
	})
	acct := NewAccountSynchronizer(AccountSyncOptions{
		AccountID:         accountID,
		Source:            s.deps.Source,
		Stream:            s.deps.Stream,
		Enricher:          NewEnricher(s.deps.Source),
		Offers:            offers,
		Directory:         s.deps.Directory,
		EnrichConcurrency: s.cfg.EnrichConcurrency,
		OnUpdate:          func() { s.accountTopic.Trigger(struct{}{}) },
		OnEffect:          s.effectTopic.Trigger,
		Logger:            s.deps.Logger,
	})
	return acct, offers
}

func (s *Session) newSubmitter(signer Signer, acct *AccountSynchronizer, offers *OfferLedger) *TransactionSubmitter {
	return NewTransactionSubmitter(SubmitterOptions{
		Signer:           signer,
		Accounts:         s.deps.Source,
		Sender:           s.deps.Source,
		Sequence:         acct,
		Offers:           offers,
		Account:          acct,
		Locks:            s.deps.Locks,
		LockTTL:          s.cfg.SubmitLockTTL,
		Limiter:          s.deps.Limiter,
		SubmitsPerMinute: s.cfg.SubmitsPerMinute,
		Audit:            s.deps.Audit,
		Logger:           s.deps.Logger,
	})
}

func (s *Session) activeSubmitter() (*TransactionSubmitter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionIn || s.submitter == nil {
		return nil, fmt.Errorf("session: %w", domain.ErrNotLoggedIn)
	}
	return s.submitter, nil
}

func (s *Session) activeAccount() (*AccountSynchronizer, *OfferLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionIn || s.account == nil {
		return nil, nil, fmt.Errorf("session: %w", domain.ErrNotLoggedIn)
	}
	return s.account, s.offers, nil
}

// detachAccountLocked clears the current account components and returns
// the synchronizer for the caller to close outside the lock.
func (s *Session) detachAccountLocked() *AccountSynchronizer {
	acct := s.account
	s.account = nil
	s.offers = nil
	s.submitter = nil
	return acct
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Session) allowListed(dest string) bool {
	if dest == "" {
		return false
	}
	for _, d := range s.cfg.InflationAllowList {
		if strings.EqualFold(d, dest) {
			return true
		}
	}
	return false
}

// refreshOffersAsync re-polls offers after a book change. Overlapping
// requests collapse into the one already running.
func (s *Session) refreshOffersAsync() {
	s.mu.Lock()
	offers := s.offers
	s.mu.Unlock()
	if offers == nil || !s.offersRefreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.offersRefreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RetryTimeout)
		defer cancel()
		if err := offers.Refresh(ctx); err != nil {
			s.logger.Warn("offer refresh after book change failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *Session) notify() {
	s.sessionTopic.Trigger(s.View())
}
