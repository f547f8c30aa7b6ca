package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/feed"
	"github.com/alanyoungcy/ledgersync/internal/platform/horizon"
)

const (
	// HistoryLoadLimit is the number of recent effects fetched on load.
	HistoryLoadLimit = 200
	// DefaultEnrichConcurrency bounds parallel enrichment during load.
	DefaultEnrichConcurrency = 8
)

// AccountSyncOptions configures an AccountSynchronizer.
type AccountSyncOptions struct {
	AccountID string
	Source    AccountSource
	Stream    AccountStreamer
	Enricher  *Enricher
	Offers    *OfferLedger
	Directory domain.AssetDirectory

	// EnrichConcurrency bounds parallel enrichment during Load.
	EnrichConcurrency int

	// OnUpdate fires after every visible change. OnEffect fires for each
	// effect newly added from the live stream.
	OnUpdate func()
	OnEffect func(domain.EffectRecord)

	Logger *slog.Logger
}

// AccountSynchronizer owns the local snapshot of one account: balances,
// sequence and a duplicate-free history of effects, newest first.
type AccountSynchronizer struct {
	accountID   string
	source      AccountSource
	stream      AccountStreamer
	enricher    *Enricher
	offers      *OfferLedger
	dir         domain.AssetDirectory
	concurrency int
	onUpdate    func()
	onEffect    func(domain.EffectRecord)
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	snap     domain.AccountSnapshot
	history  []domain.EffectRecord
	seen     map[string]struct{}
	inflight map[string]struct{}

	releases feed.Releases
}

// NewAccountSynchronizer creates a synchronizer. Nothing is fetched until
// Load is called.
func NewAccountSynchronizer(opts AccountSyncOptions) *AccountSynchronizer {
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = DefaultEnrichConcurrency
	}
	if opts.OnUpdate == nil {
		opts.OnUpdate = func() {}
	}
	if opts.OnEffect == nil {
		opts.OnEffect = func(domain.EffectRecord) {}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AccountSynchronizer{
		accountID:   opts.AccountID,
		source:      opts.Source,
		stream:      opts.Stream,
		enricher:    opts.Enricher,
		offers:      opts.Offers,
		dir:         opts.Directory,
		concurrency: opts.EnrichConcurrency,
		onUpdate:    opts.OnUpdate,
		onEffect:    opts.OnEffect,
		logger: opts.Logger.With(
			slog.String("component", "account_sync"),
			slog.String("account", opts.AccountID),
		),
		ctx:      ctx,
		cancel:   cancel,
		seen:     make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
}

// AccountID returns the id of the mirrored account.
func (s *AccountSynchronizer) AccountID() string {
	return s.accountID
}

// Load fetches the account and its most recent effects. The unenriched
// history is installed before Load returns; enrichment then runs in the
// background and replaces records by id when it completes.
func (s *AccountSynchronizer) Load(ctx context.Context) (domain.AccountSnapshot, error) {
	snap, err := s.source.LoadAccount(ctx, s.accountID)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("account_sync: load: %w", err)
	}
	recs, err := s.source.Effects(ctx, s.accountID, horizon.PageQuery{Limit: HistoryLoadLimit, Order: "desc"})
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("account_sync: load history: %w", err)
	}

	s.mu.Lock()
	s.snap = snap.Clone()
	s.history = make([]domain.EffectRecord, 0, len(recs))
	s.seen = make(map[string]struct{}, len(recs))
	for _, r := range recs {
		if _, dup := s.seen[r.ID]; dup {
			continue
		}
		s.seen[r.ID] = struct{}{}
		s.history = append(s.history, r)
	}
	initial := append([]domain.EffectRecord(nil), s.history...)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "account loaded",
		slog.String("sequence", snap.Sequence),
		slog.Int("balances", len(snap.Balances)),
		slog.Int("effects", len(initial)),
	)
	s.onUpdate()

	if s.enricher != nil && len(initial) > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.enrichHistory(initial)
		}()
	}
	return snap, nil
}

func (s *AccountSynchronizer) enrichHistory(recs []domain.EffectRecord) {
	enriched := make(map[string]domain.EffectRecord, len(recs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, rec := range recs {
		g.Go(func() error {
			out, err := s.enricher.Enrich(s.ctx, rec)
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn("enrichment failed, keeping record unenriched",
						slog.String("effect", rec.ID),
						slog.String("error", err.Error()),
					)
				}
				return nil
			}
			mu.Lock()
			enriched[rec.ID] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if s.ctx.Err() != nil || len(enriched) == 0 {
		return
	}

	s.mu.Lock()
	for i, r := range s.history {
		if out, ok := enriched[r.ID]; ok && !r.Enriched {
			s.history[i] = out
		}
	}
	s.mu.Unlock()
	s.onUpdate()
}

// SubscribeBalances opens the live account subscription. A message fires
// one update when balances or sequence differ from the local copy and
// none otherwise.
func (s *AccountSynchronizer) SubscribeBalances(ctx context.Context) error {
	release, err := s.stream.Account(ctx, s.accountID, func(next domain.AccountSnapshot) {
		if s.ctx.Err() != nil {
			return
		}
		if s.apply(next) {
			s.onUpdate()
		}
	})
	if err != nil {
		return fmt.Errorf("account_sync: subscribe balances: %w", err)
	}
	s.releases.Add(release)
	return nil
}

// apply merges a fresh account record and reports whether anything the
// caller can see changed.
func (s *AccountSynchronizer) apply(next domain.AccountSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if !domain.BalancesEqual(s.snap.Balances, next.Balances) {
		s.snap.Balances = append([]domain.Balance(nil), next.Balances...)
		changed = true
	}
	if next.Sequence != "" && s.snap.Sequence != next.Sequence {
		s.snap.Sequence = next.Sequence
		changed = true
	}
	if changed {
		s.snap.SubentryCount = next.SubentryCount
		s.snap.InflationDestination = next.InflationDestination
	}
	return changed
}

// SubscribeEffects opens the live effect subscription. Effects whose id is
// already in history are ignored. New ones are enriched and prepended.
func (s *AccountSynchronizer) SubscribeEffects(ctx context.Context) error {
	release, err := s.stream.Effects(ctx, s.accountID, s.handleEffect)
	if err != nil {
		return fmt.Errorf("account_sync: subscribe effects: %w", err)
	}
	s.releases.Add(release)
	return nil
}

func (s *AccountSynchronizer) handleEffect(rec domain.EffectRecord) {
	if s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	_, present := s.seen[rec.ID]
	_, pending := s.inflight[rec.ID]
	if present || pending {
		s.mu.Unlock()
		return
	}
	s.inflight[rec.ID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out := rec
		if s.enricher != nil {
			enriched, err := s.enricher.Enrich(s.ctx, rec)
			if err != nil {
				s.logger.Warn("enrichment failed, prepending unenriched",
					slog.String("effect", rec.ID),
					slog.String("error", err.Error()),
				)
			} else {
				out = enriched
			}
		}
		if s.prepend(out) {
			s.onUpdate()
			s.onEffect(out)
		}
	}()
}

func (s *AccountSynchronizer) prepend(rec domain.EffectRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, rec.ID)
	if s.ctx.Err() != nil {
		return false
	}
	if _, present := s.seen[rec.ID]; present {
		return false
	}
	s.seen[rec.ID] = struct{}{}
	s.history = append([]domain.EffectRecord{rec}, s.history...)
	return true
}

// Refresh reloads the account and applies balances and sequence with the
// same compare-then-notify rule as the live stream.
func (s *AccountSynchronizer) Refresh(ctx context.Context) error {
	next, err := s.source.LoadAccount(ctx, s.accountID)
	if err != nil {
		return fmt.Errorf("account_sync: refresh: %w", err)
	}
	if s.apply(next) {
		s.onUpdate()
	}
	return nil
}

// NextSequence returns the sequence number for the next envelope and
// advances the local copy. The stream later overwrites it with the
// authoritative value.
func (s *AccountSynchronizer) NextSequence() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := strconv.ParseInt(s.snap.Sequence, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("account_sync: sequence %q: %w", s.snap.Sequence, err)
	}
	next := cur + 1
	s.snap.Sequence = strconv.FormatInt(next, 10)
	return next, nil
}

// Snapshot returns a copy of the current account state.
func (s *AccountSynchronizer) Snapshot() domain.AccountSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Balance returns the amount held of asset. The boolean is false when the
// account has no trust line for it.
func (s *AccountSynchronizer) Balance(asset domain.Asset) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.FindBalance(s.snap.Balances, asset)
}

// SortedBalances returns balances grouped native, known, unknown.
func (s *AccountSynchronizer) SortedBalances(hideNative bool) []domain.Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SortBalances(s.snap.Balances, hideNative, s.dir)
}

// ExplainReserve itemizes the reserve using the current open offer count.
func (s *AccountSynchronizer) ExplainReserve() domain.ReserveBreakdown {
	offers := 0
	if s.offers != nil {
		offers = s.offers.Count()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ExplainReserve(s.snap, offers)
}

// PaddedReserve returns the coarse reserve bound for spend checks.
func (s *AccountSynchronizer) PaddedReserve() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.PaddedReserve(s.snap.SubentryCount)
}

// MaxNativeSpend returns the spendable native amount with 7 decimals.
func (s *AccountSynchronizer) MaxNativeSpend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.MaxNativeSpend(s.snap)
}

// History returns a copy of the effect history, newest first.
func (s *AccountSynchronizer) History() []domain.EffectRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.EffectRecord(nil), s.history...)
}

// Wait blocks until background enrichment started so far has finished.
func (s *AccountSynchronizer) Wait() {
	s.wg.Wait()
}

// Close releases every live subscription and stops background work. It is
// safe to call more than once.
func (s *AccountSynchronizer) Close() {
	s.cancel()
	s.releases.Release()
}
