package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/platform/horizon"
)

// OfferPageLimit is the number of open offers polled per refresh.
const OfferPageLimit = 100

// OfferLedger keeps the open offers of one account. The ledger service
// has no push channel for offers, so every Refresh replaces the whole set.
type OfferLedger struct {
	accountID string
	src       OfferLister
	onUpdate  func()

	mu     sync.RWMutex
	offers []domain.Offer
}

// NewOfferLedger creates an empty ledger. onUpdate may be nil.
func NewOfferLedger(accountID string, src OfferLister, onUpdate func()) *OfferLedger {
	if onUpdate == nil {
		onUpdate = func() {}
	}
	return &OfferLedger{accountID: accountID, src: src, onUpdate: onUpdate}
}

// Refresh polls the open offers and replaces the local set.
func (l *OfferLedger) Refresh(ctx context.Context) error {
	offers, err := l.src.Offers(ctx, l.accountID, horizon.PageQuery{Limit: OfferPageLimit})
	if err != nil {
		return fmt.Errorf("offer_ledger: refresh %s: %w", l.accountID, err)
	}
	sort.SliceStable(offers, func(i, j int) bool { return offers[i].ID < offers[j].ID })

	l.mu.Lock()
	l.offers = offers
	l.mu.Unlock()

	l.onUpdate()
	return nil
}

// Offers returns a copy of the open offers, ordered by id.
func (l *OfferLedger) Offers() []domain.Offer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Offer(nil), l.offers...)
}

// Count returns the number of open offers.
func (l *OfferLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.offers)
}
