package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// Enricher folds the owning operation and transaction into an effect.
type Enricher struct {
	src RecordFetcher
}

// NewEnricher creates an Enricher backed by src.
func NewEnricher(src RecordFetcher) *Enricher {
	return &Enricher{src: src}
}

// Enrich fetches the operation named by the effect id, then the transaction
// named by that operation, and folds all three. Any failed fetch returns an
// error wrapping domain.ErrLookup; the input record is returned unchanged
// alongside it.
func (e *Enricher) Enrich(ctx context.Context, effect domain.EffectRecord) (domain.EffectRecord, error) {
	opID := effect.OperationID()
	if opID == "" {
		return effect, fmt.Errorf("enrichment: effect %q: %w: no operation id", effect.ID, domain.ErrLookup)
	}

	op, err := e.src.Operation(ctx, opID)
	if err != nil {
		return effect, fmt.Errorf("enrichment: operation %s: %w: %w", opID, domain.ErrLookup, err)
	}
	if op.TransactionHash == "" {
		return effect, fmt.Errorf("enrichment: operation %s: %w: no transaction link", opID, domain.ErrLookup)
	}

	tx, err := e.src.Transaction(ctx, op.TransactionHash)
	if err != nil {
		return effect, fmt.Errorf("enrichment: transaction %s: %w: %w", op.TransactionHash, domain.ErrLookup, err)
	}

	return domain.FoldEffect(effect, op, tx), nil
}
