package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// TradeStore keeps derived trade series per pair in trade_points.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// ArchiveTrades upserts points for pair. Re-archiving an overlapping
// series overwrites prices at the same timestamps.
func (s *TradeStore) ArchiveTrades(ctx context.Context, pair domain.AssetPair, points []domain.TradePoint) error {
	if len(points) == 0 {
		return nil
	}

	const query = `
		INSERT INTO trade_points (pair, ts, price) VALUES ($1, $2, $3)
		ON CONFLICT (pair, ts) DO UPDATE SET price = EXCLUDED.price`

	key := pair.String()
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(query, key, p.Time.UTC(), p.Price)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range points {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: archive trade point %d for %s: %w", i, key, err)
		}
	}
	return nil
}

// Series returns archived points for pair at or after since, oldest first.
func (s *TradeStore) Series(ctx context.Context, pair domain.AssetPair, since time.Time, limit int) ([]domain.TradePoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	const query = `
		SELECT ts, price FROM (
			SELECT ts, price FROM trade_points
			WHERE pair = $1 AND ts >= $2
			ORDER BY ts DESC LIMIT $3
		) recent ORDER BY ts ASC`

	rows, err := s.pool.Query(ctx, query, pair.String(), since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: trade series %s: %w", pair, err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TradePoint, error) {
		var p domain.TradePoint
		err := row.Scan(&p.Time, &p.Price)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade series %s: %w", pair, err)
	}
	return points, nil
}
