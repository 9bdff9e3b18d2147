package clickhouse

import (
	"context"
	"fmt"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// PriceTickStore implements storage.PriceTickStore using ClickHouse.
// Ticks are analytics data: inserts are best-effort batches, duplicates are
// tolerated by the MergeTree engine.
type PriceTickStore struct {
	conn *Conn
}

// NewPriceTickStore creates a new PriceTickStore.
func NewPriceTickStore(conn *Conn) *PriceTickStore {
	return &PriceTickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceTickStore = (*PriceTickStore)(nil)

// InsertBulk appends a batch of ticks.
func (s *PriceTickStore) InsertBulk(ctx context.Context, ticks []*domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_ticks (session_id, mint, price, source, observed_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range ticks {
		err = batch.Append(t.SessionID, t.Mint, t.Price, t.Source, t.ObservedAt)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}
