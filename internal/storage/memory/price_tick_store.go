package memory

import (
	"context"
	"sync"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// PriceTickStore is an in-memory implementation of storage.PriceTickStore.
type PriceTickStore struct {
	mu   sync.Mutex
	data []*domain.PriceTick
}

// NewPriceTickStore creates a new in-memory price tick store.
func NewPriceTickStore() *PriceTickStore {
	return &PriceTickStore{}
}

// Compile-time interface check.
var _ storage.PriceTickStore = (*PriceTickStore)(nil)

// InsertBulk appends a batch of ticks.
func (s *PriceTickStore) InsertBulk(_ context.Context, ticks []*domain.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range ticks {
		tickCopy := *t
		s.data = append(s.data, &tickCopy)
	}
	return nil
}

// All returns a copy of every stored tick, in insertion order.
func (s *PriceTickStore) All() []*domain.PriceTick {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.PriceTick, 0, len(s.data))
	for _, t := range s.data {
		tickCopy := *t
		result = append(result, &tickCopy)
	}
	return result
}
