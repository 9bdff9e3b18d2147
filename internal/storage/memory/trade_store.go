package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.Mutex
	data map[string]*domain.TradeRecord // keyed by trade_id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.TradeRecord),
	}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade record. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TradeID == "" || t.SessionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TradeID]; exists {
		return storage.ErrDuplicateKey
	}

	tradeCopy := *t
	s.data[t.TradeID] = &tradeCopy
	return nil
}

// GetBySession retrieves all trades for a session, ordered by executed_at ASC.
func (s *TradeStore) GetBySession(_ context.Context, sessionID string) ([]*domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if t.SessionID == sessionID {
			tradeCopy := *t
			result = append(result, &tradeCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ExecutedAt.Equal(result[j].ExecutedAt) {
			return result[i].TradeID < result[j].TradeID
		}
		return result[i].ExecutedAt.Before(result[j].ExecutedAt)
	})

	return result, nil
}

// LastTradeTime returns the most recent confirmed trade timestamp.
func (s *TradeStore) LastTradeTime(_ context.Context, sessionID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last time.Time
	found := false
	for _, t := range s.data {
		if t.SessionID == sessionID && t.Status == domain.TradeStatusConfirmed && t.ExecutedAt.After(last) {
			last = t.ExecutedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, storage.ErrNotFound
	}
	return last, nil
}
