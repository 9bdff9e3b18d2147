package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
// UpdateStatusIf is atomic under the store mutex, matching the row-level
// conditional-update semantics of the Postgres implementation.
type PositionStore struct {
	mu   sync.Mutex
	data map[string]*domain.Position // keyed by position_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" || p.SessionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; exists {
		return storage.ErrDuplicateKey
	}

	posCopy := *p
	if posCopy.CreatedAt.IsZero() {
		posCopy.CreatedAt = time.Now()
	}
	s.data[p.PositionID] = &posCopy
	return nil
}

// GetByID retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	posCopy := *p
	return &posCopy, nil
}

// GetActiveBySession retrieves active positions for a session, entry_time ASC.
func (s *PositionStore) GetActiveBySession(_ context.Context, sessionID string) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.SessionID == sessionID && p.Status == domain.PositionActive {
			posCopy := *p
			result = append(result, &posCopy)
		}
	}

	sortPositions(result)
	return result, nil
}

// GetActiveAll retrieves every active position across sessions.
func (s *PositionStore) GetActiveAll(_ context.Context) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.Status == domain.PositionActive {
			posCopy := *p
			result = append(result, &posCopy)
		}
	}

	sortPositions(result)
	return result, nil
}

// UpdateStatusIf performs an atomic compare-and-swap on status.
func (s *PositionStore) UpdateStatusIf(_ context.Context, positionID string, expected, next domain.PositionStatus, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionID]
	if !exists {
		return false, nil
	}
	if p.Status != expected {
		return false, nil
	}
	p.Status = next
	p.ErrorMessage = note
	return true, nil
}

// UpdateHighWater raises the running peak price; lowering is a no-op.
func (s *PositionStore) UpdateHighWater(_ context.Context, positionID string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionID]
	if !exists {
		return storage.ErrNotFound
	}
	if price > p.HighWaterPrice {
		p.HighWaterPrice = price
	}
	return nil
}

func sortPositions(positions []*domain.Position) {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].EntryTime.Equal(positions[j].EntryTime) {
			return positions[i].PositionID < positions[j].PositionID
		}
		return positions[i].EntryTime.Before(positions[j].EntryTime)
	})
}
