package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// EmergencyOrderStore is an in-memory implementation of storage.EmergencyOrderStore.
type EmergencyOrderStore struct {
	mu   sync.Mutex
	data map[string]*domain.EmergencySellOrder // keyed by order_id
}

// NewEmergencyOrderStore creates a new in-memory emergency order store.
func NewEmergencyOrderStore() *EmergencyOrderStore {
	return &EmergencyOrderStore{
		data: make(map[string]*domain.EmergencySellOrder),
	}
}

// Compile-time interface check.
var _ storage.EmergencyOrderStore = (*EmergencyOrderStore)(nil)

// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
func (s *EmergencyOrderStore) Insert(_ context.Context, o *domain.EmergencySellOrder) error {
	if o == nil || o.OrderID == "" || o.SessionID == "" || o.LimitPrice <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.OrderID]; exists {
		return storage.ErrDuplicateKey
	}

	orderCopy := *o
	if orderCopy.CreatedAt.IsZero() {
		orderCopy.CreatedAt = time.Now()
	}
	s.data[o.OrderID] = &orderCopy
	return nil
}

// GetActiveBySession retrieves active orders for a session.
func (s *EmergencyOrderStore) GetActiveBySession(_ context.Context, sessionID string) ([]*domain.EmergencySellOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.EmergencySellOrder
	for _, o := range s.data {
		if o.SessionID == sessionID && o.IsActive {
			orderCopy := *o
			result = append(result, &orderCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// Deactivate consumes an order exactly once.
func (s *EmergencyOrderStore) Deactivate(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.data[orderID]
	if !exists || !o.IsActive {
		return false, nil
	}
	o.IsActive = false
	return true, nil
}
