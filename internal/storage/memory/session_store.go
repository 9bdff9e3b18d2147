package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu   sync.Mutex
	data map[string]*domain.Session // keyed by session_id
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		data: make(map[string]*domain.Session),
	}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

// Insert adds a new session. Returns ErrDuplicateKey if session_id exists.
func (s *SessionStore) Insert(_ context.Context, sess *domain.Session) error {
	if sess == nil || sess.SessionID == "" {
		return storage.ErrInvalidInput
	}
	if err := sess.Config.Validate(); err != nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sess.SessionID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	sessCopy := *sess
	s.data[sess.SessionID] = &sessCopy
	return nil
}

// GetByID retrieves a session. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	sessCopy := *sess
	return &sessCopy, nil
}

// GetActive retrieves all sessions with is_active = true.
func (s *SessionStore) GetActive(_ context.Context) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Session
	for _, sess := range s.data {
		if sess.IsActive {
			sessCopy := *sess
			result = append(result, &sessCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SessionStart.Before(result[j].SessionStart)
	})

	return result, nil
}

// SetActive flips the is_active flag.
func (s *SessionStore) SetActive(_ context.Context, sessionID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return storage.ErrNotFound
	}
	sess.IsActive = active
	return nil
}

// ClaimTick atomically advances last_activity if the previous value is older
// than minAge. Holding the store mutex over check-and-set makes it atomic.
func (s *SessionStore) ClaimTick(_ context.Context, sessionID string, now time.Time, minAge time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return false, storage.ErrNotFound
	}
	if sess.LastActivity.After(now.Add(-minAge)) {
		return false, nil
	}
	sess.LastActivity = now
	return true, nil
}

// AddDailySpend accumulates the daily buy total, resetting on day roll.
func (s *SessionStore) AddDailySpend(_ context.Context, sessionID, dayKey string, usd float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return storage.ErrNotFound
	}
	if sess.DailyKey == dayKey {
		sess.DailyBuyUSD += usd
	} else {
		sess.DailyBuyUSD = usd
		sess.DailyKey = dayKey
	}
	return nil
}
