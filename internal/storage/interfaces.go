package storage

import (
	"context"
	"time"

	"solana-bump-monitor/internal/domain"
)

// SessionStore provides access to trading_sessions storage.
type SessionStore interface {
	// Insert adds a new session. Returns ErrDuplicateKey if session_id exists.
	Insert(ctx context.Context, s *domain.Session) error

	// GetByID retrieves a session. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)

	// GetActive retrieves all sessions with is_active = true.
	GetActive(ctx context.Context) ([]*domain.Session, error)

	// SetActive flips the is_active flag.
	SetActive(ctx context.Context, sessionID string, active bool) error

	// ClaimTick atomically advances last_activity to now if the previous
	// value is older than minAge. Returns false when another scheduler
	// already claimed this session for the current window.
	ClaimTick(ctx context.Context, sessionID string, now time.Time, minAge time.Duration) (bool, error)

	// AddDailySpend accumulates the daily buy total, resetting the
	// accumulator when dayKey differs from the stored one.
	AddDailySpend(ctx context.Context, sessionID, dayKey string, usd float64) error
}

// PositionStore provides access to trading_positions storage.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
	Insert(ctx context.Context, p *domain.Position) error

	// GetByID retrieves a position. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)

	// GetActiveBySession retrieves all active positions for a session,
	// ordered by entry_time ASC.
	GetActiveBySession(ctx context.Context, sessionID string) ([]*domain.Position, error)

	// GetActiveAll retrieves every active position across sessions.
	GetActiveAll(ctx context.Context) ([]*domain.Position, error)

	// UpdateStatusIf performs an atomic compare-and-swap on status. Returns
	// true when exactly one row transitioned, false when the position was
	// not in the expected status (already handled elsewhere; callers skip,
	// never retry). The note annotates error_message on success.
	UpdateStatusIf(ctx context.Context, positionID string, expected, next domain.PositionStatus, note string) (bool, error)

	// UpdateHighWater raises the running peak price. Lowering is a no-op.
	UpdateHighWater(ctx context.Context, positionID string, price float64) error
}

// TradeStore provides access to the append-only trade history log.
type TradeStore interface {
	// Insert adds a new trade record. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// GetBySession retrieves all trades for a session, ordered by executed_at ASC.
	GetBySession(ctx context.Context, sessionID string) ([]*domain.TradeRecord, error)

	// LastTradeTime returns the timestamp of the most recent confirmed trade
	// for a session. Returns ErrNotFound when the session has no trades.
	LastTradeTime(ctx context.Context, sessionID string) (time.Time, error)
}

// EmergencyOrderStore provides access to emergency_sell_orders storage.
type EmergencyOrderStore interface {
	// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
	Insert(ctx context.Context, o *domain.EmergencySellOrder) error

	// GetActiveBySession retrieves active orders for a session.
	GetActiveBySession(ctx context.Context, sessionID string) ([]*domain.EmergencySellOrder, error)

	// Deactivate consumes an order. Returns false when the order was
	// already inactive.
	Deactivate(ctx context.Context, orderID string) (bool, error)
}

// PriceTickStore is the append-only analytics log of observed prices.
type PriceTickStore interface {
	// InsertBulk appends a batch of ticks.
	InsertBulk(ctx context.Context, ticks []*domain.PriceTick) error
}
