package postgres

import (
	"context"
	"fmt"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// EmergencyOrderStore implements storage.EmergencyOrderStore using PostgreSQL.
type EmergencyOrderStore struct {
	pool *Pool
}

// NewEmergencyOrderStore creates a new EmergencyOrderStore.
func NewEmergencyOrderStore(pool *Pool) *EmergencyOrderStore {
	return &EmergencyOrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EmergencyOrderStore = (*EmergencyOrderStore)(nil)

// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
func (s *EmergencyOrderStore) Insert(ctx context.Context, o *domain.EmergencySellOrder) error {
	if o == nil || o.OrderID == "" || o.SessionID == "" {
		return storage.ErrInvalidInput
	}
	if o.LimitPrice <= 0 {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO emergency_sell_orders (order_id, session_id, limit_price, is_active)
		VALUES ($1, $2, $3, $4)
	`, o.OrderID, o.SessionID, o.LimitPrice, o.IsActive)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert emergency order: %w", err)
	}
	return nil
}

// GetActiveBySession retrieves active orders for a session.
func (s *EmergencyOrderStore) GetActiveBySession(ctx context.Context, sessionID string) ([]*domain.EmergencySellOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, session_id, limit_price, is_active, created_at
		FROM emergency_sell_orders
		WHERE session_id = $1 AND is_active = TRUE
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get active emergency orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.EmergencySellOrder
	for rows.Next() {
		var o domain.EmergencySellOrder
		if err := rows.Scan(&o.OrderID, &o.SessionID, &o.LimitPrice, &o.IsActive, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan emergency order row: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emergency order rows: %w", err)
	}
	return orders, nil
}

// Deactivate consumes an order. The conditional update makes consumption
// exactly-once under concurrent triggers.
func (s *EmergencyOrderStore) Deactivate(ctx context.Context, orderID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE emergency_sell_orders
		SET is_active = FALSE
		WHERE order_id = $1 AND is_active = TRUE
	`, orderID)
	if err != nil {
		return false, fmt.Errorf("deactivate emergency order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
