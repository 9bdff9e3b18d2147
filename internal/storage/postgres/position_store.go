package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
// UpdateStatusIf is the concurrency-control primitive for the whole system:
// every transition away from `active` goes through its conditional update.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" || p.SessionID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trading_positions (
			position_id, lot_id, session_id, entry_price, high_water_price,
			raw_quantity, ui_quantity, entry_time, owner_public_key, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		p.PositionID,
		p.LotID,
		p.SessionID,
		p.EntryPrice,
		p.HighWaterPrice,
		p.RawQuantity,
		p.UIQuantity,
		p.EntryTime,
		p.OwnerPublicKey,
		string(p.Status),
		p.ErrorMessage,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

const positionColumns = `
	position_id, lot_id, session_id, entry_price, high_water_price,
	raw_quantity, ui_quantity, entry_time, owner_public_key, status,
	error_message, created_at
`

// GetByID retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+positionColumns+`
		FROM trading_positions
		WHERE position_id = $1
	`, positionID)

	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// GetActiveBySession retrieves active positions for a session, entry_time ASC.
func (s *PositionStore) GetActiveBySession(ctx context.Context, sessionID string) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM trading_positions
		WHERE session_id = $1 AND status = 'active'
		ORDER BY entry_time ASC, position_id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get active positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetActiveAll retrieves every active position across sessions.
func (s *PositionStore) GetActiveAll(ctx context.Context) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM trading_positions
		WHERE status = 'active'
		ORDER BY entry_time ASC, position_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get all active positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// UpdateStatusIf performs an atomic compare-and-swap on status. The WHERE
// clause on the expected status plus the affected-row count is the sole
// mechanism preventing two concurrent executions from both acting on the
// same position. Zero rows affected means another actor already resolved it.
func (s *PositionStore) UpdateStatusIf(ctx context.Context, positionID string, expected, next domain.PositionStatus, note string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trading_positions
		SET status = $3, error_message = $4
		WHERE position_id = $1 AND status = $2
	`, positionID, string(expected), string(next), note)
	if err != nil {
		return false, fmt.Errorf("conditional status update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateHighWater raises the running peak price; lowering is a no-op.
func (s *PositionStore) UpdateHighWater(ctx context.Context, positionID string, price float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE trading_positions
		SET high_water_price = $2
		WHERE position_id = $1 AND high_water_price < $2
	`, positionID, price)
	if err != nil {
		return fmt.Errorf("update high water: %w", err)
	}
	return nil
}

func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		p      domain.Position
		status string
	)
	err := row.Scan(
		&p.PositionID,
		&p.LotID,
		&p.SessionID,
		&p.EntryPrice,
		&p.HighWaterPrice,
		&p.RawQuantity,
		&p.UIQuantity,
		&p.EntryTime,
		&p.OwnerPublicKey,
		&status,
		&p.ErrorMessage,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatus(status)
	return &p, nil
}
