package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL. The table is
// append-only: no update or delete paths exist.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade record. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TradeID == "" || t.SessionID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trade_records (
			trade_id, session_id, position_id, trade_type, mint, amount_usd,
			quantity, signature, owner_public_key, status, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		t.TradeID,
		t.SessionID,
		t.PositionID,
		string(t.Type),
		t.Mint,
		t.AmountUSD,
		t.Quantity,
		t.Signature,
		t.OwnerPublicKey,
		t.Status,
		t.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetBySession retrieves all trades for a session, ordered by executed_at ASC.
func (s *TradeStore) GetBySession(ctx context.Context, sessionID string) ([]*domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, session_id, position_id, trade_type, mint, amount_usd,
		       quantity, signature, owner_public_key, status, executed_at
		FROM trade_records
		WHERE session_id = $1
		ORDER BY executed_at ASC, trade_id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get trades by session: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// LastTradeTime returns the most recent confirmed trade timestamp for a
// session. Cooldown computation reads this, never session state.
func (s *TradeStore) LastTradeTime(ctx context.Context, sessionID string) (time.Time, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT executed_at
		FROM trade_records
		WHERE session_id = $1 AND status = 'confirmed'
		ORDER BY executed_at DESC
		LIMIT 1
	`, sessionID)

	var t time.Time
	if err := row.Scan(&t); err != nil {
		if isNotFoundError(err) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("last trade time: %w", err)
	}
	return t, nil
}

func scanTrades(rows pgx.Rows) ([]*domain.TradeRecord, error) {
	var trades []*domain.TradeRecord
	for rows.Next() {
		var (
			t         domain.TradeRecord
			tradeType string
		)
		err := rows.Scan(
			&t.TradeID,
			&t.SessionID,
			&t.PositionID,
			&tradeType,
			&t.Mint,
			&t.AmountUSD,
			&t.Quantity,
			&t.Signature,
			&t.OwnerPublicKey,
			&t.Status,
			&t.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Type = domain.TradeType(tradeType)
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}
