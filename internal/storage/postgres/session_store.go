package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// SessionStore implements storage.SessionStore using PostgreSQL.
// Strategy config is stored as a JSONB column; it is validated at session
// creation, so reads trust the stored shape.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

// Insert adds a new session. Returns ErrDuplicateKey if session_id exists.
func (s *SessionStore) Insert(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.SessionID == "" {
		return storage.ErrInvalidInput
	}
	if err := sess.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}

	query := `
		INSERT INTO trading_sessions (
			session_id, user_id, mint, config, is_active, start_mode,
			session_start, last_activity, daily_buy_usd, daily_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.pool.Exec(ctx, query,
		sess.SessionID,
		sess.UserID,
		sess.Mint,
		cfg,
		sess.IsActive,
		string(sess.StartMode),
		sess.SessionStart,
		sess.LastActivity,
		sess.DailyBuyUSD,
		sess.DailyKey,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `
	session_id, user_id, mint, config, is_active, start_mode,
	session_start, last_activity, daily_buy_usd, daily_key
`

// GetByID retrieves a session. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM trading_sessions
		WHERE session_id = $1
	`, sessionID)

	sess, err := scanSession(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return sess, nil
}

// GetActive retrieves all sessions with is_active = true.
func (s *SessionStore) GetActive(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM trading_sessions
		WHERE is_active = TRUE
		ORDER BY session_start ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

// SetActive flips the is_active flag.
func (s *SessionStore) SetActive(ctx context.Context, sessionID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trading_sessions SET is_active = $2 WHERE session_id = $1
	`, sessionID, active)
	if err != nil {
		return fmt.Errorf("set session active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ClaimTick atomically advances last_activity to now if the previous value
// is older than minAge. The WHERE clause is the race guard: of two
// concurrent schedulers, exactly one update matches.
func (s *SessionStore) ClaimTick(ctx context.Context, sessionID string, now time.Time, minAge time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trading_sessions
		SET last_activity = $2
		WHERE session_id = $1 AND last_activity <= $3
	`, sessionID, now, now.Add(-minAge))
	if err != nil {
		return false, fmt.Errorf("claim tick: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddDailySpend accumulates the daily buy total, resetting the accumulator
// when dayKey rolls to a new day.
func (s *SessionStore) AddDailySpend(ctx context.Context, sessionID, dayKey string, usd float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trading_sessions
		SET daily_buy_usd = CASE WHEN daily_key = $2 THEN daily_buy_usd + $3 ELSE $3 END,
		    daily_key = $2
		WHERE session_id = $1
	`, sessionID, dayKey, usd)
	if err != nil {
		return fmt.Errorf("add daily spend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// rowScanner abstracts pgx.Row and pgx.Rows for scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess      domain.Session
		cfg       []byte
		startMode string
	)
	err := row.Scan(
		&sess.SessionID,
		&sess.UserID,
		&sess.Mint,
		&cfg,
		&sess.IsActive,
		&startMode,
		&sess.SessionStart,
		&sess.LastActivity,
		&sess.DailyBuyUSD,
		&sess.DailyKey,
	)
	if err != nil {
		return nil, err
	}
	sess.StartMode = domain.StartMode(startMode)
	if err := json.Unmarshal(cfg, &sess.Config); err != nil {
		return nil, fmt.Errorf("unmarshal session config: %w", err)
	}
	return &sess, nil
}
