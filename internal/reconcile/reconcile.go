// Package reconcile compares believed open positions against authoritative
// on-chain token balances and flags positions whose tokens are no longer in
// the owning wallet ("phantom" positions). Bookkeeping drifts from wallet
// state through manual transfers, failed sells that still debited balance,
// or wallets reused outside the platform; this pass is the self-healing
// mechanism that keeps the store honest.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/observability"
	"solana-bump-monitor/internal/solana"
	"solana-bump-monitor/internal/storage"
)

// Position outcomes.
const (
	OutcomeValid   = "valid"
	OutcomePhantom = "phantom"
	OutcomeUnknown = "unknown" // balance lookup failed for the wallet
)

// PositionResult is the reconciliation verdict for one position.
type PositionResult struct {
	PositionID string `json:"positionId"`
	SessionID  string `json:"sessionId"`
	Mint       string `json:"mint"`
	Wallet     string `json:"wallet"`
	Outcome    string `json:"outcome"`
	Balance    uint64 `json:"balance"`
	Cleaned    bool   `json:"cleaned"`
}

// Report summarizes one reconciliation run.
type Report struct {
	DryRun       bool             `json:"dryRun"`
	TotalHolding int              `json:"totalHolding"`
	ValidCount   int              `json:"validCount"`
	PhantomCount int              `json:"phantomCount"`
	UnknownCount int              `json:"unknownCount"`
	CleanedCount int              `json:"cleanedCount"`
	Results      []PositionResult `json:"results"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Engine runs reconciliation passes.
type Engine struct {
	sessions  storage.SessionStore
	positions storage.PositionStore
	balances  solana.BalanceReader
	logger    *log.Logger
	now       func() time.Time
}

// Options for creating an Engine.
type Options struct {
	Sessions  storage.SessionStore
	Positions storage.PositionStore
	Balances  solana.BalanceReader
	Logger    *log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a reconciliation engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[reconcile] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		sessions:  opts.Sessions,
		positions: opts.Positions,
		balances:  opts.Balances,
		logger:    logger,
		now:       now,
	}
}

// Run reconciles every active position across all sessions. In dry-run
// mode (apply=false) it only reports; with apply=true each phantom position
// transitions active → sold through the conditional update, annotated with
// why. A position already transitioned by a concurrent sell simply loses
// the conditional update and is not counted as cleaned.
func (e *Engine) Run(ctx context.Context, apply bool) (*Report, error) {
	positions, err := e.positions.GetActiveAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active positions: %w", err)
	}
	observability.DefaultMetrics.OpenPositions.Set(float64(len(positions)))
	return e.reconcile(ctx, positions, apply)
}

// RunSession reconciles a single session's active positions.
func (e *Engine) RunSession(ctx context.Context, sessionID string, apply bool) (*Report, error) {
	positions, err := e.positions.GetActiveBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load active positions: %w", err)
	}
	return e.reconcile(ctx, positions, apply)
}

func (e *Engine) reconcile(ctx context.Context, positions []*domain.Position, apply bool) (*Report, error) {
	report := &Report{
		DryRun:    !apply,
		Timestamp: e.now(),
		Results:   []PositionResult{},
	}
	if len(positions) == 0 {
		return report, nil
	}

	mints, err := e.mintsBySession(ctx, positions)
	if err != nil {
		return nil, err
	}

	// One balance query per distinct wallet, covering both token programs.
	byWallet := make(map[string][]*domain.Position)
	for _, pos := range positions {
		byWallet[pos.OwnerPublicKey] = append(byWallet[pos.OwnerPublicKey], pos)
	}

	for owner, held := range byWallet {
		balances, err := e.balances.GetTokenBalances(ctx, owner)
		if err != nil {
			// A failed wallet lookup must not abort the batch; its
			// positions are unknown, neither valid nor phantom.
			e.logger.Printf("wallet %s: balance lookup failed: %v", owner, err)
			for _, pos := range held {
				report.Results = append(report.Results, PositionResult{
					PositionID: pos.PositionID,
					SessionID:  pos.SessionID,
					Mint:       mints[pos.SessionID],
					Wallet:     owner,
					Outcome:    OutcomeUnknown,
				})
				report.UnknownCount++
			}
			continue
		}

		// A wallet may hold several lots of the same mint. A zero
		// aggregate balance makes every lot phantom; any nonzero balance
		// clears all of them, because a partial balance cannot be
		// attributed to a specific lot.
		for _, pos := range held {
			mint := mints[pos.SessionID]
			balance := balances[mint]
			result := PositionResult{
				PositionID: pos.PositionID,
				SessionID:  pos.SessionID,
				Mint:       mint,
				Wallet:     owner,
				Balance:    balance,
			}

			if balance > 0 {
				result.Outcome = OutcomeValid
				report.ValidCount++
				report.Results = append(report.Results, result)
				continue
			}

			result.Outcome = OutcomePhantom
			report.PhantomCount++
			if apply {
				cleaned, err := e.positions.UpdateStatusIf(ctx, pos.PositionID,
					domain.PositionActive, domain.PositionSold, domain.ReasonPhantom)
				if err != nil {
					return nil, fmt.Errorf("clean phantom position %s: %w", pos.PositionID, err)
				}
				result.Cleaned = cleaned
				if cleaned {
					report.CleanedCount++
					e.logger.Printf("position %s: phantom cleaned (wallet %s holds no %s)",
						pos.PositionID, owner, mint)
				}
			}
			report.Results = append(report.Results, result)
		}
	}

	report.TotalHolding = len(positions)
	return report, nil
}

func (e *Engine) mintsBySession(ctx context.Context, positions []*domain.Position) (map[string]string, error) {
	mints := make(map[string]string)
	for _, pos := range positions {
		if _, ok := mints[pos.SessionID]; ok {
			continue
		}
		sess, err := e.sessions.GetByID(ctx, pos.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", pos.SessionID, err)
		}
		mints[pos.SessionID] = sess.Mint
	}
	return mints, nil
}
