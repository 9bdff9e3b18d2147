// Package executor turns intents into swap requests against the external
// execution service and records the outcome.
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/observability"
	"solana-bump-monitor/internal/storage"
	"solana-bump-monitor/internal/wallet"
)

// SwapRequest describes one buy or sell sent to the swap service.
type SwapRequest struct {
	Side  domain.TradeType
	Mint  string
	Quote domain.QuoteAsset

	// AmountUSD is set for buys, RawQuantity for sells.
	AmountUSD   float64
	RawQuantity uint64

	SlippageBps      int
	Confirm          domain.ConfirmPolicy
	FeeMicroLamports *uint64
	Signer           wallet.Signer
}

// SwapResult is the swap service's answer for a broadcast transaction.
type SwapResult struct {
	Signature   string
	RawQuantity uint64  // tokens received (buy) or released (sell)
	UIQuantity  float64 // display units
	FillPrice   float64 // effective USD price, 0 when unknown
}

// SwapService broadcasts swaps. Implementations must confirm to the
// requested policy before returning; a returned error means nothing was
// filled.
type SwapService interface {
	Swap(ctx context.Context, req *SwapRequest) (*SwapResult, error)
}

// Result reports one dispatched intent. Expected failures (swap rejected,
// position already handled) are carried here, not as errors.
type Result struct {
	Success   bool
	Signature string
	Skipped   bool // another actor already resolved the position
	Err       string
}

// Dispatcher executes OPEN and CLOSE intents.
type Dispatcher struct {
	swap      SwapService
	sessions  storage.SessionStore
	positions storage.PositionStore
	trades    storage.TradeStore
	signers   wallet.SignerResolver
	logger    *log.Logger
	now       func() time.Time
}

// Options for creating a Dispatcher.
type Options struct {
	Swap      SwapService
	Sessions  storage.SessionStore
	Positions storage.PositionStore
	Trades    storage.TradeStore
	Signers   wallet.SignerResolver
	Logger    *log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates an execution dispatcher.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[executor] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		swap:      opts.Swap,
		sessions:  opts.Sessions,
		positions: opts.Positions,
		trades:    opts.Trades,
		signers:   opts.Signers,
		logger:    logger,
		now:       now,
	}
}

// Execute carries out one intent at the given observed price. HOLD intents
// are a no-op. Errors are reserved for store failures; swap rejections come
// back inside the Result.
func (d *Dispatcher) Execute(ctx context.Context, session *domain.Session, intent domain.Intent, price float64) (*Result, error) {
	switch intent.Type {
	case domain.IntentOpen:
		return d.open(ctx, session, intent, price)
	case domain.IntentClose:
		return d.close(ctx, session, intent)
	case domain.IntentHold:
		return &Result{Success: true}, nil
	default:
		return nil, fmt.Errorf("unknown intent type %q", intent.Type)
	}
}

// open buys a new lot. A failed swap leaves no partial state: no position,
// no trade record, no spend accounted.
func (d *Dispatcher) open(ctx context.Context, session *domain.Session, intent domain.Intent, price float64) (*Result, error) {
	cfg := &session.Config

	signer, err := d.signers.Resolve(ctx, session.UserID)
	if err != nil {
		d.logger.Printf("session %s: resolve signer: %v", session.SessionID, err)
		return &Result{Err: fmt.Sprintf("resolve signer: %v", err)}, nil
	}

	swapped, err := d.swap.Swap(ctx, &SwapRequest{
		Side:             domain.TradeBuy,
		Mint:             session.Mint,
		Quote:            cfg.Quote,
		AmountUSD:        intent.AmountUSD,
		SlippageBps:      cfg.SlippageBps,
		Confirm:          cfg.Confirm,
		FeeMicroLamports: cfg.FeeMicroLamports,
		Signer:           signer,
	})
	if err != nil {
		d.logger.Printf("session %s: buy swap failed: %v", session.SessionID, err)
		observability.RecordSwapFailure(string(domain.TradeBuy))
		return &Result{Err: fmt.Sprintf("buy swap: %v", err)}, nil
	}

	now := d.now()
	entry := swapped.FillPrice
	if entry <= 0 {
		entry = price
	}

	pos := &domain.Position{
		PositionID:     uuid.NewString(),
		LotID:          intent.LotID,
		SessionID:      session.SessionID,
		EntryPrice:     entry,
		HighWaterPrice: entry,
		RawQuantity:    swapped.RawQuantity,
		UIQuantity:     swapped.UIQuantity,
		EntryTime:      now,
		OwnerPublicKey: signer.PublicKey(),
		Status:         domain.PositionActive,
		CreatedAt:      now,
	}
	if err := d.positions.Insert(ctx, pos); err != nil {
		return nil, fmt.Errorf("insert position: %w", err)
	}

	if err := d.trades.Insert(ctx, &domain.TradeRecord{
		TradeID:        uuid.NewString(),
		SessionID:      session.SessionID,
		PositionID:     pos.PositionID,
		Type:           domain.TradeBuy,
		Mint:           session.Mint,
		AmountUSD:      intent.AmountUSD,
		Quantity:       swapped.UIQuantity,
		Signature:      swapped.Signature,
		OwnerPublicKey: signer.PublicKey(),
		Status:         domain.TradeStatusConfirmed,
		ExecutedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("insert trade record: %w", err)
	}

	if err := d.sessions.AddDailySpend(ctx, session.SessionID, domain.DayKey(now), intent.AmountUSD); err != nil {
		return nil, fmt.Errorf("add daily spend: %w", err)
	}

	d.logger.Printf("session %s: opened lot %s (%s), %.2f USD at %.8f, sig %s",
		session.SessionID, intent.LotID, intent.Reason, intent.AmountUSD, entry, swapped.Signature)
	return &Result{Success: true, Signature: swapped.Signature}, nil
}

// close sells a position's full quantity, then transitions it through the
// conditional status update. A failed swap leaves the position active so
// the next tick retries. A lost status race skips the trade record: the
// winning actor already wrote it.
func (d *Dispatcher) close(ctx context.Context, session *domain.Session, intent domain.Intent) (*Result, error) {
	pos := intent.Position
	if pos == nil {
		return nil, fmt.Errorf("CLOSE intent without position")
	}
	cfg := &session.Config

	signer, err := d.signers.Resolve(ctx, session.UserID)
	if err != nil {
		d.logger.Printf("session %s: resolve signer: %v", session.SessionID, err)
		return &Result{Err: fmt.Sprintf("resolve signer: %v", err)}, nil
	}

	swapped, err := d.swap.Swap(ctx, &SwapRequest{
		Side:             domain.TradeSell,
		Mint:             session.Mint,
		Quote:            cfg.Quote,
		RawQuantity:      pos.RawQuantity,
		SlippageBps:      cfg.SlippageBps,
		Confirm:          cfg.Confirm,
		FeeMicroLamports: cfg.FeeMicroLamports,
		Signer:           signer,
	})
	if err != nil {
		d.logger.Printf("session %s: sell swap for position %s failed: %v", session.SessionID, pos.PositionID, err)
		observability.RecordSwapFailure(string(domain.TradeSell))
		return &Result{Err: fmt.Sprintf("sell swap: %v", err)}, nil
	}

	sold, err := d.positions.UpdateStatusIf(ctx, pos.PositionID, domain.PositionActive, domain.PositionSold, "")
	if err != nil {
		return nil, fmt.Errorf("update position status: %w", err)
	}
	if !sold {
		d.logger.Printf("session %s: position %s already handled elsewhere", session.SessionID, pos.PositionID)
		return &Result{Skipped: true, Signature: swapped.Signature}, nil
	}

	proceeds := 0.0
	if swapped.FillPrice > 0 {
		proceeds = swapped.FillPrice * pos.UIQuantity
	}

	now := d.now()
	if err := d.trades.Insert(ctx, &domain.TradeRecord{
		TradeID:        uuid.NewString(),
		SessionID:      session.SessionID,
		PositionID:     pos.PositionID,
		Type:           domain.TradeSell,
		Mint:           session.Mint,
		AmountUSD:      proceeds,
		Quantity:       pos.UIQuantity,
		Signature:      swapped.Signature,
		OwnerPublicKey: pos.OwnerPublicKey,
		Status:         domain.TradeStatusConfirmed,
		ExecutedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("insert trade record: %w", err)
	}

	d.logger.Printf("session %s: closed position %s (%s), sig %s",
		session.SessionID, pos.PositionID, intent.Reason, swapped.Signature)
	return &Result{Success: true, Signature: swapped.Signature}, nil
}
