package executor

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/observability"
	"solana-bump-monitor/internal/storage/memory"
	"solana-bump-monitor/internal/wallet"
)

const testOwner = "11111111111111111111111111111111"

type fakeSigner struct{ key string }

func (f *fakeSigner) PublicKey() string { return f.key }

func (f *fakeSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	return []byte("signed"), nil
}

type fakeResolver struct{ err error }

func (f *fakeResolver) Resolve(ctx context.Context, userID string) (wallet.Signer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeSigner{key: testOwner}, nil
}

type fakeSwap struct {
	calls   []*SwapRequest
	err     error
	nextSig string
}

func (f *fakeSwap) Swap(ctx context.Context, req *SwapRequest) (*SwapResult, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	sig := f.nextSig
	if sig == "" {
		sig = "sig-1"
	}
	return &SwapResult{
		Signature:   sig,
		RawQuantity: 5_000_000,
		UIQuantity:  5,
		FillPrice:   0.002,
	}, nil
}

type fixture struct {
	dispatcher *Dispatcher
	swap       *fakeSwap
	sessions   *memory.SessionStore
	positions  *memory.PositionStore
	trades     *memory.TradeStore
	session    *domain.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		swap:      &fakeSwap{},
		sessions:  memory.NewSessionStore(),
		positions: memory.NewPositionStore(),
		trades:    memory.NewTradeStore(),
	}
	f.session = &domain.Session{
		SessionID: "sess-1",
		UserID:    "user-1",
		Mint:      "MintA",
		IsActive:  true,
		Config: domain.SessionConfig{
			TradeSizeUSD:    10,
			PollIntervalSec: 10,
			AnchorWindowSec: 60,
			DipPct:          5,
			StopLossPct:     10,
			DailyCapUSD:     1000,
			SlippageBps:     150,
			Quote:           domain.QuoteSOL,
			Confirm:         domain.ConfirmConfirmed,
		},
		DailyKey: domain.DayKey(time.Now()),
	}
	if err := f.sessions.Insert(context.Background(), f.session); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	f.dispatcher = New(Options{
		Swap:      f.swap,
		Sessions:  f.sessions,
		Positions: f.positions,
		Trades:    f.trades,
		Signers:   &fakeResolver{},
		Logger:    log.New(io.Discard, "", 0),
	})
	return f
}

func TestRoundTrip(t *testing.T) {
	// A successful OPEN produces exactly one position and one trade
	// record; the matching CLOSE transitions it to sold and adds exactly
	// one more record.
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.dispatcher.Execute(ctx, f.session, domain.Intent{
		Type:      domain.IntentOpen,
		SessionID: f.session.SessionID,
		Reason:    domain.ReasonDipEntry,
		AmountUSD: 10,
		LotID:     "lot-1",
	}, 0.002)
	if err != nil {
		t.Fatalf("Execute OPEN: %v", err)
	}
	if !res.Success {
		t.Fatalf("OPEN not successful: %+v", res)
	}

	open, err := f.positions.GetActiveBySession(ctx, f.session.SessionID)
	if err != nil {
		t.Fatalf("GetActiveBySession: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("got %d active positions, want 1", len(open))
	}
	pos := open[0]
	if pos.EntryPrice != 0.002 || pos.HighWaterPrice != 0.002 {
		t.Errorf("entry/high water = %.6f/%.6f, want 0.002", pos.EntryPrice, pos.HighWaterPrice)
	}
	if pos.OwnerPublicKey != testOwner {
		t.Errorf("owner = %q, want %q", pos.OwnerPublicKey, testOwner)
	}

	sess, err := f.sessions.GetByID(ctx, f.session.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if sess.DailyBuyUSD != 10 {
		t.Errorf("daily spend = %.2f, want 10", sess.DailyBuyUSD)
	}

	res, err = f.dispatcher.Execute(ctx, f.session, domain.Intent{
		Type:      domain.IntentClose,
		SessionID: f.session.SessionID,
		Reason:    domain.ReasonStopLoss,
		Position:  pos,
	}, 0.0018)
	if err != nil {
		t.Fatalf("Execute CLOSE: %v", err)
	}
	if !res.Success {
		t.Fatalf("CLOSE not successful: %+v", res)
	}

	closed, err := f.positions.GetByID(ctx, pos.PositionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if closed.Status != domain.PositionSold {
		t.Errorf("status = %s, want sold", closed.Status)
	}

	trades, err := f.trades.GetBySession(ctx, f.session.SessionID)
	if err != nil {
		t.Fatalf("GetBySession: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trade records, want 2 per round trip", len(trades))
	}
	if trades[0].Type != domain.TradeBuy || trades[1].Type != domain.TradeSell {
		t.Errorf("trade order = %s, %s; want buy, sell", trades[0].Type, trades[1].Type)
	}
	if len(f.swap.calls) != 2 {
		t.Errorf("swap called %d times, want 2", len(f.swap.calls))
	}
}

func TestOpenFailureLeavesNoState(t *testing.T) {
	f := newFixture(t)
	f.swap.err = errors.New("swap rejected")
	ctx := context.Background()

	failures := observability.DefaultMetrics.SwapFailures.WithLabelValues("buy")
	before := testutil.ToFloat64(failures)

	res, err := f.dispatcher.Execute(ctx, f.session, domain.Intent{
		Type:      domain.IntentOpen,
		SessionID: f.session.SessionID,
		AmountUSD: 10,
		LotID:     "lot-1",
	}, 0.002)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure result")
	}
	if got := testutil.ToFloat64(failures) - before; got != 1 {
		t.Errorf("buy swap failure counter rose by %v, want 1", got)
	}

	open, _ := f.positions.GetActiveBySession(ctx, f.session.SessionID)
	if len(open) != 0 {
		t.Errorf("failed OPEN left %d positions", len(open))
	}
	trades, _ := f.trades.GetBySession(ctx, f.session.SessionID)
	if len(trades) != 0 {
		t.Errorf("failed OPEN left %d trade records", len(trades))
	}
	sess, _ := f.sessions.GetByID(ctx, f.session.SessionID)
	if sess.DailyBuyUSD != 0 {
		t.Errorf("failed OPEN accounted %.2f spend", sess.DailyBuyUSD)
	}
}

func TestCloseFailureLeavesPositionActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := &domain.Position{
		PositionID:     "pos-1",
		LotID:          "lot-1",
		SessionID:      f.session.SessionID,
		EntryPrice:     0.002,
		HighWaterPrice: 0.002,
		RawQuantity:    5_000_000,
		UIQuantity:     5,
		EntryTime:      time.Now(),
		OwnerPublicKey: testOwner,
		Status:         domain.PositionActive,
	}
	if err := f.positions.Insert(ctx, pos); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	f.swap.err = errors.New("swap rejected")
	failures := observability.DefaultMetrics.SwapFailures.WithLabelValues("sell")
	before := testutil.ToFloat64(failures)

	res, err := f.dispatcher.Execute(ctx, f.session, domain.Intent{
		Type:     domain.IntentClose,
		Position: pos,
	}, 0.0018)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure result")
	}
	if got := testutil.ToFloat64(failures) - before; got != 1 {
		t.Errorf("sell swap failure counter rose by %v, want 1", got)
	}

	got, _ := f.positions.GetByID(ctx, pos.PositionID)
	if got.Status != domain.PositionActive {
		t.Errorf("status = %s, want active for retry", got.Status)
	}
}

func TestCloseSkipsWhenAlreadyHandled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := &domain.Position{
		PositionID:     "pos-1",
		SessionID:      f.session.SessionID,
		EntryPrice:     0.002,
		RawQuantity:    5_000_000,
		UIQuantity:     5,
		OwnerPublicKey: testOwner,
		Status:         domain.PositionActive,
	}
	if err := f.positions.Insert(ctx, pos); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	// Another actor sells it first.
	if ok, err := f.positions.UpdateStatusIf(ctx, pos.PositionID, domain.PositionActive, domain.PositionSold, ""); err != nil || !ok {
		t.Fatalf("seed transition: ok=%v err=%v", ok, err)
	}

	res, err := f.dispatcher.Execute(ctx, f.session, domain.Intent{
		Type:     domain.IntentClose,
		Position: pos,
	}, 0.002)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("expected skip, got %+v", res)
	}

	trades, _ := f.trades.GetBySession(ctx, f.session.SessionID)
	if len(trades) != 0 {
		t.Errorf("lost race wrote %d trade records, want 0", len(trades))
	}
}

func TestSignerFailureIsCleanNoOp(t *testing.T) {
	f := newFixture(t)
	f.dispatcher = New(Options{
		Swap:      f.swap,
		Sessions:  f.sessions,
		Positions: f.positions,
		Trades:    f.trades,
		Signers:   &fakeResolver{err: errors.New("no wallet")},
		Logger:    log.New(io.Discard, "", 0),
	})

	res, err := f.dispatcher.Execute(context.Background(), f.session, domain.Intent{
		Type:      domain.IntentOpen,
		AmountUSD: 10,
		LotID:     "lot-1",
	}, 0.002)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure result")
	}
	if len(f.swap.calls) != 0 {
		t.Errorf("swap called %d times without a signer", len(f.swap.calls))
	}
}
