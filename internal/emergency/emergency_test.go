package emergency

import (
	"context"
	"io"
	"log"
	"testing"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/executor"
	"solana-bump-monitor/internal/storage/memory"
	"solana-bump-monitor/internal/wallet"
)

const testOwner = "11111111111111111111111111111111"

type fakeSigner struct{}

func (fakeSigner) PublicKey() string { return testOwner }

func (fakeSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	return []byte("signed"), nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, userID string) (wallet.Signer, error) {
	return fakeSigner{}, nil
}

type fakeSwap struct{ sells int }

func (f *fakeSwap) Swap(ctx context.Context, req *executor.SwapRequest) (*executor.SwapResult, error) {
	if req.Side == domain.TradeSell {
		f.sells++
	}
	return &executor.SwapResult{Signature: "sig", UIQuantity: 1}, nil
}

type fixture struct {
	monitor   *Monitor
	swap      *fakeSwap
	orders    *memory.EmergencyOrderStore
	positions *memory.PositionStore
	trades    *memory.TradeStore
	session   *domain.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		swap:      &fakeSwap{},
		orders:    memory.NewEmergencyOrderStore(),
		positions: memory.NewPositionStore(),
		trades:    memory.NewTradeStore(),
	}
	sessions := memory.NewSessionStore()
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
			Quote:           domain.QuoteSOL,
			TrailArmPct:     5,
			TrailDropPct:    3,
			Confirm:         domain.ConfirmConfirmed,
		},
	}
	if err := sessions.Insert(context.Background(), f.session); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	dispatcher := executor.New(executor.Options{
		Swap:      f.swap,
		Sessions:  sessions,
		Positions: f.positions,
		Trades:    f.trades,
		Signers:   fakeResolver{},
		Logger:    logger,
	})
	f.monitor = New(Options{
		Orders:     f.orders,
		Positions:  f.positions,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	return f
}

func (f *fixture) addPosition(t *testing.T, id string) {
	t.Helper()
	if err := f.positions.Insert(context.Background(), &domain.Position{
		PositionID:     id,
		SessionID:      f.session.SessionID,
		EntryPrice:     100,
		RawQuantity:    1_000_000,
		UIQuantity:     1,
		OwnerPublicKey: testOwner,
		Status:         domain.PositionActive,
	}); err != nil {
		t.Fatalf("insert position: %v", err)
	}
}

func (f *fixture) addOrder(t *testing.T, id string, limit float64) {
	t.Helper()
	if err := f.orders.Insert(context.Background(), &domain.EmergencySellOrder{
		OrderID:    id,
		SessionID:  f.session.SessionID,
		LimitPrice: limit,
		IsActive:   true,
	}); err != nil {
		t.Fatalf("insert order: %v", err)
	}
}

func TestFloorBreachLiquidatesEverything(t *testing.T) {
	// Floor at 50, price at 49: every active position closes and the
	// order deactivates.
	f := newFixture(t)
	f.addPosition(t, "pos-1")
	f.addPosition(t, "pos-2")
	f.addOrder(t, "order-1", 50)

	triggered, err := f.monitor.Check(context.Background(), f.session, 49)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !triggered {
		t.Fatal("expected the floor to trigger")
	}

	open, _ := f.positions.GetActiveBySession(context.Background(), f.session.SessionID)
	if len(open) != 0 {
		t.Errorf("%d positions still active after liquidation", len(open))
	}
	if f.swap.sells != 2 {
		t.Errorf("sell swaps = %d, want 2", f.swap.sells)
	}

	orders, _ := f.orders.GetActiveBySession(context.Background(), f.session.SessionID)
	if len(orders) != 0 {
		t.Error("consumed order still active")
	}
}

func TestAllBreachedFloorsConsumed(t *testing.T) {
	// Two floors both above the price: one liquidation pass runs, and
	// both orders are consumed, not just the first.
	f := newFixture(t)
	f.addPosition(t, "pos-1")
	f.addOrder(t, "order-1", 50)
	f.addOrder(t, "order-2", 60)
	f.addOrder(t, "order-3", 40) // below the price, stays armed

	triggered, err := f.monitor.Check(context.Background(), f.session, 49)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !triggered {
		t.Fatal("expected the floors to trigger")
	}
	if f.swap.sells != 1 {
		t.Errorf("sell swaps = %d, want 1", f.swap.sells)
	}

	orders, _ := f.orders.GetActiveBySession(context.Background(), f.session.SessionID)
	if len(orders) != 1 || orders[0].OrderID != "order-3" {
		t.Errorf("active orders after pass = %+v, want only order-3", orders)
	}
}

func TestFloorOnBoundaryTriggers(t *testing.T) {
	f := newFixture(t)
	f.addPosition(t, "pos-1")
	f.addOrder(t, "order-1", 50)

	triggered, err := f.monitor.Check(context.Background(), f.session, 50)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !triggered {
		t.Fatal("price equal to the limit must trigger")
	}
}

func TestPriceAboveFloorHolds(t *testing.T) {
	f := newFixture(t)
	f.addPosition(t, "pos-1")
	f.addOrder(t, "order-1", 50)

	triggered, err := f.monitor.Check(context.Background(), f.session, 51)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if triggered {
		t.Fatal("price above the limit must not trigger")
	}
	if f.swap.sells != 0 {
		t.Errorf("sell swaps = %d, want 0", f.swap.sells)
	}
}

func TestNoOrdersNoTrigger(t *testing.T) {
	f := newFixture(t)
	f.addPosition(t, "pos-1")

	triggered, err := f.monitor.Check(context.Background(), f.session, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if triggered {
		t.Fatal("no orders, nothing to trigger")
	}
}

func TestMissingPriceSkipsCheck(t *testing.T) {
	f := newFixture(t)
	f.addOrder(t, "order-1", 50)

	triggered, err := f.monitor.Check(context.Background(), f.session, 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if triggered {
		t.Fatal("a missing price must never read as a floor breach")
	}
}
