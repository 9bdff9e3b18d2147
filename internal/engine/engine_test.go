package engine

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage/memory"
)

type harness struct {
	engine    *Engine
	positions *memory.PositionStore
	trades    *memory.TradeStore
	session   *domain.Session
	clock     time.Time
}

func newHarness(t *testing.T, cfg domain.SessionConfig) *harness {
	t.Helper()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}

	h := &harness{
		positions: memory.NewPositionStore(),
		trades:    memory.NewTradeStore(),
		clock:     time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	h.session = &domain.Session{
		SessionID: "sess-1",
		UserID:    "user-1",
		Mint:      "MintA",
		Config:    cfg,
		IsActive:  true,
		StartMode: domain.StartModeBuy,
		DailyKey:  domain.DayKey(h.clock),
	}
	h.engine = New(Options{
		Positions: h.positions,
		Trades:    h.trades,
		Logger:    log.New(io.Discard, "", 0),
		Now:       func() time.Time { return h.clock },
	})
	return h
}

// tick advances the clock by the poll interval and evaluates one price.
func (h *harness) tick(t *testing.T, price float64) []domain.Intent {
	t.Helper()

	h.clock = h.clock.Add(time.Duration(h.session.Config.PollIntervalSec) * time.Second)
	intents, err := h.engine.Evaluate(context.Background(), h.session, price)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return intents
}

func (h *harness) openPosition(t *testing.T, id string, entry float64) *domain.Position {
	t.Helper()

	pos := &domain.Position{
		PositionID:     id,
		LotID:          id,
		SessionID:      h.session.SessionID,
		EntryPrice:     entry,
		HighWaterPrice: entry,
		RawQuantity:    1_000_000,
		UIQuantity:     1,
		EntryTime:      h.clock,
		OwnerPublicKey: "11111111111111111111111111111111",
		Status:         domain.PositionActive,
		CreatedAt:      h.clock,
	}
	if err := h.positions.Insert(context.Background(), pos); err != nil {
		t.Fatalf("insert position: %v", err)
	}
	return pos
}

func baseConfig() domain.SessionConfig {
	return domain.SessionConfig{
		TradeSizeUSD:    10,
		PollIntervalSec: 10,
		AnchorWindowSec: 60,
		DipPct:          5,
		TakeProfitPct:   0,
		StopLossPct:     10,
		CooldownSec:     0,
		DailyCapUSD:     1000,
		SlippageBps:     100,
		Quote:           domain.QuoteSOL,
		TrailArmPct:     5,
		TrailDropPct:    3,
		Confirm:         domain.ConfirmConfirmed,
	}
}

func requireSingleIntent(t *testing.T, intents []domain.Intent, typ domain.IntentType, reason string) domain.Intent {
	t.Helper()

	if len(intents) != 1 {
		t.Fatalf("got %d intents, want 1: %+v", len(intents), intents)
	}
	if intents[0].Type != typ {
		t.Fatalf("intent type = %s, want %s", intents[0].Type, typ)
	}
	if intents[0].Reason != reason {
		t.Fatalf("intent reason = %q, want %q", intents[0].Reason, reason)
	}
	return intents[0]
}

func TestDipEntry(t *testing.T) {
	// Price series [100, 100, 94] inside the 60s anchor window is a 6%
	// dip against a 5% threshold; the OPEN fires on the third tick.
	h := newHarness(t, baseConfig())

	if got := h.tick(t, 100); len(got) != 0 {
		t.Fatalf("tick 1: unexpected intents %+v", got)
	}
	if got := h.tick(t, 100); len(got) != 0 {
		t.Fatalf("tick 2: unexpected intents %+v", got)
	}

	intent := requireSingleIntent(t, h.tick(t, 94), domain.IntentOpen, domain.ReasonDipEntry)
	if intent.AmountUSD != 10 {
		t.Errorf("amount = %.2f, want 10", intent.AmountUSD)
	}
	if intent.LotID == "" {
		t.Error("OPEN intent missing lot id")
	}
}

func TestDipEntry_ShallowDipHolds(t *testing.T) {
	h := newHarness(t, baseConfig())

	h.tick(t, 100)
	if got := h.tick(t, 96); len(got) != 0 {
		t.Fatalf("4%% dip should not trigger a 5%% threshold: %+v", got)
	}
}

func TestStopLoss(t *testing.T) {
	h := newHarness(t, baseConfig())
	pos := h.openPosition(t, "pos-1", 100)

	intent := requireSingleIntent(t, h.tick(t, 89), domain.IntentClose, domain.ReasonStopLoss)
	if intent.Position.PositionID != pos.PositionID {
		t.Errorf("close targets %s, want %s", intent.Position.PositionID, pos.PositionID)
	}
}

func TestStopLoss_ExactBoundary(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.openPosition(t, "pos-1", 100)

	requireSingleIntent(t, h.tick(t, 90), domain.IntentClose, domain.ReasonStopLoss)
}

func TestTrailingStop(t *testing.T) {
	// Entry 100, arm at 105, drop 3%. Price runs to 110 then falls to
	// 106.5, a 3% drop from the high water; the exit fires even though
	// the price is still above entry.
	h := newHarness(t, baseConfig())
	pos := h.openPosition(t, "pos-1", 100)

	if got := h.tick(t, 110); len(got) != 0 {
		t.Fatalf("rising price should hold: %+v", got)
	}
	// The driver persists the peak after each tick.
	if err := h.positions.UpdateHighWater(context.Background(), pos.PositionID, 110); err != nil {
		t.Fatalf("UpdateHighWater: %v", err)
	}

	requireSingleIntent(t, h.tick(t, 106.5), domain.IntentClose, domain.ReasonTrailingStop)
}

func TestTakeProfit(t *testing.T) {
	cfg := baseConfig()
	cfg.TakeProfitPct = 20
	h := newHarness(t, cfg)
	h.openPosition(t, "pos-1", 100)

	requireSingleIntent(t, h.tick(t, 120), domain.IntentClose, domain.ReasonTakeProfit)
}

func TestNoPriceMeansNoIntents(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.openPosition(t, "pos-1", 100)

	if got := h.tick(t, 0); got != nil {
		t.Fatalf("zero price must skip evaluation, got %+v", got)
	}
}

func TestCooldownBlocksEntry(t *testing.T) {
	cfg := baseConfig()
	cfg.CooldownSec = 300
	h := newHarness(t, cfg)

	if err := h.trades.Insert(context.Background(), &domain.TradeRecord{
		TradeID:    "trade-1",
		SessionID:  h.session.SessionID,
		Type:       domain.TradeBuy,
		Mint:       h.session.Mint,
		Status:     domain.TradeStatusConfirmed,
		ExecutedAt: h.clock,
	}); err != nil {
		t.Fatalf("insert trade: %v", err)
	}

	h.tick(t, 100)
	h.tick(t, 100)
	if got := h.tick(t, 90); len(got) != 0 {
		t.Fatalf("dip during cooldown must hold: %+v", got)
	}

	// Past the cooldown a fresh dip fires.
	h.clock = h.clock.Add(300 * time.Second)
	h.tick(t, 100)
	requireSingleIntent(t, h.tick(t, 90), domain.IntentOpen, domain.ReasonDipEntry)
}

func TestDailyCapBlocksEntry(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.session.DailyBuyUSD = 995
	h.session.DailyKey = domain.DayKey(h.clock)

	h.tick(t, 100)
	if got := h.tick(t, 90); len(got) != 0 {
		t.Fatalf("entry past the daily cap must hold: %+v", got)
	}
}

func TestDailyCapRollsOverAtMidnight(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.session.DailyBuyUSD = 995
	h.session.DailyKey = "2026-08-31" // yesterday's accumulator

	h.tick(t, 100)
	requireSingleIntent(t, h.tick(t, 90), domain.IntentOpen, domain.ReasonDipEntry)
}

func TestSlowdownConfirmation(t *testing.T) {
	cfg := baseConfig()
	cfg.SlowdownConfirmTicks = 3
	h := newHarness(t, cfg)

	h.tick(t, 100)
	if got := h.tick(t, 90); len(got) != 0 {
		t.Fatalf("streak 1 of 3 must hold: %+v", got)
	}
	if got := h.tick(t, 90); len(got) != 0 {
		t.Fatalf("streak 2 of 3 must hold: %+v", got)
	}
	requireSingleIntent(t, h.tick(t, 90), domain.IntentOpen, domain.ReasonDipEntry)
}

func TestSlowdownConfirmation_StreakResets(t *testing.T) {
	cfg := baseConfig()
	cfg.SlowdownConfirmTicks = 2
	h := newHarness(t, cfg)
	h.openPosition(t, "pos-1", 100)

	if got := h.tick(t, 89); len(got) != 0 {
		t.Fatalf("streak 1 of 2 must hold: %+v", got)
	}
	// Price recovers, the stop-loss signal clears and the streak resets.
	if got := h.tick(t, 95); len(got) != 0 {
		t.Fatalf("recovered price must hold: %+v", got)
	}
	if got := h.tick(t, 89); len(got) != 0 {
		t.Fatalf("restarted streak 1 of 2 must hold: %+v", got)
	}
	requireSingleIntent(t, h.tick(t, 89), domain.IntentClose, domain.ReasonStopLoss)
}

func TestForgetClearsConfirmationState(t *testing.T) {
	cfg := baseConfig()
	cfg.SlowdownConfirmTicks = 2
	h := newHarness(t, cfg)
	h.openPosition(t, "pos-1", 100)

	if got := h.tick(t, 89); len(got) != 0 {
		t.Fatalf("streak 1 of 2 must hold: %+v", got)
	}

	// Dropping the session's state wipes the partial streak, so after it
	// the signal must confirm from scratch.
	h.engine.Forget(h.session.SessionID)

	if got := h.tick(t, 89); len(got) != 0 {
		t.Fatalf("post-forget streak 1 of 2 must hold: %+v", got)
	}
	requireSingleIntent(t, h.tick(t, 89), domain.IntentClose, domain.ReasonStopLoss)
}

func TestSellFirstSuppressesEntry(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.session.StartMode = domain.StartModeSell

	h.tick(t, 100)
	if got := h.tick(t, 90); len(got) != 0 {
		t.Fatalf("sell-first session must not buy before its first sell: %+v", got)
	}

	if err := h.trades.Insert(context.Background(), &domain.TradeRecord{
		TradeID:    "trade-1",
		SessionID:  h.session.SessionID,
		Type:       domain.TradeSell,
		Mint:       h.session.Mint,
		Status:     domain.TradeStatusConfirmed,
		ExecutedAt: h.clock,
	}); err != nil {
		t.Fatalf("insert trade: %v", err)
	}

	requireSingleIntent(t, h.tick(t, 90), domain.IntentOpen, domain.ReasonDipEntry)
}

func TestBigDipSecondLot(t *testing.T) {
	cfg := baseConfig()
	cfg.SeparateLots = true
	cfg.MaxConcurrentLots = 2
	cfg.SecondLotSizeUSD = 5
	cfg.BigDipFloorDropPct = 20
	cfg.BigDipHoldMinutes = 30
	cfg.StopLossPct = 30 // keep the first lot open through the big dip
	h := newHarness(t, cfg)
	h.openPosition(t, "pos-1", 100)

	// Deep enough but the first lot is too young.
	if got := h.tick(t, 79); len(got) != 0 {
		t.Fatalf("young first lot must block a second: %+v", got)
	}

	h.clock = h.clock.Add(time.Duration(cfg.BigDipHoldMinutes) * time.Minute)

	open := requireSingleIntent(t, h.tick(t, 79), domain.IntentOpen, domain.ReasonBigDipEntry)
	if open.AmountUSD != 5 {
		t.Errorf("second lot amount = %.2f, want 5", open.AmountUSD)
	}
}

func TestLotCapacityCapsEntries(t *testing.T) {
	cfg := baseConfig()
	cfg.SeparateLots = true
	cfg.MaxConcurrentLots = 2
	cfg.BigDipFloorDropPct = 5
	cfg.BigDipHoldMinutes = 0
	cfg.StopLossPct = 60
	h := newHarness(t, cfg)
	h.openPosition(t, "pos-1", 100)
	h.openPosition(t, "pos-2", 100)

	if got := h.tick(t, 80); len(got) != 0 {
		t.Fatalf("a full session must not open more lots: %+v", got)
	}
}

func TestAdaptiveTrailWidensOnPump(t *testing.T) {
	cfg := baseConfig()
	cfg.AdaptiveTrail = true
	cfg.RocWindowSec = 60
	cfg.TrailSensitivity = 0.5
	cfg.MaxTrailBiasPct = 2
	h := newHarness(t, cfg)
	pos := h.openPosition(t, "pos-1", 100)

	// Fast rise: +10% over the roc window clamps the bias at +2, making
	// the effective drop 5% instead of 3%.
	h.tick(t, 100)
	h.tick(t, 110)
	if err := h.positions.UpdateHighWater(context.Background(), pos.PositionID, 110); err != nil {
		t.Fatalf("UpdateHighWater: %v", err)
	}

	// 106.5 is a 3.2% drop from 110: inside the widened 5% trail.
	if got := h.tick(t, 106.5); len(got) != 0 {
		t.Fatalf("widened trail should hold at 106.5: %+v", got)
	}
	// 104 is a 5.5% drop: past the widened trail.
	requireSingleIntent(t, h.tick(t, 104.0), domain.IntentClose, domain.ReasonTrailingStop)
}
