package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

// Engine evaluates one session per call and emits intents. It keeps
// in-memory per-session price history for dip detection and per-signal
// streak counters for slowdown confirmation; both live only as long as the
// process, which is acceptable because a restart merely delays a signal by
// a few ticks.
type Engine struct {
	positions storage.PositionStore
	trades    storage.TradeStore
	logger    *log.Logger
	now       func() time.Time

	mu      sync.Mutex
	history map[string]*priceHistory
	streaks map[string]int
}

// Options for creating an Engine.
type Options struct {
	Positions storage.PositionStore
	Trades    storage.TradeStore
	Logger    *log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a decision engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		positions: opts.Positions,
		trades:    opts.Trades,
		logger:    logger,
		now:       now,
		history:   make(map[string]*priceHistory),
		streaks:   make(map[string]int),
	}
}

// Evaluate runs the entry and exit rules for one session at the current
// price and returns the intents to dispatch. A non-positive price means the
// oracle yielded nothing this tick; the engine records no history and emits
// no intents.
func (e *Engine) Evaluate(ctx context.Context, session *domain.Session, price float64) ([]domain.Intent, error) {
	if price <= 0 {
		return nil, nil
	}
	cfg := &session.Config
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	hist := e.history[session.SessionID]
	if hist == nil {
		hist = &priceHistory{}
		e.history[session.SessionID] = hist
	}
	hist.observe(now, price, e.retention(cfg))

	positions, err := e.positions.GetActiveBySession(ctx, session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load active positions: %w", err)
	}

	var intents []domain.Intent

	trailDrop := e.effectiveTrailDrop(cfg, hist, now)
	for _, pos := range positions {
		highWater := pos.HighWaterPrice
		if price > highWater {
			highWater = price
		}

		state, reason := ComputeExitState(pos, price, highWater, trailDrop, cfg)
		key := "exit:" + session.SessionID + ":" + pos.PositionID
		if state != ExitTriggered {
			delete(e.streaks, key)
			continue
		}
		if !e.confirmed(key, cfg.SlowdownConfirmTicks) {
			continue
		}
		delete(e.streaks, key)
		intents = append(intents, domain.Intent{
			Type:      domain.IntentClose,
			SessionID: session.SessionID,
			Reason:    reason,
			Position:  pos,
		})
	}

	if open, ok := e.entryIntent(ctx, session, positions, price, now, hist); ok {
		intents = append(intents, open)
	}

	return intents, nil
}

// Forget drops in-memory state for a session, called when it goes inactive.
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.history, sessionID)
	delete(e.streaks, "open:"+sessionID)
	delete(e.streaks, "open2:"+sessionID)
	prefix := "exit:" + sessionID + ":"
	for key := range e.streaks {
		if strings.HasPrefix(key, prefix) {
			delete(e.streaks, key)
		}
	}
}

// entryIntent evaluates the dip-entry and big-dip lot rules. At most one
// OPEN per tick per session.
func (e *Engine) entryIntent(ctx context.Context, session *domain.Session, positions []*domain.Position, price float64, now time.Time, hist *priceHistory) (domain.Intent, bool) {
	cfg := &session.Config

	if len(positions) >= cfg.LotCapacity() {
		return domain.Intent{}, false
	}

	var (
		signal bool
		reason string
		amount float64
		key    string
	)
	switch {
	case len(positions) == 0:
		max, ok := hist.windowMax(now, time.Duration(cfg.AnchorWindowSec)*time.Second)
		signal = ok && max > 0 && (max-price)/max*100 >= cfg.DipPct
		reason = domain.ReasonDipEntry
		amount = cfg.TradeSizeUSD
		key = "open:" + session.SessionID
	case cfg.SeparateLots:
		// A second lot opens only after the first has been held long
		// enough and price has fallen past the big-dip floor below its
		// entry. positions are ordered oldest first.
		first := positions[0]
		held := now.Sub(first.EntryTime) >= time.Duration(cfg.BigDipHoldMinutes)*time.Minute
		signal = held && price <= first.EntryPrice*(1-cfg.BigDipFloorDropPct/100)
		reason = domain.ReasonBigDipEntry
		amount = cfg.NextLotSizeUSD(len(positions))
		key = "open2:" + session.SessionID
	default:
		return domain.Intent{}, false
	}

	if !signal {
		delete(e.streaks, key)
		return domain.Intent{}, false
	}
	if !e.confirmed(key, cfg.SlowdownConfirmTicks) {
		return domain.Intent{}, false
	}

	// Gates below do not reset the streak: the signal stays confirmed and
	// fires as soon as the cooldown or cap allows.
	if session.StartMode == domain.StartModeSell && !e.hasConfirmedSell(ctx, session.SessionID) {
		return domain.Intent{}, false
	}
	if cfg.CooldownSec > 0 {
		last, err := e.trades.LastTradeTime(ctx, session.SessionID)
		switch {
		case err == nil:
			if now.Sub(last) < time.Duration(cfg.CooldownSec)*time.Second {
				return domain.Intent{}, false
			}
		case errors.Is(err, storage.ErrNotFound):
			// No trades yet, no cooldown.
		default:
			e.logger.Printf("session %s: last trade time: %v", session.SessionID, err)
			return domain.Intent{}, false
		}
	}
	if session.SpentToday(now)+amount > cfg.DailyCapUSD {
		return domain.Intent{}, false
	}

	delete(e.streaks, key)
	return domain.Intent{
		Type:      domain.IntentOpen,
		SessionID: session.SessionID,
		Reason:    reason,
		AmountUSD: amount,
		LotID:     uuid.NewString(),
	}, true
}

// confirmed advances the streak for a live signal and reports whether it
// has persisted long enough to act on. Thresholds <= 1 act immediately.
func (e *Engine) confirmed(key string, requiredTicks int) bool {
	e.streaks[key]++
	if requiredTicks <= 1 {
		return true
	}
	return e.streaks[key] >= requiredTicks
}

// effectiveTrailDrop applies the adaptive-trail bias: a fast-rising token
// gets a wider trail, a fast-falling one a tighter trail, clamped to the
// configured max bias on both sides.
func (e *Engine) effectiveTrailDrop(cfg *domain.SessionConfig, hist *priceHistory, now time.Time) float64 {
	drop := cfg.TrailDropPct
	if !cfg.AdaptiveTrail {
		return drop
	}

	roc, ok := hist.rateOfChange(now, time.Duration(cfg.RocWindowSec)*time.Second)
	if !ok {
		return drop
	}

	bias := roc * cfg.TrailSensitivity
	if bias > cfg.MaxTrailBiasPct {
		bias = cfg.MaxTrailBiasPct
	}
	if bias < -cfg.MaxTrailBiasPct {
		bias = -cfg.MaxTrailBiasPct
	}

	drop += bias
	if drop < 0.1 {
		drop = 0.1
	}
	return drop
}

func (e *Engine) hasConfirmedSell(ctx context.Context, sessionID string) bool {
	trades, err := e.trades.GetBySession(ctx, sessionID)
	if err != nil {
		e.logger.Printf("session %s: load trades: %v", sessionID, err)
		return false
	}
	for _, t := range trades {
		if t.Type == domain.TradeSell && t.Status == domain.TradeStatusConfirmed {
			return true
		}
	}
	return false
}

// retention is how long observed prices must be kept for this config.
func (e *Engine) retention(cfg *domain.SessionConfig) time.Duration {
	keep := time.Duration(cfg.AnchorWindowSec) * time.Second
	if cfg.AdaptiveTrail {
		if roc := time.Duration(cfg.RocWindowSec) * time.Second; roc > keep {
			keep = roc
		}
	}
	return keep + time.Minute
}
