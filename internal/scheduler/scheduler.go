// Package scheduler drives the monitoring loop: each tick loads the active
// sessions and runs the emergency check, decision evaluation, and intent
// dispatch for every one of them.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/emergency"
	"solana-bump-monitor/internal/engine"
	"solana-bump-monitor/internal/executor"
	"solana-bump-monitor/internal/observability"
	"solana-bump-monitor/internal/storage"
)

// DefaultMaxConcurrent bounds how many sessions one tick processes at once.
const DefaultMaxConcurrent = 8

// PriceSource resolves the current USD price for a mint.
type PriceSource interface {
	GetPrice(ctx context.Context, mint string) (price float64, source string, ok bool)
}

// Summary reports one full scheduler tick.
type Summary struct {
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Timestamp time.Time `json:"timestamp"`
}

// Driver runs the per-session processing loop.
type Driver struct {
	sessions   storage.SessionStore
	positions  storage.PositionStore
	ticks      storage.PriceTickStore
	oracle     PriceSource
	engine     *engine.Engine
	dispatcher *executor.Dispatcher
	emergency  *emergency.Monitor
	logger     *log.Logger
	now        func() time.Time

	maxConcurrent int

	// Session IDs seen on the previous tick, used to notice sessions
	// dropping out of the active set so the engine can drop their state.
	mu    sync.Mutex
	known map[string]struct{}
}

// Options for creating a Driver.
type Options struct {
	Sessions   storage.SessionStore
	Positions  storage.PositionStore
	Ticks      storage.PriceTickStore // optional analytics log
	Oracle     PriceSource
	Engine     *engine.Engine
	Dispatcher *executor.Dispatcher
	Emergency  *emergency.Monitor
	Logger     *log.Logger

	// MaxConcurrent bounds parallel session processing; 0 means default.
	MaxConcurrent int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a scheduler driver.
func New(opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Driver{
		sessions:      opts.Sessions,
		positions:     opts.Positions,
		ticks:         opts.Ticks,
		oracle:        opts.Oracle,
		engine:        opts.Engine,
		dispatcher:    opts.Dispatcher,
		emergency:     opts.Emergency,
		logger:        logger,
		now:           now,
		maxConcurrent: maxConcurrent,
		known:         make(map[string]struct{}),
	}
}

// Tick processes every active session once. Sessions run concurrently up to
// the configured bound; a panic or error in one session never stops the
// others. The per-session claim on last_activity keeps overlapping
// invocations from double-processing the same session.
func (d *Driver) Tick(ctx context.Context) (*Summary, error) {
	start := d.now()

	sessions, err := d.sessions.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active sessions: %w", err)
	}
	observability.DefaultMetrics.ActiveSessions.Set(float64(len(sessions)))
	d.forgetDeparted(sessions)

	var processed, skipped atomic.Int64
	sem := make(chan struct{}, d.maxConcurrent)
	var wg sync.WaitGroup

	for _, session := range sessions {
		wg.Add(1)
		sem <- struct{}{}
		go func(sess *domain.Session) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Printf("session %s: panic: %v\n%s", sess.SessionID, r, debug.Stack())
					skipped.Add(1)
				}
			}()

			if d.processSession(ctx, sess) {
				processed.Add(1)
			} else {
				skipped.Add(1)
			}
		}(session)
	}
	wg.Wait()

	observability.DefaultMetrics.TicksTotal.Inc()
	observability.DefaultMetrics.SessionsProcessed.Add(float64(processed.Load()))
	observability.DefaultMetrics.TickDuration.Observe(time.Since(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulTick.SetToCurrentTime()

	return &Summary{
		Processed: int(processed.Load()),
		Skipped:   int(skipped.Load()),
		Timestamp: start,
	}, nil
}

// forgetDeparted drops engine state for sessions that left the active set
// since the previous tick, so stale price history and confirmation streaks
// never leak into a reactivated session.
func (d *Driver) forgetDeparted(active []*domain.Session) {
	current := make(map[string]struct{}, len(active))
	for _, sess := range active {
		current[sess.SessionID] = struct{}{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.known {
		if _, still := current[id]; !still {
			d.engine.Forget(id)
		}
	}
	d.known = current
}

// processSession runs one session's tick end to end. Returns false when the
// session was skipped (claim lost, bad config, no price, component error).
func (d *Driver) processSession(ctx context.Context, session *domain.Session) bool {
	cfg := &session.Config
	if err := cfg.Validate(); err != nil {
		d.logger.Printf("session %s: config rejected, skipping: %v", session.SessionID, err)
		observability.DefaultMetrics.SessionsSkipped.WithLabelValues("bad_config").Inc()
		return false
	}

	now := d.now()
	minAge := time.Duration(cfg.PollIntervalSec) * time.Second
	claimed, err := d.sessions.ClaimTick(ctx, session.SessionID, now, minAge)
	if err != nil {
		d.logger.Printf("session %s: claim tick: %v", session.SessionID, err)
		observability.DefaultMetrics.SessionsSkipped.WithLabelValues("claim_error").Inc()
		return false
	}
	if !claimed {
		observability.DefaultMetrics.SessionsSkipped.WithLabelValues("claimed_elsewhere").Inc()
		return false
	}

	fetchStart := d.now()
	price, source, ok := d.oracle.GetPrice(ctx, session.Mint)
	if !ok {
		// A missing price skips the whole tick for this session; it is
		// never treated as zero.
		observability.RecordPriceMiss()
		observability.DefaultMetrics.SessionsSkipped.WithLabelValues("no_price").Inc()
		return false
	}
	observability.RecordPriceFetch(source, time.Since(fetchStart).Seconds())

	d.logTick(ctx, session, price, source, now)
	d.raiseHighWater(ctx, session, price)

	triggered, err := d.emergency.Check(ctx, session, price)
	if err != nil {
		d.logger.Printf("session %s: emergency check: %v", session.SessionID, err)
		observability.DefaultMetrics.SessionsSkipped.WithLabelValues("emergency_error").Inc()
		return false
	}
	if triggered {
		observability.RecordEmergencyTrigger()
		return true
	}

	intents, err := d.engine.Evaluate(ctx, session, price)
	if err != nil {
		d.logger.Printf("session %s: evaluate: %v", session.SessionID, err)
		observability.DefaultMetrics.SessionsSkipped.WithLabelValues("evaluate_error").Inc()
		return false
	}

	for _, intent := range intents {
		res, err := d.dispatcher.Execute(ctx, session, intent, price)
		if err != nil {
			d.logger.Printf("session %s: dispatch %s: %v", session.SessionID, intent.Type, err)
			observability.RecordIntent(string(intent.Type), "error")
			continue
		}
		switch {
		case res.Success:
			observability.RecordIntent(string(intent.Type), "success")
		case res.Skipped:
			observability.RecordIntent(string(intent.Type), "skipped")
		default:
			observability.RecordIntent(string(intent.Type), "failed")
		}
	}
	return true
}

// logTick appends the observed price to the analytics log, best effort.
func (d *Driver) logTick(ctx context.Context, session *domain.Session, price float64, source string, now time.Time) {
	if d.ticks == nil {
		return
	}
	err := d.ticks.InsertBulk(ctx, []*domain.PriceTick{{
		SessionID:  session.SessionID,
		Mint:       session.Mint,
		Price:      price,
		Source:     source,
		ObservedAt: now,
	}})
	if err != nil {
		d.logger.Printf("session %s: tick log: %v", session.SessionID, err)
	}
}

// raiseHighWater persists the running peak for each open position so the
// trailing stop survives restarts. The store ignores non-increases.
func (d *Driver) raiseHighWater(ctx context.Context, session *domain.Session, price float64) {
	positions, err := d.positions.GetActiveBySession(ctx, session.SessionID)
	if err != nil {
		d.logger.Printf("session %s: load positions for high water: %v", session.SessionID, err)
		return
	}
	for _, pos := range positions {
		if price <= pos.HighWaterPrice {
			continue
		}
		if err := d.positions.UpdateHighWater(ctx, pos.PositionID, price); err != nil {
			d.logger.Printf("position %s: update high water: %v", pos.PositionID, err)
		}
	}
}
