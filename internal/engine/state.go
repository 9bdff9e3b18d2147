// Package engine evaluates entry and exit rules for active sessions and
// emits trade intents. The per-position exit state machine is recomputed
// functionally each tick from the stored entry price and high-water price;
// no state machine state is persisted.
package engine

import "solana-bump-monitor/internal/domain"

// ExitState is the computed lifecycle stage of an open position.
type ExitState int

const (
	// Armed tracks the high-water price, trailing stop not yet armed.
	Armed ExitState = iota
	// TrailArmed means price has risen far enough above entry that a drop
	// from the high-water mark can trigger an exit.
	TrailArmed
	// ExitTriggered means an exit rule fired this tick.
	ExitTriggered
)

func (s ExitState) String() string {
	switch s {
	case Armed:
		return "armed"
	case TrailArmed:
		return "trail_armed"
	case ExitTriggered:
		return "exit_triggered"
	default:
		return "unknown"
	}
}

// ComputeExitState evaluates the exit rules for one position at the current
// price. highWater must already include the current tick's price. All
// thresholds use closed-interval semantics: a price exactly on the boundary
// triggers.
//
// Rule precedence: stop-loss applies regardless of trail arm state, then
// take-profit, then the trailing stop. trailDropPct is the effective drop
// threshold for this tick (adaptive bias already applied by the caller).
func ComputeExitState(pos *domain.Position, price, highWater, trailDropPct float64, cfg *domain.SessionConfig) (ExitState, string) {
	entry := pos.EntryPrice

	if price <= entry*(1-cfg.StopLossPct/100) {
		return ExitTriggered, domain.ReasonStopLoss
	}

	if cfg.TakeProfitPct > 0 && price >= entry*(1+cfg.TakeProfitPct/100) {
		return ExitTriggered, domain.ReasonTakeProfit
	}

	trailing := cfg.TrailArmPct > 0 && highWater >= entry*(1+cfg.TrailArmPct/100)
	if !trailing {
		return Armed, ""
	}
	if price <= highWater*(1-trailDropPct/100) {
		return ExitTriggered, domain.ReasonTrailingStop
	}
	return TrailArmed, ""
}
