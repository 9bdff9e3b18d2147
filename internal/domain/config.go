package domain

import (
	"errors"
	"fmt"
)

// QuoteAsset is the asset a session trades against.
type QuoteAsset string

const (
	QuoteSOL  QuoteAsset = "SOL"
	QuoteUSDC QuoteAsset = "USDC"
)

// ConfirmPolicy is the broadcast confirmation level requested from the
// swap service.
type ConfirmPolicy string

const (
	ConfirmProcessed ConfirmPolicy = "processed"
	ConfirmConfirmed ConfirmPolicy = "confirmed"
	ConfirmFinalized ConfirmPolicy = "finalized"
)

// ErrInvalidConfig is returned by SessionConfig.Validate for any out-of-range
// or inconsistent field. Validation happens at session creation, never at
// tick time.
var ErrInvalidConfig = errors.New("invalid session config")

// SessionConfig holds the strategy parameters embedded in a Session.
type SessionConfig struct {
	TradeSizeUSD    float64
	PollIntervalSec int
	AnchorWindowSec int
	DipPct          float64 // entry: dip within anchor window, percent
	TakeProfitPct   float64 // exit: rise above entry, percent; 0 disables
	StopLossPct     float64 // exit: drop below entry, percent
	CooldownSec     int
	DailyCapUSD     float64
	SlippageBps     int
	Quote           QuoteAsset

	// Trailing stop.
	TrailArmPct  float64 // arm once price rises this far above entry
	TrailDropPct float64 // exit once price drops this far below high water

	// Slowdown confirmation: an entry/exit signal must persist this many
	// consecutive ticks before acting. Values <= 1 act immediately.
	SlowdownConfirmTicks int

	// Adaptive trailing (optional). When enabled, TrailDropPct is widened or
	// narrowed by recent rate-of-change over RocWindowSec, bounded by
	// MaxTrailBiasPct in both directions.
	AdaptiveTrail    bool
	RocWindowSec     int
	TrailSensitivity float64
	MaxTrailBiasPct  float64

	// Lot splitting.
	SeparateLots       bool
	MaxConcurrentLots  int
	SecondLotSizeUSD   float64 // 0 falls back to TradeSizeUSD
	BigDipFloorDropPct float64 // extra dip below first lot entry required
	BigDipHoldMinutes  int     // minimum age of first lot before a second opens

	Confirm          ConfirmPolicy
	FeeMicroLamports *uint64 // optional priority fee override
}

// Validate checks all ranges and cross-field invariants.
func (c *SessionConfig) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.TradeSizeUSD <= 0 {
		return fail("trade size must be positive, got %.2f", c.TradeSizeUSD)
	}
	if c.PollIntervalSec <= 0 {
		return fail("poll interval must be positive, got %d", c.PollIntervalSec)
	}
	if c.AnchorWindowSec <= 0 {
		return fail("anchor window must be positive, got %d", c.AnchorWindowSec)
	}
	if c.DipPct <= 0 || c.DipPct >= 100 {
		return fail("dip threshold must be in (0, 100), got %.2f", c.DipPct)
	}
	if c.TakeProfitPct < 0 {
		return fail("take profit must be >= 0, got %.2f", c.TakeProfitPct)
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 100 {
		return fail("stop loss must be in (0, 100), got %.2f", c.StopLossPct)
	}
	if c.CooldownSec < 0 {
		return fail("cooldown must be >= 0, got %d", c.CooldownSec)
	}
	if c.DailyCapUSD <= 0 {
		return fail("daily cap must be positive, got %.2f", c.DailyCapUSD)
	}
	if c.SlippageBps < 0 || c.SlippageBps > 10000 {
		return fail("slippage must be in [0, 10000] bps, got %d", c.SlippageBps)
	}
	switch c.Quote {
	case QuoteSOL, QuoteUSDC:
	default:
		return fail("unknown quote asset %q", c.Quote)
	}
	if c.TrailArmPct < 0 {
		return fail("trail arm threshold must be >= 0, got %.2f", c.TrailArmPct)
	}
	if c.TrailArmPct > 0 && (c.TrailDropPct <= 0 || c.TrailDropPct >= 100) {
		return fail("trail drop must be in (0, 100) when trailing is enabled, got %.2f", c.TrailDropPct)
	}
	if c.SlowdownConfirmTicks < 0 {
		return fail("slowdown confirmation ticks must be >= 0, got %d", c.SlowdownConfirmTicks)
	}
	if c.AdaptiveTrail {
		if c.RocWindowSec <= 0 {
			return fail("roc window must be positive when adaptive trail is enabled")
		}
		if c.TrailSensitivity <= 0 {
			return fail("trail sensitivity must be positive when adaptive trail is enabled")
		}
		if c.MaxTrailBiasPct <= 0 {
			return fail("max trail bias must be positive when adaptive trail is enabled")
		}
	}

	lots := c.MaxConcurrentLots
	if !c.SeparateLots {
		lots = 1
	}
	if c.SeparateLots {
		if c.MaxConcurrentLots < 2 {
			return fail("max concurrent lots must be >= 2 when lot splitting is enabled, got %d", c.MaxConcurrentLots)
		}
		if c.SecondLotSizeUSD < 0 {
			return fail("second lot size must be >= 0, got %.2f", c.SecondLotSizeUSD)
		}
		if c.BigDipFloorDropPct <= 0 {
			return fail("big dip floor must be positive when lot splitting is enabled")
		}
		if c.BigDipHoldMinutes < 0 {
			return fail("big dip hold minutes must be >= 0, got %d", c.BigDipHoldMinutes)
		}
	}

	// A full intent set of lots in a single tick must not blow past the
	// daily cap.
	maxTickSpend := c.TradeSizeUSD
	if c.SeparateLots {
		second := c.SecondLotSizeUSD
		if second == 0 {
			second = c.TradeSizeUSD
		}
		maxTickSpend = c.TradeSizeUSD + second*float64(lots-1)
	}
	if maxTickSpend > c.DailyCapUSD {
		return fail("trade size x max lots (%.2f USD) exceeds daily cap (%.2f USD)", maxTickSpend, c.DailyCapUSD)
	}

	switch c.Confirm {
	case ConfirmProcessed, ConfirmConfirmed, ConfirmFinalized:
	default:
		return fail("unknown confirmation policy %q", c.Confirm)
	}

	return nil
}

// LotCapacity returns the number of lots a session may hold concurrently.
func (c *SessionConfig) LotCapacity() int {
	if !c.SeparateLots {
		return 1
	}
	return c.MaxConcurrentLots
}

// NextLotSizeUSD returns the trade size for the nth lot (0-based).
func (c *SessionConfig) NextLotSizeUSD(existingLots int) float64 {
	if existingLots > 0 && c.SeparateLots && c.SecondLotSizeUSD > 0 {
		return c.SecondLotSizeUSD
	}
	return c.TradeSizeUSD
}
