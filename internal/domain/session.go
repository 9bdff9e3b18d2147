package domain

import "time"

// StartMode determines which side a session begins trading on.
type StartMode string

const (
	// StartModeBuy sessions open their first lot as soon as a dip signal fires.
	StartModeBuy StartMode = "BUY_FIRST"
	// StartModeSell sessions hold pre-existing inventory; dip entries are
	// suppressed until that inventory has been sold at least once.
	StartModeSell StartMode = "SELL_FIRST"
)

// Session represents one running bump campaign for a single token mint.
// Corresponds to the trading_sessions table.
type Session struct {
	SessionID    string // PRIMARY KEY, opaque token
	UserID       string // owning user
	Mint         string // target token mint address
	Config       SessionConfig
	IsActive     bool
	StartMode    StartMode
	SessionStart time.Time
	LastActivity time.Time

	// Daily spend accumulator. DailyKey is the UTC date bucket the
	// accumulator belongs to; a new key resets the accumulator.
	DailyBuyUSD float64
	DailyKey    string
}

// DayKey returns the UTC date bucket for the daily spend accumulator.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SpentToday returns the accumulator value valid for now, treating a stale
// daily key as a rolled-over (zero) accumulator.
func (s *Session) SpentToday(now time.Time) float64 {
	if s.DailyKey != DayKey(now) {
		return 0
	}
	return s.DailyBuyUSD
}
