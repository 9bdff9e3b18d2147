package domain

import "time"

// TradeType is the side of a recorded trade.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Trade execution status values.
const (
	TradeStatusConfirmed = "confirmed"
	TradeStatusFailed    = "failed"
)

// TradeRecord is one append-only row of the trade history log. Records are
// immutable once written; they are the audit trail and the sole source of
// truth for cooldown computation.
type TradeRecord struct {
	TradeID        string // PRIMARY KEY
	SessionID      string
	PositionID     string
	Type           TradeType
	Mint           string
	AmountUSD      float64
	Quantity       float64
	Signature      string // broadcast signature
	OwnerPublicKey string
	Status         string
	ExecutedAt     time.Time
}
