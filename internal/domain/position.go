package domain

import "time"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	// PositionActive positions are open and evaluated every tick.
	PositionActive PositionStatus = "active"
	// PositionSold positions were closed by a sell (or by phantom cleanup).
	PositionSold PositionStatus = "sold"
	// PositionStopped positions were halted without a sell.
	PositionStopped PositionStatus = "stopped"
)

// Position represents one lot of a session's holding.
// Corresponds to the trading_positions table. A status transition away from
// `active` happens exactly once, enforced by the store's conditional update.
type Position struct {
	PositionID string // PRIMARY KEY
	LotID      string // groups fills under one logical holding
	SessionID  string

	EntryPrice     float64
	HighWaterPrice float64 // running peak since entry, for trailing stop
	RawQuantity    uint64  // base units
	UIQuantity     float64 // display units
	EntryTime      time.Time

	// OwnerPublicKey references the owner's wallet. The signer for that
	// wallet is resolved through wallet.SignerResolver; raw key material
	// never enters this package.
	OwnerPublicKey string

	Status       PositionStatus
	ErrorMessage string // annotation set by cleanup, empty otherwise
	CreatedAt    time.Time
}
