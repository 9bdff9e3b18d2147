package domain

import "time"

// PriceTick is one observed price point, logged append-only for analytics.
type PriceTick struct {
	SessionID  string
	Mint       string
	Price      float64
	Source     string // provider that produced the price
	ObservedAt time.Time
}
