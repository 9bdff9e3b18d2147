package domain

import "time"

// EmergencySellOrder is a user-set hard price floor. The instant the current
// price touches the limit, every active position in the session is
// force-liquidated and the order is consumed (deactivated).
type EmergencySellOrder struct {
	OrderID    string // PRIMARY KEY
	SessionID  string
	LimitPrice float64
	IsActive   bool
	CreatedAt  time.Time
}
