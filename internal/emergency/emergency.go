// Package emergency watches user-set hard price floors and force-liquidates
// a session's positions the moment one is crossed. The check runs before
// normal decision evaluation every tick and is not subject to cooldown or
// daily-cap rules.
package emergency

import (
	"context"
	"fmt"
	"log"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/executor"
	"solana-bump-monitor/internal/storage"
)

// Monitor evaluates emergency sell orders for one session per tick.
type Monitor struct {
	orders     storage.EmergencyOrderStore
	positions  storage.PositionStore
	dispatcher *executor.Dispatcher
	logger     *log.Logger
}

// Options for creating a Monitor.
type Options struct {
	Orders     storage.EmergencyOrderStore
	Positions  storage.PositionStore
	Dispatcher *executor.Dispatcher
	Logger     *log.Logger
}

// New creates an emergency override monitor.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[emergency] ", log.LstdFlags)
	}
	return &Monitor{
		orders:     opts.Orders,
		positions:  opts.Positions,
		dispatcher: opts.Dispatcher,
		logger:     logger,
	}
}

// Check returns true when a floor triggered and the session's positions
// were dispatched for liquidation; the caller must then skip normal
// decision evaluation for the tick. Every breached order deactivates even
// when individual closes fail: the liquidation already ran, and any
// position left active is picked up by the next tick's ordinary rules.
func (m *Monitor) Check(ctx context.Context, session *domain.Session, price float64) (bool, error) {
	if price <= 0 {
		return false, nil
	}

	orders, err := m.orders.GetActiveBySession(ctx, session.SessionID)
	if err != nil {
		return false, fmt.Errorf("load emergency orders: %w", err)
	}

	var tripped []*domain.EmergencySellOrder
	for _, o := range orders {
		if price <= o.LimitPrice {
			tripped = append(tripped, o)
		}
	}
	if len(tripped) == 0 {
		return false, nil
	}

	m.logger.Printf("session %s: price %.8f breached floor %.8f, liquidating",
		session.SessionID, price, tripped[0].LimitPrice)

	positions, err := m.positions.GetActiveBySession(ctx, session.SessionID)
	if err != nil {
		return false, fmt.Errorf("load positions for liquidation: %w", err)
	}

	for _, pos := range positions {
		res, err := m.dispatcher.Execute(ctx, session, domain.Intent{
			Type:      domain.IntentClose,
			SessionID: session.SessionID,
			Reason:    domain.ReasonEmergency,
			Position:  pos,
		}, price)
		if err != nil {
			m.logger.Printf("session %s: liquidate position %s: %v", session.SessionID, pos.PositionID, err)
			continue
		}
		if !res.Success && !res.Skipped {
			m.logger.Printf("session %s: liquidate position %s failed: %s", session.SessionID, pos.PositionID, res.Err)
		}
	}

	// Every breached floor is consumed by the one liquidation pass.
	for _, o := range tripped {
		consumed, err := m.orders.Deactivate(ctx, o.OrderID)
		if err != nil {
			return true, fmt.Errorf("deactivate order %s: %w", o.OrderID, err)
		}
		if !consumed {
			m.logger.Printf("session %s: order %s already consumed", session.SessionID, o.OrderID)
		}
	}

	return true, nil
}
