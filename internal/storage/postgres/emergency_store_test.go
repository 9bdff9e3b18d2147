package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-bump-monitor/internal/domain"
	"solana-bump-monitor/internal/storage"
)

func TestEmergencyOrderStore_InsertAndGetActive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEmergencyOrderStore(pool)
	ctx := context.Background()
	seedSession(t, pool, "sess-001")

	order := &domain.EmergencySellOrder{
		OrderID:    "order-001",
		SessionID:  "sess-001",
		LimitPrice: 50,
		IsActive:   true,
	}
	require.NoError(t, store.Insert(ctx, order))
	assert.ErrorIs(t, store.Insert(ctx, order), storage.ErrDuplicateKey)

	active, err := store.GetActiveBySession(ctx, "sess-001")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "order-001", active[0].OrderID)
	assert.Equal(t, 50.0, active[0].LimitPrice)
}

func TestEmergencyOrderStore_Deactivate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEmergencyOrderStore(pool)
	ctx := context.Background()
	seedSession(t, pool, "sess-001")

	require.NoError(t, store.Insert(ctx, &domain.EmergencySellOrder{
		OrderID:    "order-001",
		SessionID:  "sess-001",
		LimitPrice: 50,
		IsActive:   true,
	}))

	ok, err := store.Deactivate(ctx, "order-001")
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := store.GetActiveBySession(ctx, "sess-001")
	require.NoError(t, err)
	assert.Empty(t, active)

	// An order is consumed exactly once.
	ok, err = store.Deactivate(ctx, "order-001")
	require.NoError(t, err)
	assert.False(t, ok)
}
