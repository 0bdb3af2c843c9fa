package bandwidthpool

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wspnet/subengine/internal/apperr"
	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/db"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
	"github.com/wspnet/subengine/internal/testutil"
	"gorm.io/gorm"
)

func seedPool(t *testing.T, conn *gorm.DB, totalMbps int64, allocations ...int64) []models.PointOfSale {
	t.Helper()
	require.NoError(t, db.EnsureBandwidthPool(conn, quantity.Mbps(totalMbps)))
	out := make([]models.PointOfSale, 0, len(allocations))
	for _, mbps := range allocations {
		pos := models.PointOfSale{Name: "pos", AllocatedBandwidth: quantity.Mbps(mbps)}
		require.NoError(t, conn.Create(&pos).Error)
		out = append(out, pos)
	}
	return out
}

func TestValidateAllocation(t *testing.T) {
	conn := testutil.OpenDB(t)
	pos := seedPool(t, conn, 1000, 400, 300)
	allocator := NewAllocator(conn, nil, nil, nil)
	ctx := context.Background()

	assert.NoError(t, allocator.ValidateAllocation(ctx, quantity.Mbps(300), nil))

	err := allocator.ValidateAllocation(ctx, quantity.Mbps(301), nil)
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	excluded := pos[0].ID
	assert.NoError(t, allocator.ValidateAllocation(ctx, quantity.Mbps(700), &excluded),
		"reallocating a point of sale excludes its current share")

	assert.True(t, apperr.IsKind(allocator.ValidateAllocation(ctx, -1, nil), apperr.KindValidation))
}

func TestValidateAllocationWithoutPool(t *testing.T) {
	conn := testutil.OpenDB(t)
	allocator := NewAllocator(conn, nil, nil, nil)

	err := allocator.ValidateAllocation(context.Background(), quantity.Mbps(1), nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyWritesAllocationAndEmitsEvent(t *testing.T) {
	conn := testutil.OpenDB(t)
	pos := seedPool(t, conn, 1000, 400, 300)
	rec := &audit.Recorder{}
	allocator := NewAllocator(conn, nil, rec, nil)
	ctx := audit.WithActor(context.Background(), audit.User(5))

	updated, err := allocator.Apply(ctx, pos[1].ID, quantity.Mbps(600))
	require.NoError(t, err)
	assert.Equal(t, quantity.Mbps(600), updated.AllocatedBandwidth)

	events := rec.ByAction(audit.ActionAllocationUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(5), events[0].Actor.UserID)

	_, err = allocator.Apply(ctx, pos[1].ID, quantity.Mbps(601))
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	_, err = allocator.Apply(ctx, 999, quantity.Mbps(1))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyConcurrentRequestsNeverOversubscribe(t *testing.T) {
	conn := testutil.OpenDB(t)
	pos := seedPool(t, conn, 100, 0, 0, 0, 0)
	allocator := NewAllocator(conn, nil, nil, nil)

	var wg sync.WaitGroup
	for _, p := range pos {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			_, _ = allocator.Apply(context.Background(), id, quantity.Mbps(40))
		}(p.ID)
	}
	wg.Wait()

	var rows []models.PointOfSale
	require.NoError(t, conn.Find(&rows).Error)
	var total quantity.Bandwidth
	granted := 0
	for _, row := range rows {
		total = total.Add(row.AllocatedBandwidth)
		if row.AllocatedBandwidth > 0 {
			granted++
		}
	}
	assert.LessOrEqual(t, int64(total), int64(quantity.Mbps(100)))
	assert.Equal(t, 2, granted)
}
