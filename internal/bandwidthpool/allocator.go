// Package bandwidthpool keeps point-of-sale allocations within the provider's total bandwidth.
package bandwidthpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/wspnet/subengine/internal/apperr"
	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/db"
	"github.com/wspnet/subengine/internal/metrics"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
	"github.com/wspnet/subengine/internal/store"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Allocator validates and applies point-of-sale bandwidth allocations.
type Allocator struct {
	db      *gorm.DB
	locker  *store.Locker
	sink    audit.Sink
	metrics *metrics.Metrics
}

// NewAllocator constructs an Allocator.
func NewAllocator(conn *gorm.DB, locker *store.Locker, sink audit.Sink, m *metrics.Metrics) *Allocator {
	if locker == nil {
		locker = store.NewLocker()
	}
	if sink == nil {
		sink = audit.Discard
	}
	return &Allocator{db: conn, locker: locker, sink: sink, metrics: m}
}

// ValidateAllocation checks that the allocations of every point of sale except
// excludingPosID, plus newAllocation, fit in the pool. It does not write anything.
func (a *Allocator) ValidateAllocation(ctx context.Context, newAllocation quantity.Bandwidth, excludingPosID *uint64) error {
	if newAllocation.IsNegative() {
		return apperr.Validation("allocation must not be negative")
	}
	err := check(ctx, a.db, newAllocation, excludingPosID, false)
	if apperr.IsKind(err, apperr.KindCapacityExceeded) {
		a.metrics.AllocationRejected()
	}
	return err
}

// Apply sets a point of sale's allocation. The capacity check and the write run in
// one transaction with the pool row locked, so concurrent allocations cannot both pass.
func (a *Allocator) Apply(ctx context.Context, posID uint64, allocation quantity.Bandwidth) (*models.PointOfSale, error) {
	if allocation.IsNegative() {
		return nil, apperr.Validation("allocation must not be negative")
	}

	unlock := a.locker.Lock(store.PoolKey)
	defer unlock()

	var (
		pos      models.PointOfSale
		previous quantity.Bandwidth
	)
	errTx := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := db.ForUpdate(tx).First(&pos, posID).Error; errFind != nil {
			if db.IsNotFound(errFind) {
				return apperr.NotFound("point of sale %d not found", posID)
			}
			return fmt.Errorf("load point of sale: %w", errFind)
		}
		excluding := pos.ID
		if errCheck := check(ctx, tx, allocation, &excluding, true); errCheck != nil {
			return errCheck
		}
		previous = pos.AllocatedBandwidth
		if errUpdate := tx.Model(&pos).Update("allocated_bandwidth_kbps", allocation).Error; errUpdate != nil {
			return fmt.Errorf("update allocation: %w", errUpdate)
		}
		pos.AllocatedBandwidth = allocation
		return nil
	})
	if errTx != nil {
		var typed *apperr.Error
		if errors.As(errTx, &typed) {
			if typed.Kind == apperr.KindCapacityExceeded {
				a.metrics.AllocationRejected()
			}
			return nil, typed
		}
		return nil, apperr.Internal("apply allocation", errTx)
	}

	event := audit.NewEvent(audit.ActorFromContext(ctx), audit.ActionAllocationUpdated, audit.EntityPointOfSale, pos.ID)
	event.OldValues = map[string]any{"allocated_bandwidth": previous.String()}
	event.NewValues = map[string]any{"allocated_bandwidth": allocation.String()}
	event.Description = fmt.Sprintf("point of sale allocation set to %s Mbps", allocation)
	if errRecord := a.sink.Record(ctx, event); errRecord != nil {
		log.WithError(errRecord).WithField("pos_id", pos.ID).Warn("bandwidth pool: failed to emit audit event")
	}
	return &pos, nil
}

// check compares the would-be total against the pool. lock requests a row lock on the pool.
func check(ctx context.Context, conn *gorm.DB, newAllocation quantity.Bandwidth, excludingPosID *uint64, lock bool) error {
	query := conn.WithContext(ctx)
	if lock {
		query = db.ForUpdate(query)
	}
	var pool models.BandwidthPool
	if errPool := query.Order("id ASC").First(&pool).Error; errPool != nil {
		if db.IsNotFound(errPool) {
			return apperr.NotFound("bandwidth pool is not configured")
		}
		return apperr.Internal("load bandwidth pool", errPool)
	}

	// row holds the summed allocations.
	var row struct {
		Total int64
	}
	sum := conn.WithContext(ctx).Model(&models.PointOfSale{}).
		Select("COALESCE(SUM(allocated_bandwidth_kbps), 0) AS total")
	if excludingPosID != nil {
		sum = sum.Where("id <> ?", *excludingPosID)
	}
	if errSum := sum.Scan(&row).Error; errSum != nil {
		return apperr.Internal("sum allocations", errSum)
	}

	allocated := quantity.Bandwidth(row.Total)
	if allocated.Add(newAllocation) > pool.TotalBandwidth {
		return apperr.CapacityExceeded(
			"allocation of %s Mbps exceeds pool: %s of %s Mbps already allocated",
			newAllocation, allocated, pool.TotalBandwidth,
		)
	}
	return nil
}
