package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/db"
	"github.com/wspnet/subengine/internal/metrics"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/store"
	"github.com/wspnet/subengine/internal/usage"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RecheckReport summarizes a recheck pass.
type RecheckReport struct {
	Checked   int `json:"checked"`
	Throttled int `json:"throttled"`
	Failed    int `json:"failed"`
}

// Rechecker re-evaluates subscriptions whose throttle evaluation previously failed.
type Rechecker struct {
	db         *gorm.DB
	locker     *store.Locker
	controller *Controller
	sink       audit.Sink
	metrics    *metrics.Metrics
	nowFn      func() time.Time
}

// NewRechecker constructs a Rechecker.
func NewRechecker(conn *gorm.DB, locker *store.Locker, controller *Controller, sink audit.Sink, m *metrics.Metrics) *Rechecker {
	if locker == nil {
		locker = store.NewLocker()
	}
	if controller == nil {
		controller = NewController()
	}
	if sink == nil {
		sink = audit.Discard
	}
	return &Rechecker{db: conn, locker: locker, controller: controller, sink: sink, metrics: m, nowFn: time.Now}
}

// Run evaluates every subscription with unresolved failures and resolves them on success.
// A subscription that fails again keeps its failures pending for the next pass.
func (r *Rechecker) Run(ctx context.Context) (RecheckReport, error) {
	var report RecheckReport

	var subscriptionIDs []uint64
	if errPending := r.db.WithContext(ctx).Model(&models.ThrottleFailure{}).
		Where("resolved_at IS NULL").
		Distinct("subscription_id").
		Order("subscription_id ASC").
		Pluck("subscription_id", &subscriptionIDs).Error; errPending != nil {
		return report, fmt.Errorf("throttle: list pending failures: %w", errPending)
	}

	for _, id := range subscriptionIDs {
		if errCtx := ctx.Err(); errCtx != nil {
			return report, errCtx
		}
		report.Checked++
		evaluation, errOne := r.recheckOne(ctx, id)
		if errOne != nil {
			report.Failed++
			r.metrics.ThrottleFailure()
			log.WithError(errOne).WithField("subscription_id", id).Error("throttle: recheck failed")
			continue
		}
		if evaluation.Outcome != "" {
			r.metrics.ThrottleEvaluated(evaluation.Outcome)
		}
		if evaluation.Outcome == OutcomeThrottled {
			report.Throttled++
		}
		if evaluation.Event != nil {
			if errRecord := r.sink.Record(ctx, *evaluation.Event); errRecord != nil {
				log.WithError(errRecord).WithField("subscription_id", id).Warn("throttle: failed to emit audit event")
			}
		}
	}
	return report, nil
}

func (r *Rechecker) recheckOne(ctx context.Context, subscriptionID uint64) (usage.Evaluation, error) {
	unlock := r.locker.Lock(store.SubscriptionKey(subscriptionID))
	defer unlock()

	var evaluation usage.Evaluation
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		errFind := db.ForUpdate(tx).First(&sub, subscriptionID).Error
		switch {
		case db.IsNotFound(errFind):
			evaluation = usage.Evaluation{Outcome: OutcomeSkipped}
		case errFind != nil:
			return fmt.Errorf("load subscription: %w", errFind)
		default:
			result, errEval := r.controller.Evaluate(ctx, tx, &sub)
			if errEval != nil {
				return errEval
			}
			evaluation = result
		}
		now := r.nowFn().UTC()
		return tx.Model(&models.ThrottleFailure{}).
			Where("subscription_id = ? AND resolved_at IS NULL", subscriptionID).
			Update("resolved_at", now).Error
	})
	if errTx != nil {
		return usage.Evaluation{}, errTx
	}
	return evaluation, nil
}
