// Package engine exposes the subscription lifecycle and bandwidth throttling
// operations behind a single entry point.
package engine

import (
	"context"
	"time"

	"github.com/wspnet/subengine/internal/alert"
	"github.com/wspnet/subengine/internal/apperr"
	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/bandwidthpool"
	"github.com/wspnet/subengine/internal/lifecycle"
	"github.com/wspnet/subengine/internal/metrics"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
	"github.com/wspnet/subengine/internal/store"
	"github.com/wspnet/subengine/internal/throttle"
	"github.com/wspnet/subengine/internal/usage"

	"gorm.io/gorm"
)

// Engine is the subscription engine.
type Engine struct {
	db *gorm.DB

	lifecycle  *lifecycle.Orchestrator
	recorder   *usage.Recorder
	aggregator usage.Aggregator
	allocator  *bandwidthpool.Allocator
	rechecker  *throttle.Rechecker

	locker   *store.Locker
	sink     audit.Sink
	notifier alert.Notifier
	metrics  *metrics.Metrics
	nowFn    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuditSink sets the destination of audit events.
func WithAuditSink(sink audit.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithNotifier sets the operator alert channel for throttle evaluation failures.
func WithNotifier(n alert.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the clock used for default dates and validation.
func WithClock(nowFn func() time.Time) Option {
	return func(e *Engine) { e.nowFn = nowFn }
}

// New constructs an Engine over conn.
func New(conn *gorm.DB, opts ...Option) *Engine {
	e := &Engine{
		db:     conn,
		locker: store.NewLocker(),
		sink:   audit.NewLogSink(nil),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = alert.Multi(alert.NewLogNotifier(nil), alert.StoreNotifier{})
	}

	controller := throttle.NewController()
	e.lifecycle = lifecycle.NewOrchestrator(conn, lifecycle.Options{
		Locker:  e.locker,
		Sink:    e.sink,
		Metrics: e.metrics,
		NowFn:   e.nowFn,
	})
	e.recorder = usage.NewRecorder(conn, usage.RecorderOptions{
		Locker:    e.locker,
		Ledger:    usage.NewLedger(e.nowFn),
		Evaluator: controller,
		Notifier:  e.notifier,
		Sink:      e.sink,
		Metrics:   e.metrics,
	})
	e.allocator = bandwidthpool.NewAllocator(conn, e.locker, e.sink, e.metrics)
	e.rechecker = throttle.NewRechecker(conn, e.locker, controller, e.sink, e.metrics)
	return e
}

// CreateSubscription starts a new ACTIVE subscription for a client.
func (e *Engine) CreateSubscription(ctx context.Context, p lifecycle.CreateParams) (*models.Subscription, error) {
	return e.lifecycle.Create(ctx, p)
}

// RenewSubscription starts the next period and restores plan bandwidth.
func (e *Engine) RenewSubscription(ctx context.Context, id uint64, p lifecycle.RenewParams) (*models.Subscription, error) {
	return e.lifecycle.Renew(ctx, id, p)
}

// UpgradeSubscription moves a client to another plan, returning the terminated and the new subscription.
func (e *Engine) UpgradeSubscription(ctx context.Context, id uint64, p lifecycle.UpgradeParams) (*models.Subscription, *models.Subscription, error) {
	return e.lifecycle.Upgrade(ctx, id, p)
}

// TerminateSubscription closes a subscription. Idempotent.
func (e *Engine) TerminateSubscription(ctx context.Context, id uint64) (*models.Subscription, error) {
	return e.lifecycle.Terminate(ctx, id)
}

// ExpireSubscription marks an ACTIVE subscription EXPIRED.
func (e *Engine) ExpireSubscription(ctx context.Context, id uint64) (*models.Subscription, error) {
	return e.lifecycle.Expire(ctx, id)
}

// GetSubscription loads a subscription.
func (e *Engine) GetSubscription(ctx context.Context, id uint64) (*models.Subscription, error) {
	return e.lifecycle.Get(ctx, id)
}

// RecordUsage appends a usage entry and applies throttling if the plan cap is exceeded.
func (e *Engine) RecordUsage(ctx context.Context, subscriptionID uint64, download, upload quantity.Data, logDate time.Time) (*models.UsageLog, error) {
	return e.recorder.Record(ctx, usage.Entry{
		SubscriptionID: subscriptionID,
		Download:       download,
		Upload:         upload,
		LogDate:        logDate,
	})
}

// GetUsageHistory lists a subscription's usage entries, newest first.
func (e *Engine) GetUsageHistory(ctx context.Context, subscriptionID uint64) ([]models.UsageLog, error) {
	return e.recorder.History(ctx, subscriptionID)
}

// PeriodUsage returns the subscription's usage over its current period.
func (e *Engine) PeriodUsage(ctx context.Context, subscriptionID uint64) (quantity.Data, error) {
	sub, err := e.lifecycle.Get(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	total, errSum := e.aggregator.PeriodUsage(ctx, e.db, sub)
	if errSum != nil {
		return 0, apperr.Internal("aggregate period usage", errSum)
	}
	return total, nil
}

// ValidateAllocation checks a point-of-sale allocation against the pool without writing.
func (e *Engine) ValidateAllocation(ctx context.Context, newAllocation quantity.Bandwidth, excludingPosID *uint64) error {
	return e.allocator.ValidateAllocation(ctx, newAllocation, excludingPosID)
}

// ApplyAllocation sets a point-of-sale allocation if it fits in the pool.
func (e *Engine) ApplyAllocation(ctx context.Context, posID uint64, allocation quantity.Bandwidth) (*models.PointOfSale, error) {
	return e.allocator.Apply(ctx, posID, allocation)
}

// RecheckThrottles re-evaluates subscriptions whose throttle evaluation failed earlier.
func (e *Engine) RecheckThrottles(ctx context.Context) (throttle.RecheckReport, error) {
	report, err := e.rechecker.Run(ctx)
	if err != nil {
		return report, apperr.Internal("recheck throttles", err)
	}
	return report, nil
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.nowFn() }
