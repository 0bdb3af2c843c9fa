// Package lifecycle implements the subscription state machine: create, renew, upgrade,
// terminate and administrative expiry.
//
// Every transition runs in a single transaction. Transitions touching a client take
// the client lock first and then the subscription lock, before the transaction opens.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wspnet/subengine/internal/apperr"
	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/calendar"
	"github.com/wspnet/subengine/internal/db"
	"github.com/wspnet/subengine/internal/metrics"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/store"
	"github.com/wspnet/subengine/internal/throttle"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Orchestrator performs subscription lifecycle transitions.
type Orchestrator struct {
	db       *gorm.DB
	locker   *store.Locker
	restorer throttle.Restorer
	sink     audit.Sink
	metrics  *metrics.Metrics
	nowFn    func() time.Time
}

// Options carries the Orchestrator collaborators.
type Options struct {
	Locker  *store.Locker
	Sink    audit.Sink
	Metrics *metrics.Metrics
	NowFn   func() time.Time
}

// NewOrchestrator constructs an Orchestrator with defaults for omitted options.
func NewOrchestrator(conn *gorm.DB, opts Options) *Orchestrator {
	o := &Orchestrator{
		db:      conn,
		locker:  opts.Locker,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		nowFn:   opts.NowFn,
	}
	if o.locker == nil {
		o.locker = store.NewLocker()
	}
	if o.sink == nil {
		o.sink = audit.Discard
	}
	if o.nowFn == nil {
		o.nowFn = time.Now
	}
	return o
}

// CreateParams holds inputs for Create.
type CreateParams struct {
	ClientID  uint64
	PlanID    uint64
	StartDate *time.Time // Defaults to today.
	AutoRenew *bool
}

// RenewParams holds inputs for Renew.
type RenewParams struct {
	RenewalDate *time.Time // Defaults to the current end date.
	AutoRenew   *bool
}

// UpgradeParams holds inputs for Upgrade.
type UpgradeParams struct {
	NewPlanID     uint64
	EffectiveDate *time.Time // Defaults to today.
}

// Get loads a subscription.
func (o *Orchestrator) Get(ctx context.Context, id uint64) (*models.Subscription, error) {
	var sub models.Subscription
	if errFind := o.db.WithContext(ctx).First(&sub, id).Error; errFind != nil {
		if db.IsNotFound(errFind) {
			return nil, apperr.NotFound("subscription %d not found", id)
		}
		return nil, apperr.Internal("load subscription", errFind)
	}
	return &sub, nil
}

// Create starts a new ACTIVE subscription for a client.
func (o *Orchestrator) Create(ctx context.Context, p CreateParams) (*models.Subscription, error) {
	unlock := o.locker.Lock(store.ClientKey(p.ClientID))
	defer unlock()

	var sub models.Subscription
	errTx := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, errClient := lockClient(tx, p.ClientID)
		if errClient != nil {
			return errClient
		}
		plan, errPlan := loadPlan(tx, p.PlanID)
		if errPlan != nil {
			return errPlan
		}
		if client.Status == models.ClientStatusTerminated {
			return apperr.InvalidState("client %d is terminated", client.ID)
		}
		if !plan.IsActive {
			return apperr.InvalidState("plan %d is not active", plan.ID)
		}
		if errActive := ensureNoOtherActive(tx, client.ID, 0); errActive != nil {
			return errActive
		}

		start := calendar.Today(o.nowFn)
		if p.StartDate != nil {
			start = calendar.Day(*p.StartDate)
		}
		speed := plan.DownloadSpeed
		sub = models.Subscription{
			ClientID:           client.ID,
			PlanID:             plan.ID,
			StartDate:          start,
			EndDate:            calendar.AddDays(start, plan.DurationDays),
			Status:             models.SubscriptionStatusActive,
			BandwidthAllocated: speed,
			OriginalBandwidth:  &speed,
			IsAutoRenewed:      p.AutoRenew != nil && *p.AutoRenew,
		}
		if errCreate := tx.Create(&sub).Error; errCreate != nil {
			return fmt.Errorf("create subscription: %w", errCreate)
		}
		return nil
	})
	if errTx != nil {
		return nil, translate("create subscription", p.ClientID, errTx)
	}

	event := o.newEvent(ctx, audit.ActionSubscriptionCreated, sub.ID)
	event.NewValues = snapshot(&sub)
	event.Description = fmt.Sprintf("subscription created for client %d on plan %d", sub.ClientID, sub.PlanID)
	o.emit(ctx, event)
	return &sub, nil
}

// Renew starts a new period for a subscription and restores its bandwidth to plan speed.
func (o *Orchestrator) Renew(ctx context.Context, id uint64, p RenewParams) (*models.Subscription, error) {
	clientID, errPeek := o.clientOf(ctx, id)
	if errPeek != nil {
		return nil, errPeek
	}
	unlock := o.locker.Lock(store.ClientKey(clientID), store.SubscriptionKey(id))
	defer unlock()

	var (
		sub    models.Subscription
		before map[string]any
	)
	errTx := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, errClient := lockClient(tx, clientID)
		if errClient != nil {
			return errClient
		}
		locked, errSub := lockSubscription(tx, id)
		if errSub != nil {
			return errSub
		}
		sub = *locked
		if sub.Status == models.SubscriptionStatusTerminated {
			return apperr.InvalidState("subscription %d is terminated", sub.ID)
		}
		if client.Status == models.ClientStatusTerminated {
			return apperr.InvalidState("client %d is terminated", client.ID)
		}
		if !CanTransition(sub.Status, models.SubscriptionStatusActive) {
			return apperr.InvalidState("subscription %d cannot be renewed from %s", sub.ID, sub.Status)
		}
		if errActive := ensureNoOtherActive(tx, client.ID, sub.ID); errActive != nil {
			return errActive
		}
		plan, errPlan := loadPlan(tx, sub.PlanID)
		if errPlan != nil {
			return errPlan
		}

		before = snapshot(&sub)
		renewal := calendar.Day(sub.EndDate)
		if p.RenewalDate != nil {
			renewal = calendar.Day(*p.RenewalDate)
		}
		sub.StartDate = renewal
		sub.EndDate = calendar.AddDays(renewal, plan.DurationDays)
		sub.Status = models.SubscriptionStatusActive
		if p.AutoRenew != nil {
			sub.IsAutoRenewed = *p.AutoRenew
		}
		o.restorer.Restore(&sub, plan)

		if errSave := tx.Save(&sub).Error; errSave != nil {
			return fmt.Errorf("save subscription: %w", errSave)
		}
		return nil
	})
	if errTx != nil {
		return nil, translate("renew subscription", clientID, errTx)
	}

	o.metrics.BandwidthRestored()
	event := o.newEvent(ctx, audit.ActionSubscriptionRenewed, sub.ID)
	event.OldValues = before
	event.NewValues = snapshot(&sub)
	event.Description = fmt.Sprintf("subscription renewed until %s, bandwidth restored to %s Mbps",
		sub.EndDate.Format(time.DateOnly), sub.BandwidthAllocated)
	o.emit(ctx, event)
	return &sub, nil
}

// Upgrade terminates a subscription and replaces it with a new one on another plan.
// The old row keeps a link to its successor.
func (o *Orchestrator) Upgrade(ctx context.Context, id uint64, p UpgradeParams) (*models.Subscription, *models.Subscription, error) {
	clientID, errPeek := o.clientOf(ctx, id)
	if errPeek != nil {
		return nil, nil, errPeek
	}
	unlock := o.locker.Lock(store.ClientKey(clientID), store.SubscriptionKey(id))
	defer unlock()

	var old, next models.Subscription
	var from models.SubscriptionStatus
	errTx := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, errClient := lockClient(tx, clientID)
		if errClient != nil {
			return errClient
		}
		locked, errSub := lockSubscription(tx, id)
		if errSub != nil {
			return errSub
		}
		old = *locked
		from = old.Status
		if old.Status == models.SubscriptionStatusTerminated {
			return apperr.InvalidState("subscription %d is terminated", old.ID)
		}
		if client.Status == models.ClientStatusTerminated {
			return apperr.InvalidState("client %d is terminated", client.ID)
		}
		plan, errPlan := loadPlan(tx, p.NewPlanID)
		if errPlan != nil {
			return errPlan
		}
		if !plan.IsActive {
			return apperr.InvalidState("plan %d is not active", plan.ID)
		}
		if plan.ID == old.PlanID {
			return apperr.Conflict("subscription %d is already on plan %d", old.ID, plan.ID)
		}
		if errActive := ensureNoOtherActive(tx, client.ID, old.ID); errActive != nil {
			return errActive
		}

		// The old row must leave ACTIVE before its successor is inserted.
		if errTerminate := tx.Model(&old).Update("status", models.SubscriptionStatusTerminated).Error; errTerminate != nil {
			return fmt.Errorf("terminate subscription: %w", errTerminate)
		}

		effective := calendar.Today(o.nowFn)
		if p.EffectiveDate != nil {
			effective = calendar.Day(*p.EffectiveDate)
		}
		next = models.Subscription{
			ClientID:      old.ClientID,
			PlanID:        plan.ID,
			StartDate:     effective,
			EndDate:       calendar.AddDays(effective, plan.DurationDays),
			Status:        models.SubscriptionStatusActive,
			IsAutoRenewed: old.IsAutoRenewed,
		}
		o.restorer.Restore(&next, plan)
		if errCreate := tx.Create(&next).Error; errCreate != nil {
			return fmt.Errorf("create upgraded subscription: %w", errCreate)
		}

		if errLink := tx.Model(&old).Update("upgraded_to_subscription_id", next.ID).Error; errLink != nil {
			return fmt.Errorf("link upgraded subscription: %w", errLink)
		}
		old.Status = models.SubscriptionStatusTerminated
		old.UpgradedToSubscriptionID = &next.ID
		return nil
	})
	if errTx != nil {
		return nil, nil, translate("upgrade subscription", clientID, errTx)
	}

	o.metrics.BandwidthRestored()
	upgraded := o.newEvent(ctx, audit.ActionSubscriptionUpgraded, old.ID)
	upgraded.OldValues = map[string]any{"status": string(from), "plan_id": old.PlanID}
	upgraded.NewValues = map[string]any{
		"status":                      string(old.Status),
		"upgraded_to_subscription_id": next.ID,
		"plan_id":                     next.PlanID,
	}
	upgraded.Description = fmt.Sprintf("subscription upgraded from plan %d to plan %d", old.PlanID, next.PlanID)
	o.emit(ctx, upgraded)

	created := o.newEvent(ctx, audit.ActionSubscriptionCreated, next.ID)
	created.NewValues = snapshot(&next)
	created.Description = fmt.Sprintf("subscription created by upgrade of subscription %d", old.ID)
	o.emit(ctx, created)
	return &old, &next, nil
}

// Terminate closes a subscription. Terminating a terminated subscription returns it unchanged.
func (o *Orchestrator) Terminate(ctx context.Context, id uint64) (*models.Subscription, error) {
	return o.moveTo(ctx, id, models.SubscriptionStatusTerminated, audit.ActionSubscriptionTerminated)
}

// Expire marks an ACTIVE subscription as EXPIRED.
func (o *Orchestrator) Expire(ctx context.Context, id uint64) (*models.Subscription, error) {
	return o.moveTo(ctx, id, models.SubscriptionStatusExpired, audit.ActionSubscriptionExpired)
}

func (o *Orchestrator) moveTo(ctx context.Context, id uint64, target models.SubscriptionStatus, action string) (*models.Subscription, error) {
	clientID, errPeek := o.clientOf(ctx, id)
	if errPeek != nil {
		return nil, errPeek
	}
	unlock := o.locker.Lock(store.ClientKey(clientID), store.SubscriptionKey(id))
	defer unlock()

	var (
		sub     models.Subscription
		changed bool
		from    models.SubscriptionStatus
	)
	errTx := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, errSub := lockSubscription(tx, id)
		if errSub != nil {
			return errSub
		}
		sub = *locked
		from = sub.Status
		if sub.Status == target && target == models.SubscriptionStatusTerminated {
			return nil
		}
		if !CanTransition(sub.Status, target) {
			return apperr.InvalidState("subscription %d cannot move from %s to %s", sub.ID, sub.Status, target)
		}
		if errUpdate := tx.Model(&sub).Update("status", target).Error; errUpdate != nil {
			return fmt.Errorf("update status: %w", errUpdate)
		}
		sub.Status = target
		changed = true
		return nil
	})
	if errTx != nil {
		return nil, translate("update subscription status", clientID, errTx)
	}
	if !changed {
		return &sub, nil
	}

	event := o.newEvent(ctx, action, sub.ID)
	event.OldValues = map[string]any{"status": string(from)}
	event.NewValues = map[string]any{"status": string(target)}
	event.Description = fmt.Sprintf("subscription status changed from %s to %s", from, target)
	o.emit(ctx, event)
	return &sub, nil
}

// clientOf resolves the owning client so its lock can be taken before the transaction.
func (o *Orchestrator) clientOf(ctx context.Context, id uint64) (uint64, error) {
	var sub models.Subscription
	if errFind := o.db.WithContext(ctx).Select("id", "client_id").First(&sub, id).Error; errFind != nil {
		if db.IsNotFound(errFind) {
			return 0, apperr.NotFound("subscription %d not found", id)
		}
		return 0, apperr.Internal("load subscription", errFind)
	}
	return sub.ClientID, nil
}

func (o *Orchestrator) newEvent(ctx context.Context, action string, id uint64) audit.Event {
	return audit.NewEvent(audit.ActorFromContext(ctx), action, audit.EntitySubscription, id)
}

func (o *Orchestrator) emit(ctx context.Context, event audit.Event) {
	o.metrics.Transition(event.Action)
	if errRecord := o.sink.Record(ctx, event); errRecord != nil {
		log.WithError(errRecord).WithFields(log.Fields{
			"action":          event.Action,
			"subscription_id": event.EntityID,
		}).Warn("lifecycle: failed to emit audit event")
	}
}

func lockClient(tx *gorm.DB, id uint64) (*models.Client, error) {
	var client models.Client
	if errFind := db.ForUpdate(tx).First(&client, id).Error; errFind != nil {
		if db.IsNotFound(errFind) {
			return nil, apperr.NotFound("client %d not found", id)
		}
		return nil, fmt.Errorf("load client: %w", errFind)
	}
	return &client, nil
}

func lockSubscription(tx *gorm.DB, id uint64) (*models.Subscription, error) {
	var sub models.Subscription
	if errFind := db.ForUpdate(tx).First(&sub, id).Error; errFind != nil {
		if db.IsNotFound(errFind) {
			return nil, apperr.NotFound("subscription %d not found", id)
		}
		return nil, fmt.Errorf("load subscription: %w", errFind)
	}
	return &sub, nil
}

func loadPlan(tx *gorm.DB, id uint64) (*models.ServicePlan, error) {
	var plan models.ServicePlan
	if errFind := tx.First(&plan, id).Error; errFind != nil {
		if db.IsNotFound(errFind) {
			return nil, apperr.NotFound("plan %d not found", id)
		}
		return nil, fmt.Errorf("load plan: %w", errFind)
	}
	return &plan, nil
}

// ensureNoOtherActive fails with Conflict if the client has an ACTIVE subscription other than excludeID.
func ensureNoOtherActive(tx *gorm.DB, clientID, excludeID uint64) error {
	query := tx.Model(&models.Subscription{}).
		Where("client_id = ? AND status = ?", clientID, models.SubscriptionStatusActive)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if errCount := query.Count(&count).Error; errCount != nil {
		return fmt.Errorf("count active subscriptions: %w", errCount)
	}
	if count > 0 {
		return apperr.Conflict("client %d already has an active subscription", clientID)
	}
	return nil
}

// translate maps transaction errors onto the engine taxonomy.
func translate(op string, clientID uint64, err error) error {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return typed
	}
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("client %d already has an active subscription", clientID)
	}
	return apperr.Internal(op, err)
}

func snapshot(sub *models.Subscription) map[string]any {
	values := map[string]any{
		"status":              string(sub.Status),
		"plan_id":             sub.PlanID,
		"start_date":          sub.StartDate.Format(time.DateOnly),
		"end_date":            sub.EndDate.Format(time.DateOnly),
		"bandwidth_allocated": sub.BandwidthAllocated.String(),
		"is_auto_renewed":     sub.IsAutoRenewed,
	}
	if sub.OriginalBandwidth != nil {
		values["original_bandwidth"] = sub.OriginalBandwidth.String()
	}
	return values
}
