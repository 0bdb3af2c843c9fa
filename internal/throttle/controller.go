// Package throttle reduces a subscription's bandwidth once its period usage passes the
// plan's data cap, and restores it when a new period begins.
package throttle

import (
	"context"
	"errors"
	"fmt"

	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
	"github.com/wspnet/subengine/internal/usage"
	"gorm.io/gorm"
)

// ReducedPercent is the share of the baseline speed kept while throttled.
const ReducedPercent = 25

// Evaluation outcomes.
const (
	OutcomeThrottled = "throttled"
	OutcomeNoop      = "noop"
	OutcomeSkipped   = "skipped"
)

var errNilSubscription = errors.New("throttle: nil subscription")

// Controller decides and applies throttling. It must run inside a transaction that
// holds the subscription row lock.
type Controller struct {
	aggregator usage.Aggregator
}

// NewController constructs a Controller.
func NewController() *Controller {
	return &Controller{}
}

// Evaluate throttles sub when its period usage exceeds the plan cap.
// Repeated calls are idempotent: an already throttled subscription is left alone.
func (c *Controller) Evaluate(ctx context.Context, tx *gorm.DB, sub *models.Subscription) (usage.Evaluation, error) {
	if sub == nil {
		return usage.Evaluation{}, errNilSubscription
	}
	if sub.Status != models.SubscriptionStatusActive {
		return usage.Evaluation{Outcome: OutcomeSkipped}, nil
	}

	var plan models.ServicePlan
	if errPlan := tx.WithContext(ctx).First(&plan, sub.PlanID).Error; errPlan != nil {
		return usage.Evaluation{}, fmt.Errorf("throttle: load plan %d: %w", sub.PlanID, errPlan)
	}
	if plan.IsUnlimited() {
		return usage.Evaluation{Outcome: OutcomeNoop}, nil
	}

	used, errUsage := c.aggregator.PeriodUsage(ctx, tx, sub)
	if errUsage != nil {
		return usage.Evaluation{}, errUsage
	}
	capacity := *plan.DataCapacity
	if !used.Exceeds(capacity) {
		return usage.Evaluation{Outcome: OutcomeNoop}, nil
	}
	if sub.IsThrottled() {
		return usage.Evaluation{Outcome: OutcomeNoop}, nil
	}

	baseline := sub.BandwidthAllocated
	if sub.OriginalBandwidth != nil {
		baseline = *sub.OriginalBandwidth
	}
	reduced := baseline.Percent(ReducedPercent)
	if reduced == sub.BandwidthAllocated && sub.OriginalBandwidth != nil {
		return usage.Evaluation{Outcome: OutcomeNoop}, nil
	}

	previous := sub.BandwidthAllocated
	if errUpdate := tx.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{
			"original_bandwidth_kbps":  baseline,
			"bandwidth_allocated_kbps": reduced,
		}).Error; errUpdate != nil {
		return usage.Evaluation{}, fmt.Errorf("throttle: update subscription %d: %w", sub.ID, errUpdate)
	}
	sub.OriginalBandwidth = &baseline
	sub.BandwidthAllocated = reduced

	event := throttledEvent(sub, previous, used, capacity)
	return usage.Evaluation{Outcome: OutcomeThrottled, Event: &event}, nil
}

func throttledEvent(sub *models.Subscription, previous quantity.Bandwidth, used, capacity quantity.Data) audit.Event {
	event := audit.NewEvent(audit.System(), audit.ActionSubscriptionThrottled, audit.EntitySubscription, sub.ID)
	event.OldValues = map[string]any{
		"bandwidth_allocated": previous.String(),
	}
	event.NewValues = map[string]any{
		"bandwidth_allocated": sub.BandwidthAllocated.String(),
		"original_bandwidth":  sub.OriginalBandwidth.String(),
		"used":                used.String(),
		"cap":                 capacity.String(),
	}
	event.Description = fmt.Sprintf(
		"data cap exceeded: used %.3f GB of %.3f GB, bandwidth reduced to %s Mbps",
		used.GBFloat(), capacity.GBFloat(), sub.BandwidthAllocated,
	)
	return event
}
