package models

import (
	"time"

	"github.com/wspnet/subengine/internal/calendar"
	"github.com/wspnet/subengine/internal/quantity"
)

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

// SubscriptionStatus constants define subscription lifecycle states.
const (
	// SubscriptionStatusActive marks the client's current subscription.
	SubscriptionStatusActive SubscriptionStatus = "ACTIVE"
	// SubscriptionStatusExpired marks a subscription whose period has lapsed.
	SubscriptionStatusExpired SubscriptionStatus = "EXPIRED"
	// SubscriptionStatusTerminated marks a closed subscription. Terminal.
	SubscriptionStatusTerminated SubscriptionStatus = "TERMINATED"
)

// Subscription binds a client to a service plan for a billing period.
// Rows are never deleted; an upgrade terminates the old row and links it to its successor.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ClientID uint64       `gorm:"not null;index"`      // Subscribed client ID.
	Client   *Client      `gorm:"foreignKey:ClientID"` // Subscribed client.
	PlanID   uint64       `gorm:"not null;index"`      // Service plan ID.
	Plan     *ServicePlan `gorm:"foreignKey:PlanID"`   // Service plan.

	StartDate time.Time          `gorm:"type:date;not null"`         // First day of the period.
	EndDate   time.Time          `gorm:"type:date;not null"`         // Last day of the period.
	Status    SubscriptionStatus `gorm:"type:varchar(16);not null"` // Lifecycle state.

	BandwidthAllocated quantity.Bandwidth  `gorm:"column:bandwidth_allocated_kbps;not null"` // Current effective speed.
	OriginalBandwidth  *quantity.Bandwidth `gorm:"column:original_bandwidth_kbps"`           // Unthrottled baseline speed.

	IsAutoRenewed            bool    `gorm:"not null;default:false"` // Auto-renew flag.
	UpgradedToSubscriptionID *uint64 `gorm:"index"`                  // Successor created by an upgrade.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsThrottled reports whether the allocation is below the recorded baseline.
func (s Subscription) IsThrottled() bool {
	return s.OriginalBandwidth != nil && s.BandwidthAllocated < *s.OriginalBandwidth
}

// IsLapsed reports whether the period ended before the given day.
func (s Subscription) IsLapsed(now time.Time) bool {
	return calendar.Day(now).After(calendar.Day(s.EndDate))
}

// EffectiveStatus reports EXPIRED for an ACTIVE subscription whose period has lapsed.
func (s Subscription) EffectiveStatus(now time.Time) SubscriptionStatus {
	if s.Status == SubscriptionStatusActive && s.IsLapsed(now) {
		return SubscriptionStatusExpired
	}
	return s.Status
}
