package models

import (
	"time"

	"gorm.io/datatypes"
)

// ThrottleFailure records a throttle evaluation that failed after its usage entry was stored.
type ThrottleFailure struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubscriptionID uint64  `gorm:"not null;index"` // Subscription whose evaluation failed.
	UsageLogID     *uint64 `gorm:"index"`          // Usage entry that triggered the evaluation.

	Error   string         `gorm:"type:text;not null"` // Failure message.
	Details datatypes.JSON // Structured context for operators.

	ResolvedAt *time.Time `gorm:"index"` // Set once a recheck evaluated successfully.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
