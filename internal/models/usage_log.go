package models

import (
	"time"

	"github.com/wspnet/subengine/internal/quantity"
)

// UsageLog is one append-only daily traffic record for a subscription.
type UsageLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubscriptionID uint64 `gorm:"not null;index:idx_usage_logs_subscription_date,priority:1"` // Owning subscription.

	Download quantity.Data `gorm:"column:download_milli_mb;not null"` // Downloaded volume.
	Upload   quantity.Data `gorm:"column:upload_milli_mb;not null"`   // Uploaded volume.

	LogDate time.Time `gorm:"type:date;not null;index:idx_usage_logs_subscription_date,priority:2"` // Day the traffic occurred.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Insert timestamp.
}

// Total returns download plus upload.
func (u UsageLog) Total() quantity.Data { return u.Download.Add(u.Upload) }
