package models

import (
	"time"

	"github.com/wspnet/subengine/internal/quantity"
)

// ServicePlan describes a sellable internet service offering.
type ServicePlan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:varchar(255);not null"` // Plan name.
	Description string `gorm:"type:text"`                  // Plan description.

	DownloadSpeed quantity.Bandwidth `gorm:"column:download_speed_kbps;not null"` // Nominal download speed.
	UploadSpeed   quantity.Bandwidth `gorm:"column:upload_speed_kbps;not null;default:0"`
	DataCapacity  *quantity.Data     `gorm:"column:data_capacity_milli_mb"` // Period data cap; nil means unlimited.
	DurationDays  int                `gorm:"not null"`                      // Period length in days.
	IsActive      bool               `gorm:"not null"`                      // Whether the plan can be sold.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsUnlimited reports whether the plan has no data cap.
func (p ServicePlan) IsUnlimited() bool { return p.DataCapacity == nil }
