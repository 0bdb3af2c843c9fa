package models

import (
	"time"

	"github.com/wspnet/subengine/internal/quantity"
)

// PointOfSale is a reseller location holding a slice of the provider's bandwidth.
type PointOfSale struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name               string             `gorm:"type:varchar(255);not null"`                       // Display name.
	AllocatedBandwidth quantity.Bandwidth `gorm:"column:allocated_bandwidth_kbps;not null;default:0"` // Provisioned share of the pool.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// BandwidthPool is the provider-wide bandwidth ceiling. A single row is expected.
type BandwidthPool struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TotalBandwidth quantity.Bandwidth `gorm:"column:total_bandwidth_kbps;not null"` // Total upstream capacity.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
