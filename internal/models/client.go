package models

import "time"

// ClientStatus represents the account state of a client.
type ClientStatus string

// ClientStatus constants define client account states.
const (
	// ClientStatusActive marks a client in good standing.
	ClientStatusActive ClientStatus = "ACTIVE"
	// ClientStatusSuspended marks a temporarily suspended client.
	ClientStatusSuspended ClientStatus = "SUSPENDED"
	// ClientStatusTerminated marks a closed client account.
	ClientStatusTerminated ClientStatus = "TERMINATED"
)

// Client is a subscriber account managed by a point of sale.
type Client struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string `gorm:"type:varchar(255);not null"` // Display name.

	PointOfSaleID *uint64      `gorm:"index"`                     // Owning point of sale.
	PointOfSale   *PointOfSale `gorm:"foreignKey:PointOfSaleID"`  // Owning point of sale record.
	Status        ClientStatus `gorm:"type:varchar(16);not null"` // Account state.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
