package db

import (
	"errors"
	"fmt"

	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
	"gorm.io/gorm"
)

// activeSubscriptionIndex enforces at most one ACTIVE subscription per client.
// Partial indexes are supported by both PostgreSQL and SQLite.
const activeSubscriptionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active_per_client
	ON subscriptions (client_id) WHERE status = 'ACTIVE'`

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.PointOfSale{},
		&models.BandwidthPool{},
		&models.Client{},
		&models.ServicePlan{},
		&models.Subscription{},
		&models.UsageLog{},
		&models.ThrottleFailure{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errIndex := conn.Exec(activeSubscriptionIndex).Error; errIndex != nil {
		return fmt.Errorf("db: create active subscription index: %w", errIndex)
	}
	return nil
}

// EnsureBandwidthPool creates the pool row with the given total when none exists.
// An existing row is left untouched.
func EnsureBandwidthPool(conn *gorm.DB, total quantity.Bandwidth) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if total <= 0 {
		return nil
	}
	var existing models.BandwidthPool
	errFirst := conn.Order("id ASC").First(&existing).Error
	if errFirst == nil {
		return nil
	}
	if !errors.Is(errFirst, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: load bandwidth pool: %w", errFirst)
	}
	if errCreate := conn.Create(&models.BandwidthPool{TotalBandwidth: total}).Error; errCreate != nil {
		return fmt.Errorf("db: seed bandwidth pool: %w", errCreate)
	}
	return nil
}
