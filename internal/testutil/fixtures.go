// Package testutil seeds SQLite-backed fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wspnet/subengine/internal/db"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
	"gorm.io/gorm"
)

// OpenDB opens a migrated SQLite database in a temp directory.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "subengine-test.db")
	conn, err := db.Open(dsn)
	require.NoError(t, err, "open db")
	require.NoError(t, db.Migrate(conn), "migrate")
	return conn
}

// Client inserts a client with the given status.
func Client(t testing.TB, conn *gorm.DB, status models.ClientStatus) *models.Client {
	t.Helper()
	client := &models.Client{Name: "client", Status: status}
	require.NoError(t, conn.Create(client).Error, "create client")
	return client
}

// PlanSpec describes a plan fixture.
type PlanSpec struct {
	Name     string
	SpeedMbp int64
	CapGB    int64 // zero means unlimited
	Days     int
	Inactive bool
}

// Plan inserts a service plan.
func Plan(t testing.TB, conn *gorm.DB, spec PlanSpec) *models.ServicePlan {
	t.Helper()
	plan := &models.ServicePlan{
		Name:          spec.Name,
		DownloadSpeed: quantity.Mbps(spec.SpeedMbp),
		DurationDays:  spec.Days,
		IsActive:      !spec.Inactive,
	}
	if plan.Name == "" {
		plan.Name = "plan"
	}
	if plan.DurationDays == 0 {
		plan.DurationDays = 30
	}
	if spec.CapGB > 0 {
		capacity := quantity.GB(spec.CapGB)
		plan.DataCapacity = &capacity
	}
	require.NoError(t, conn.Create(plan).Error, "create plan")
	return plan
}

// Subscription inserts an ACTIVE subscription starting on start.
func Subscription(t testing.TB, conn *gorm.DB, client *models.Client, plan *models.ServicePlan, start time.Time) *models.Subscription {
	t.Helper()
	speed := plan.DownloadSpeed
	sub := &models.Subscription{
		ClientID:           client.ID,
		PlanID:             plan.ID,
		StartDate:          start,
		EndDate:            start.AddDate(0, 0, plan.DurationDays),
		Status:             models.SubscriptionStatusActive,
		BandwidthAllocated: speed,
		OriginalBandwidth:  &speed,
	}
	require.NoError(t, conn.Create(sub).Error, "create subscription")
	return sub
}

// Usage inserts a usage entry directly, bypassing the ledger.
func Usage(t testing.TB, conn *gorm.DB, subscriptionID uint64, downloadGB, uploadGB int64, day time.Time) {
	t.Helper()
	row := &models.UsageLog{
		SubscriptionID: subscriptionID,
		Download:       quantity.GB(downloadGB),
		Upload:         quantity.GB(uploadGB),
		LogDate:        day,
	}
	require.NoError(t, conn.Create(row).Error, "create usage")
}

// Reload reads a subscription back from storage.
func Reload(t testing.TB, conn *gorm.DB, id uint64) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, conn.First(&sub, id).Error, "reload subscription")
	return &sub
}

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
