package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wspnet/subengine/internal/apperr"
	"github.com/wspnet/subengine/internal/calendar"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
	"gorm.io/gorm"
)

var (
	errNilTx    = errors.New("usage: nil tx")
	errNilEntry = errors.New("usage: nil entry")
)

// Entry is a traffic report submitted for one subscription and day.
type Entry struct {
	SubscriptionID uint64
	Download       quantity.Data
	Upload         quantity.Data
	LogDate        time.Time
}

// Ledger appends and lists usage log entries. Entries are never updated or deleted.
type Ledger struct {
	nowFn func() time.Time
}

// NewLedger constructs a Ledger. A nil nowFn uses time.Now.
func NewLedger(nowFn func() time.Time) *Ledger {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Ledger{nowFn: nowFn}
}

// Validate checks an entry without touching storage.
func (l *Ledger) Validate(entry Entry) error {
	if entry.SubscriptionID == 0 {
		return apperr.Validation("subscription id is required")
	}
	if entry.Download.IsNegative() || entry.Upload.IsNegative() {
		return apperr.Validation("download and upload must not be negative")
	}
	if entry.LogDate.IsZero() {
		return apperr.Validation("log date is required")
	}
	today := calendar.Today(l.nowFn)
	if calendar.Day(entry.LogDate).After(today) {
		return apperr.Validation("log date %s is in the future", calendar.Day(entry.LogDate).Format(time.DateOnly))
	}
	return nil
}

// Append validates and inserts an entry using tx.
func (l *Ledger) Append(ctx context.Context, tx *gorm.DB, entry Entry) (*models.UsageLog, error) {
	if tx == nil {
		return nil, errNilTx
	}
	if errValidate := l.Validate(entry); errValidate != nil {
		return nil, errValidate
	}
	row := models.UsageLog{
		SubscriptionID: entry.SubscriptionID,
		Download:       entry.Download,
		Upload:         entry.Upload,
		LogDate:        calendar.Day(entry.LogDate),
	}
	if errCreate := tx.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, fmt.Errorf("usage: append entry: %w", errCreate)
	}
	return &row, nil
}

// History lists a subscription's entries, newest day first.
func (l *Ledger) History(ctx context.Context, conn *gorm.DB, subscriptionID uint64) ([]models.UsageLog, error) {
	if conn == nil {
		return nil, errNilTx
	}
	var rows []models.UsageLog
	if errFind := conn.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("log_date DESC, id DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("usage: list history: %w", errFind)
	}
	return rows, nil
}

// Aggregator sums usage over a subscription's current period.
type Aggregator struct{}

// PeriodUsage returns download plus upload over [StartDate, EndDate], both days inclusive.
func (Aggregator) PeriodUsage(ctx context.Context, conn *gorm.DB, sub *models.Subscription) (quantity.Data, error) {
	if conn == nil {
		return 0, errNilTx
	}
	if sub == nil {
		return 0, errNilEntry
	}

	// row holds the aggregated period total.
	var row struct {
		Total int64
	}
	if errSum := conn.WithContext(ctx).Model(&models.UsageLog{}).
		Select("COALESCE(SUM(download_milli_mb + upload_milli_mb), 0) AS total").
		Where("subscription_id = ?", sub.ID).
		Where("log_date >= ? AND log_date <= ?", calendar.Day(sub.StartDate), calendar.Day(sub.EndDate)).
		Scan(&row).Error; errSum != nil {
		return 0, fmt.Errorf("usage: aggregate period: %w", errSum)
	}
	return quantity.Data(row.Total), nil
}
