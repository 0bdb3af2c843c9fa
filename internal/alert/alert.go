// Package alert reports engine failures that need operator attention.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wspnet/subengine/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ThrottleFailure describes a throttle evaluation that failed after its usage entry committed.
type ThrottleFailure struct {
	SubscriptionID uint64
	UsageLogID     *uint64
	Err            error
	Details        map[string]any
}

// Notifier receives operator alerts. Implementations must not drop alerts silently.
type Notifier interface {
	ThrottleFailed(ctx context.Context, tx *gorm.DB, failure ThrottleFailure) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, tx *gorm.DB, failure ThrottleFailure) error

// ThrottleFailed calls f.
func (f NotifierFunc) ThrottleFailed(ctx context.Context, tx *gorm.DB, failure ThrottleFailure) error {
	return f(ctx, tx, failure)
}

// LogNotifier logs alerts at error level.
type LogNotifier struct {
	logger log.FieldLogger
}

// NewLogNotifier constructs a LogNotifier; a nil logger uses the standard logger.
func NewLogNotifier(logger log.FieldLogger) *LogNotifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

// ThrottleFailed logs the failure.
func (n *LogNotifier) ThrottleFailed(_ context.Context, _ *gorm.DB, failure ThrottleFailure) error {
	entry := n.logger.WithError(failure.Err).WithField("subscription_id", failure.SubscriptionID)
	if failure.UsageLogID != nil {
		entry = entry.WithField("usage_log_id", *failure.UsageLogID)
	}
	entry.Error("throttle evaluation failed; usage entry kept, subscription queued for recheck")
	return nil
}

// StoreNotifier persists alerts as ThrottleFailure rows so they can be rechecked.
type StoreNotifier struct{}

// ThrottleFailed inserts a failure row using tx.
func (StoreNotifier) ThrottleFailed(ctx context.Context, tx *gorm.DB, failure ThrottleFailure) error {
	if tx == nil {
		return errors.New("alert: nil tx")
	}
	message := "unknown error"
	if failure.Err != nil {
		message = failure.Err.Error()
	}
	var details datatypes.JSON
	if len(failure.Details) > 0 {
		raw, errMarshal := json.Marshal(failure.Details)
		if errMarshal != nil {
			return fmt.Errorf("alert: marshal details: %w", errMarshal)
		}
		details = datatypes.JSON(raw)
	}
	row := models.ThrottleFailure{
		SubscriptionID: failure.SubscriptionID,
		UsageLogID:     failure.UsageLogID,
		Error:          message,
		Details:        details,
	}
	if errCreate := tx.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return fmt.Errorf("alert: record throttle failure: %w", errCreate)
	}
	return nil
}

// Multi delivers to every notifier and joins their errors.
func Multi(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, tx *gorm.DB, failure ThrottleFailure) error {
		var errs []error
		for _, n := range notifiers {
			if n == nil {
				continue
			}
			if err := n.ThrottleFailed(ctx, tx, failure); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
