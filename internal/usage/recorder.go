package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/wspnet/subengine/internal/alert"
	"github.com/wspnet/subengine/internal/apperr"
	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/db"
	"github.com/wspnet/subengine/internal/metrics"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/store"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Evaluation is the outcome of one throttle evaluation.
type Evaluation struct {
	Outcome string       // "throttled", "noop" or "skipped".
	Event   *audit.Event // Emitted after commit when non-nil.
}

// Evaluator decides whether a subscription must be throttled. It runs inside the
// caller's transaction while the subscription row is locked.
type Evaluator interface {
	Evaluate(ctx context.Context, tx *gorm.DB, sub *models.Subscription) (Evaluation, error)
}

// Recorder appends usage and runs the throttle check as one unit of work per subscription.
type Recorder struct {
	db        *gorm.DB
	locker    *store.Locker
	ledger    *Ledger
	evaluator Evaluator
	notifier  alert.Notifier
	sink      audit.Sink
	metrics   *metrics.Metrics
}

// RecorderOptions carries the Recorder collaborators.
type RecorderOptions struct {
	Locker    *store.Locker
	Ledger    *Ledger
	Evaluator Evaluator
	Notifier  alert.Notifier
	Sink      audit.Sink
	Metrics   *metrics.Metrics
}

// NewRecorder constructs a Recorder with defaults for omitted options.
func NewRecorder(conn *gorm.DB, opts RecorderOptions) *Recorder {
	r := &Recorder{
		db:        conn,
		locker:    opts.Locker,
		ledger:    opts.Ledger,
		evaluator: opts.Evaluator,
		notifier:  opts.Notifier,
		sink:      opts.Sink,
		metrics:   opts.Metrics,
	}
	if r.locker == nil {
		r.locker = store.NewLocker()
	}
	if r.ledger == nil {
		r.ledger = NewLedger(nil)
	}
	if r.notifier == nil {
		r.notifier = alert.NewLogNotifier(nil)
	}
	if r.sink == nil {
		r.sink = audit.Discard
	}
	return r
}

// Record stores the entry and evaluates throttling for the subscription.
// A failed evaluation never discards the entry: the evaluation is rolled back
// to a savepoint and reported through the notifier.
func (r *Recorder) Record(ctx context.Context, entry Entry) (*models.UsageLog, error) {
	if r == nil || r.db == nil {
		return nil, apperr.Internal("record usage", errors.New("recorder not initialized"))
	}
	if errValidate := r.ledger.Validate(entry); errValidate != nil {
		return nil, errValidate
	}

	unlock := r.locker.Lock(store.SubscriptionKey(entry.SubscriptionID))
	defer unlock()

	var (
		row        *models.UsageLog
		evaluation Evaluation
	)
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if errFind := db.ForUpdate(tx).First(&sub, entry.SubscriptionID).Error; errFind != nil {
			if db.IsNotFound(errFind) {
				return apperr.NotFound("subscription %d not found", entry.SubscriptionID)
			}
			return fmt.Errorf("load subscription: %w", errFind)
		}

		appended, errAppend := r.ledger.Append(ctx, tx, entry)
		if errAppend != nil {
			return errAppend
		}
		row = appended

		if sub.Status != models.SubscriptionStatusActive || r.evaluator == nil {
			evaluation = Evaluation{Outcome: "skipped"}
			return nil
		}

		errEval := tx.Transaction(func(sp *gorm.DB) error {
			result, err := r.evaluator.Evaluate(ctx, sp, &sub)
			if err != nil {
				return err
			}
			evaluation = result
			return nil
		})
		if errEval != nil {
			evaluation = Evaluation{}
			r.reportFailure(ctx, tx, sub.ID, row, errEval)
		}
		return nil
	})
	if errTx != nil {
		var typed *apperr.Error
		if errors.As(errTx, &typed) {
			return nil, typed
		}
		return nil, apperr.Internal("record usage", errTx)
	}

	r.metrics.UsageEntry()
	if evaluation.Outcome != "" {
		r.metrics.ThrottleEvaluated(evaluation.Outcome)
	}
	if evaluation.Event != nil {
		if errRecord := r.sink.Record(ctx, *evaluation.Event); errRecord != nil {
			log.WithError(errRecord).WithField("subscription_id", entry.SubscriptionID).Warn("usage: failed to emit audit event")
		}
	}
	return row, nil
}

// History lists the subscription's usage entries, newest first.
func (r *Recorder) History(ctx context.Context, subscriptionID uint64) ([]models.UsageLog, error) {
	var sub models.Subscription
	if errFind := r.db.WithContext(ctx).Select("id").First(&sub, subscriptionID).Error; errFind != nil {
		if db.IsNotFound(errFind) {
			return nil, apperr.NotFound("subscription %d not found", subscriptionID)
		}
		return nil, apperr.Internal("load subscription", errFind)
	}
	rows, err := r.ledger.History(ctx, r.db, subscriptionID)
	if err != nil {
		return nil, apperr.Internal("list usage history", err)
	}
	return rows, nil
}

func (r *Recorder) reportFailure(ctx context.Context, tx *gorm.DB, subscriptionID uint64, row *models.UsageLog, errEval error) {
	r.metrics.ThrottleFailure()
	failure := alert.ThrottleFailure{
		SubscriptionID: subscriptionID,
		Err:            errEval,
		Details: map[string]any{
			"download": row.Download.String(),
			"upload":   row.Upload.String(),
			"log_date": row.LogDate.Format("2006-01-02"),
		},
	}
	usageLogID := row.ID
	failure.UsageLogID = &usageLogID

	errNotify := tx.Transaction(func(sp *gorm.DB) error {
		return r.notifier.ThrottleFailed(ctx, sp, failure)
	})
	if errNotify != nil {
		log.WithError(errNotify).WithFields(log.Fields{
			"subscription_id": subscriptionID,
			"usage_log_id":    usageLogID,
			"throttle_error":  errEval.Error(),
		}).Error("usage: failed to notify operator about throttle failure")
	}
}
