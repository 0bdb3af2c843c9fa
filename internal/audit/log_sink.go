package audit

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LogSink writes audit events as structured log entries.
type LogSink struct {
	logger log.FieldLogger
}

// NewLogSink constructs a LogSink; a nil logger uses the standard logger.
func NewLogSink(logger log.FieldLogger) *LogSink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogSink{logger: logger}
}

// Record logs the event at info level.
func (s *LogSink) Record(_ context.Context, event Event) error {
	fields := log.Fields{
		"audit_id":    event.ID.String(),
		"action":      event.Action,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
		"actor":       string(event.Actor.Kind),
	}
	if !event.Actor.IsSystem() {
		fields["actor_user_id"] = event.Actor.UserID
	}
	if len(event.OldValues) > 0 {
		fields["old"] = event.OldValues
	}
	if len(event.NewValues) > 0 {
		fields["new"] = event.NewValues
	}
	s.logger.WithFields(fields).Info(event.Description)
	return nil
}
