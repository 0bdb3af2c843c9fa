package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorFromContextDefaultsToSystem(t *testing.T) {
	assert.True(t, ActorFromContext(context.Background()).IsSystem())

	ctx := WithActor(context.Background(), User(42))
	actor := ActorFromContext(ctx)
	assert.False(t, actor.IsSystem())
	assert.Equal(t, uint64(42), actor.UserID)
}

func TestMultiDeliversToAllSinksAndJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("sink down") })

	err := Multi(rec, nil, failing).Record(context.Background(), NewEvent(System(), ActionSubscriptionThrottled, EntitySubscription, 1))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Len(t, rec.ByAction(ActionSubscriptionThrottled), 1)
}

func TestLogSinkWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&log.JSONFormatter{})

	event := NewEvent(User(7), ActionSubscriptionCreated, EntitySubscription, 99)
	event.NewValues = map[string]any{"status": "ACTIVE"}
	event.Description = "subscription created"

	require.NoError(t, NewLogSink(logger).Record(context.Background(), event))

	out := buf.String()
	assert.Contains(t, out, `"action":"subscription.created"`)
	assert.Contains(t, out, `"actor_user_id":7`)
	assert.Contains(t, out, `"entity_id":99`)
}
