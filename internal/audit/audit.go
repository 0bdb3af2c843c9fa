// Package audit defines the structured events emitted for subscription state changes.
//
// The engine only emits events. Persistence and querying belong to whatever
// Sink the caller injects at wiring time.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action constants for audit events.
const (
	ActionSubscriptionCreated    = "subscription.created"
	ActionSubscriptionRenewed    = "subscription.renewed"
	ActionSubscriptionUpgraded   = "subscription.upgraded"
	ActionSubscriptionTerminated = "subscription.terminated"
	ActionSubscriptionExpired    = "subscription.expired"
	ActionSubscriptionThrottled  = "subscription.throttled"
	ActionBandwidthRestored      = "subscription.bandwidth_restored"
	ActionAllocationUpdated      = "point_of_sale.allocation_updated"
)

// Entity type constants for audit events.
const (
	EntitySubscription = "subscription"
	EntityPointOfSale  = "point_of_sale"
)

// ActorKind distinguishes who initiated a change.
type ActorKind string

// ActorKind constants.
const (
	ActorSystem ActorKind = "system"
	ActorUser   ActorKind = "user"
)

// Actor is either the system itself or an operator identified by user ID.
type Actor struct {
	Kind   ActorKind `json:"kind"`
	UserID uint64    `json:"user_id,omitempty"`
}

// System returns the actor for engine-initiated changes.
func System() Actor { return Actor{Kind: ActorSystem} }

// User returns the actor for an operator-initiated change.
func User(userID uint64) Actor { return Actor{Kind: ActorUser, UserID: userID} }

// IsSystem reports whether the actor is the system.
func (a Actor) IsSystem() bool { return a.Kind != ActorUser }

// Event describes one state change.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	Actor       Actor          `json:"actor"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    uint64         `json:"entity_id"`
	OldValues   map[string]any `json:"old_values,omitempty"`
	NewValues   map[string]any `json:"new_values,omitempty"`
	Description string         `json:"description,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(actor Actor, action, entityType string, entityID uint64) Event {
	return Event{
		ID:         uuid.New(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, event Event) error { return f(ctx, event) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Multi fans an event out to several sinks, joining their errors.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, event Event) error {
		var errs []error
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Record(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
