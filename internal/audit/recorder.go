package audit

import (
	"context"
	"sync"
)

// Recorder is an in-memory Sink that keeps every event. Useful for tests and debugging.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record appends the event.
func (r *Recorder) Record(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByAction returns the recorded events with the given action.
func (r *Recorder) ByAction(action string) []Event {
	var out []Event
	for _, event := range r.Events() {
		if event.Action == action {
			out = append(out, event)
		}
	}
	return out
}
