// Package audit delivers swap lifecycle notifications.
//
// Sinks are fire-and-forget from the coordinator's point of view: a sink
// error is logged and never changes the outcome of an operation.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

// EventType names a lifecycle notification.
type EventType string

const (
	EventInitiated EventType = "initiated"
	EventCompleted EventType = "completed"
	EventRefunded  EventType = "refunded"
	EventExpired   EventType = "expired"
)

// Event is one lifecycle notification.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	SwapID      string    `json:"swap_id"`
	Actor       string    `json:"actor,omitempty"`
	Initiator   string    `json:"initiator"`
	Participant string    `json:"participant"`
	Operator    string    `json:"operator,omitempty"`
	State       string    `json:"state"`
	Deadline    time.Time `json:"deadline"`
	At          time.Time `json:"at"`
}

// NewEvent creates an event with a fresh id.
func NewEvent(typ EventType, swapID string, at time.Time) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   typ,
		SwapID: swapID,
		At:     at,
	}
}

// Sink receives events.
type Sink interface {
	Notify(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards events.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }

// LogSink writes events to a logger.
type LogSink struct {
	log *logging.Logger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(log *logging.Logger) *LogSink {
	if log == nil {
		log = logging.GetDefault()
	}
	return &LogSink{log: log.Component("audit")}
}

// Notify logs e.
func (s *LogSink) Notify(_ context.Context, e Event) error {
	s.log.Info("Swap "+string(e.Type),
		"swap_id", e.SwapID,
		"actor", e.Actor,
		"state", e.State,
	)
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Notify calls every sink, even after one fails.
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify records e.
func (r *Recorder) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
