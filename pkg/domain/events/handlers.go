package events

import (
	"context"
	"log/slog"
	"sync"
)

// LoggingHandler is a catch-all handler that logs all events.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a new LoggingHandler.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHandler{logger: logger}
}

// Handle logs the event details.
func (h *LoggingHandler) Handle(ctx context.Context, event DomainEvent) error {
	attrs := []any{
		"event_type", event.EventType(),
		"entity_kind", event.AggregateType(),
		"entity_id", event.AggregateID(),
		"version", event.Version(),
	}

	switch e := event.(type) {
	case *EntityChanged:
		h.logger.Debug("entity changed", append(attrs, "phase", e.Phase, "removed", e.Removed)...)
	case *DelegationSettled:
		h.logger.Info("delegation settled", append(attrs, "outcome", e.Outcome, "delegated_to", e.DelegatedTo)...)
	case *CapacityExceeded:
		h.logger.Warn("capacity exceeded", append(attrs, "resource", e.Resource, "limit", e.Limit)...)
	case *MutationSettled:
		if e.Error != "" {
			h.logger.Warn("mutation settled", append(attrs, "command", e.Command, "outcome", e.Outcome, "duration", e.Duration, "error", e.Error)...)
			return nil
		}
		h.logger.Debug("mutation settled", append(attrs, "command", e.Command, "outcome", e.Outcome, "duration", e.Duration)...)
	default:
		h.logger.Debug("domain event", attrs...)
	}
	return nil
}

// Registration returns the HandlerRegistration for this handler.
func (h *LoggingHandler) Registration() HandlerRegistration {
	return HandlerRegistration{
		Name:       "LoggingHandler",
		Handler:    h.Handle,
		EventTypes: []string{Wildcard},
	}
}

// Recorder keeps every event it sees. Views and tests use it to observe the
// notification stream.
type Recorder struct {
	mu     sync.Mutex
	events []DomainEvent
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Handle records the event.
func (r *Recorder) Handle(_ context.Context, event DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters the recorded events by type.
func (r *Recorder) OfType(eventType string) []DomainEvent {
	var out []DomainEvent
	for _, e := range r.Events() {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Registration returns the HandlerRegistration for this handler.
func (r *Recorder) Registration() HandlerRegistration {
	return HandlerRegistration{
		Name:       "Recorder",
		Handler:    r.Handle,
		EventTypes: []string{Wildcard},
	}
}
