package events

import (
	"context"
	"fmt"
	"sync"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// EventHandlerFunc is a function that handles a domain event.
type EventHandlerFunc func(ctx context.Context, event DomainEvent) error

// HandlerRegistration represents a handler registration for specific event types.
type HandlerRegistration struct {
	EventTypes []string
	Handler    EventHandlerFunc
	Name       string // For logging/debugging
}

// Publisher is what the engine depends on to emit notifications.
type Publisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// EventDispatcher dispatches domain events to registered handlers.
type EventDispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	nextID   uint64
	// ContinueOnError determines if dispatch should continue when a handler fails
	ContinueOnError bool
}

type namedHandler struct {
	id      uint64
	name    string
	handler EventHandlerFunc
}

// NewEventDispatcher creates a new EventDispatcher. Handler failures do not
// stop later handlers; they are collected into a DispatchError.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers:        make(map[string][]namedHandler),
		ContinueOnError: true,
	}
}

// Register registers a handler for specific event types and returns a
// function that removes it again.
func (d *EventDispatcher) Register(reg HandlerRegistration) (unregister func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	nh := namedHandler{id: d.nextID, name: reg.Name, handler: reg.Handler}
	for _, eventType := range reg.EventTypes {
		d.handlers[eventType] = append(d.handlers[eventType], nh)
	}

	return func() { d.remove(nh.id) }
}

func (d *EventDispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for eventType, list := range d.handlers {
		kept := list[:0:0]
		for _, nh := range list {
			if nh.id != id {
				kept = append(kept, nh)
			}
		}
		if len(kept) == 0 {
			delete(d.handlers, eventType)
			continue
		}
		d.handlers[eventType] = kept
	}
}

// RegisterHandler is a convenience method to register a single handler for event types.
func (d *EventDispatcher) RegisterHandler(name string, handler EventHandlerFunc, eventTypes ...string) func() {
	return d.Register(HandlerRegistration{
		Name:       name,
		Handler:    handler,
		EventTypes: eventTypes,
	})
}

// RegisterWildcard registers a handler for all events.
func (d *EventDispatcher) RegisterWildcard(name string, handler EventHandlerFunc) func() {
	return d.RegisterHandler(name, handler, Wildcard)
}

// Dispatch dispatches an event to all registered handlers, type-specific
// handlers first.
func (d *EventDispatcher) Dispatch(ctx context.Context, event DomainEvent) error {
	d.mu.RLock()
	eventType := event.EventType()
	var handlers []namedHandler
	handlers = append(handlers, d.handlers[eventType]...)
	handlers = append(handlers, d.handlers[Wildcard]...)
	continueOnError := d.ContinueOnError
	d.mu.RUnlock()

	var errs []error
	for _, nh := range handlers {
		if err := nh.handler(ctx, event); err != nil {
			handlerErr := fmt.Errorf("handler %s failed for event %s: %w", nh.name, eventType, err)
			if !continueOnError {
				return handlerErr
			}
			errs = append(errs, handlerErr)
		}
	}

	if len(errs) > 0 {
		return &DispatchError{Errors: errs}
	}
	return nil
}

// Publish implements Publisher.
func (d *EventDispatcher) Publish(ctx context.Context, event DomainEvent) error {
	return d.Dispatch(ctx, event)
}

// DispatchAsync dispatches an event asynchronously.
// Returns a channel that receives the error (or nil) when dispatch completes.
func (d *EventDispatcher) DispatchAsync(ctx context.Context, event DomainEvent) <-chan error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Dispatch(ctx, event)
		close(errChan)
	}()
	return errChan
}

// HandlerCount returns the number of handlers an event of the given type reaches.
func (d *EventDispatcher) HandlerCount(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := len(d.handlers[eventType])
	if eventType != Wildcard {
		count += len(d.handlers[Wildcard])
	}
	return count
}

// DispatchError contains multiple errors from event dispatch.
type DispatchError struct {
	Errors []error
}

func (e *DispatchError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("multiple dispatch errors (%d)", len(e.Errors))
}

// Unwrap exposes every handler error to errors.Is/As.
func (e *DispatchError) Unwrap() []error {
	return e.Errors
}
