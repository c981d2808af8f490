// Package natsbus forwards engine notifications to NATS and turns changes
// published by other processes into re-sync requests.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/felixgeelhaar/stride/pkg/domain/events"
)

// OriginHeader names the process that published a message.
const OriginHeader = "Stride-Origin"

// Conn is the part of *nats.Conn the bus uses.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Bus publishes every notification as JSON on
// <prefix>.<event type>.<entity kind>.
type Bus struct {
	conn   Conn
	prefix string
	origin string
	logger *slog.Logger
	closer func()
}

// Connect dials url and returns a Bus over the connection.
func Connect(url, prefix string, logger *slog.Logger) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name("stride"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	b := New(conn, prefix, logger)
	b.closer = func() { _ = conn.Drain() }
	return b, nil
}

// New creates a Bus over an existing connection.
func New(conn Conn, prefix string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Subject returns the subject an event is published on.
func (b *Bus) Subject(event events.DomainEvent) string {
	subject := b.prefix + "." + event.EventType()
	if kind := event.AggregateType(); kind != "" {
		subject += "." + kind
	}
	return subject
}

// Handle publishes the event.
func (b *Bus) Handle(_ context.Context, event events.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	msg := nats.NewMsg(b.Subject(event))
	msg.Header.Set(OriginHeader, b.origin)
	msg.Data = data
	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Registration subscribes the bus to every event type.
func (b *Bus) Registration() events.HandlerRegistration {
	return events.HandlerRegistration{
		Name:       "NATSBus",
		Handler:    b.Handle,
		EventTypes: []string{events.Wildcard},
	}
}

// OnRemoteChange calls fn for every confirmed change published by another
// process. Changes from this bus, optimistic changes and re-sync echoes are
// ignored.
func (b *Bus) OnRemoteChange(fn func(kind, id string)) (*nats.Subscription, error) {
	subject := b.prefix + "." + events.EventTypeEntityChanged + ".>"
	return b.conn.Subscribe(subject, func(msg *nats.Msg) {
		if msg.Header.Get(OriginHeader) == b.origin {
			return
		}
		var change events.EntityChanged
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			b.logger.Warn("ignoring malformed change notification", "subject", msg.Subject, "error", err)
			return
		}
		if change.Phase == events.PhaseOptimistic || change.Phase == events.PhaseSynced {
			return
		}
		fn(string(change.Kind), change.Entity)
	})
}

// Close drains the connection if the bus owns it.
func (b *Bus) Close() {
	if b.closer != nil {
		b.closer()
	}
}
