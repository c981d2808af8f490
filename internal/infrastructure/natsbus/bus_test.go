package natsbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/stride/pkg/domain/events"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// loopback delivers published messages to matching subscribers in-process.
type loopback struct {
	mu        sync.Mutex
	published []*nats.Msg
	handlers  map[string]nats.MsgHandler
}

func newLoopback() *loopback {
	return &loopback{handlers: make(map[string]nats.MsgHandler)}
}

func (l *loopback) PublishMsg(msg *nats.Msg) error {
	l.mu.Lock()
	l.published = append(l.published, msg)
	var targets []nats.MsgHandler
	for pattern, h := range l.handlers {
		if matchSubject(pattern, msg.Subject) {
			targets = append(targets, h)
		}
	}
	l.mu.Unlock()
	for _, h := range targets {
		h(msg)
	}
	return nil
}

func (l *loopback) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[subject] = cb
	return &nats.Subscription{Subject: subject}, nil
}

// matchSubject supports the trailing ">" wildcard only.
func matchSubject(pattern, subject string) bool {
	if len(pattern) > 0 && pattern[len(pattern)-1] == '>' {
		prefix := pattern[:len(pattern)-1]
		return len(subject) > len(prefix) && subject[:len(prefix)] == prefix
	}
	return pattern == subject
}

var ref = tracking.Ref{Kind: tracking.KindTask, ID: "t1"}

func TestBus_PublishesEventsOnSubjects(t *testing.T) {
	conn := newLoopback()
	bus := New(conn, "stride.", nil)
	d := events.NewEventDispatcher()
	d.Register(bus.Registration())

	require.NoError(t, d.Publish(context.Background(), events.NewEntityChanged(ref, events.PhaseConfirmed, false, 2, time.Now())))

	require.Len(t, conn.published, 1)
	msg := conn.published[0]
	assert.Equal(t, "stride.entity.changed.task", msg.Subject)
	assert.Equal(t, bus.origin, msg.Header.Get(OriginHeader))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "t1", payload["entity_id"])
}

func TestBus_OnRemoteChangeSkipsOwnAndOptimistic(t *testing.T) {
	conn := newLoopback()
	local := New(conn, "stride", nil)
	other := New(conn, "stride", nil)

	var got []string
	_, err := local.OnRemoteChange(func(kind, id string) {
		got = append(got, kind+"/"+id)
	})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, local.Handle(ctx, events.NewEntityChanged(ref, events.PhaseConfirmed, false, 2, now)))
	require.NoError(t, other.Handle(ctx, events.NewEntityChanged(ref, events.PhaseOptimistic, false, 2, now)))
	require.NoError(t, other.Handle(ctx, events.NewEntityChanged(ref, events.PhaseSynced, false, 2, now)))
	require.NoError(t, other.Handle(ctx, events.NewEntityChanged(tracking.Ref{Kind: tracking.KindGoal, ID: "g1"}, events.PhaseConfirmed, false, 3, now)))

	assert.Equal(t, []string{"goal/g1"}, got)
}
