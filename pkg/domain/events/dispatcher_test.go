package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

var taskRef = tracking.Ref{Kind: tracking.KindTask, ID: "t1"}

func changed() DomainEvent {
	return NewEntityChanged(taskRef, PhaseOptimistic, false, 1, time.Now())
}

func TestEventDispatcher_Register(t *testing.T) {
	d := NewEventDispatcher()

	called := false
	d.RegisterHandler("test-handler", func(ctx context.Context, event DomainEvent) error {
		called = true
		return nil
	}, EventTypeEntityChanged)

	if d.HandlerCount(EventTypeEntityChanged) != 1 {
		t.Error("Expected one handler for entity.changed")
	}

	if err := d.Dispatch(context.Background(), changed()); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Handler was not called")
	}
}

func TestEventDispatcher_Unregister(t *testing.T) {
	d := NewEventDispatcher()

	calls := 0
	unregister := d.RegisterWildcard("subscriber", func(ctx context.Context, event DomainEvent) error {
		calls++
		return nil
	})

	_ = d.Dispatch(context.Background(), changed())
	unregister()
	_ = d.Dispatch(context.Background(), changed())

	if calls != 1 {
		t.Errorf("Expected 1 call before unregister, got %d", calls)
	}
	if d.HandlerCount(EventTypeEntityChanged) != 0 {
		t.Error("Expected no handlers after unregister")
	}
}

func TestEventDispatcher_WildcardAndSpecific(t *testing.T) {
	d := NewEventDispatcher()

	var order []string
	d.RegisterWildcard("wildcard", func(ctx context.Context, event DomainEvent) error {
		order = append(order, "wildcard")
		return nil
	})
	d.RegisterHandler("specific", func(ctx context.Context, event DomainEvent) error {
		order = append(order, "specific")
		return nil
	}, EventTypeEntityChanged)

	_ = d.Dispatch(context.Background(), changed())
	_ = d.Dispatch(context.Background(), NewCapacityExceeded(taskRef, "key_area", 9, "alice", time.Now()))

	want := "specific,wildcard,wildcard"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestEventDispatcher_ContinueOnError(t *testing.T) {
	d := NewEventDispatcher()

	secondCalled := false
	d.RegisterHandler("failing-handler", func(ctx context.Context, event DomainEvent) error {
		return errors.New("boom")
	}, EventTypeEntityChanged)
	d.RegisterHandler("succeeding-handler", func(ctx context.Context, event DomainEvent) error {
		secondCalled = true
		return nil
	}, EventTypeEntityChanged)

	err := d.Dispatch(context.Background(), changed())
	if !secondCalled {
		t.Error("Second handler should run despite the first failing")
	}

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("Expected DispatchError, got %v", err)
	}
	if len(dispatchErr.Errors) != 1 {
		t.Errorf("Expected 1 error, got %d", len(dispatchErr.Errors))
	}
}

func TestEventDispatcher_StopOnError(t *testing.T) {
	d := NewEventDispatcher()
	d.ContinueOnError = false

	secondCalled := false
	d.RegisterHandler("failing-handler", func(ctx context.Context, event DomainEvent) error {
		return errors.New("boom")
	}, EventTypeEntityChanged)
	d.RegisterHandler("never", func(ctx context.Context, event DomainEvent) error {
		secondCalled = true
		return nil
	}, EventTypeEntityChanged)

	if err := d.Dispatch(context.Background(), changed()); err == nil {
		t.Error("Expected error from dispatch")
	}
	if secondCalled {
		t.Error("Dispatch should stop at the first error")
	}
}

func TestEventDispatcher_DispatchAsync(t *testing.T) {
	d := NewEventDispatcher()

	called := make(chan bool, 1)
	d.RegisterHandler("async-handler", func(ctx context.Context, event DomainEvent) error {
		called <- true
		return nil
	}, EventTypeEntityChanged)

	select {
	case err := <-d.DispatchAsync(context.Background(), changed()):
		if err != nil {
			t.Errorf("Async dispatch failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Async dispatch timed out")
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Error("Handler was not called")
	}
}

func TestDispatchError_Unwrap(t *testing.T) {
	original := errors.New("original error")
	dispatchErr := &DispatchError{Errors: []error{errors.New("other"), original}}

	if !errors.Is(dispatchErr, original) {
		t.Error("Expected errors.Is to find every wrapped error")
	}
	if dispatchErr.Error() != "multiple dispatch errors (2)" {
		t.Errorf("unexpected message: %s", dispatchErr.Error())
	}
}

func TestLoggingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	d := NewEventDispatcher()
	d.Register(NewLoggingHandler(logger).Registration())

	settled := NewMutationSettled(taskRef, "update", OutcomeReverted, time.Millisecond, errors.New("offline"), "alice", time.Now())
	_ = d.Dispatch(context.Background(), settled)
	_ = d.Dispatch(context.Background(), NewCapacityExceeded(tracking.Ref{Kind: tracking.KindKeyArea}, "key_area", 9, "alice", time.Now()))

	out := buf.String()
	for _, want := range []string{"mutation settled", "error=offline", "capacity exceeded", "resource=key_area"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestRecorder(t *testing.T) {
	d := NewEventDispatcher()
	rec := NewRecorder()
	d.Register(rec.Registration())

	delegation := tracking.Delegation{Status: tracking.DelegationAccepted, DelegatedTo: "bob", DelegatedBy: "alice"}
	_ = d.Publish(context.Background(), changed())
	_ = d.Publish(context.Background(), NewDelegationSettled(taskRef, delegation, "bob", 2, time.Now()))

	if len(rec.Events()) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(rec.Events()))
	}
	settled := rec.OfType(EventTypeDelegationSettled)
	if len(settled) != 1 {
		t.Fatalf("Expected 1 delegation event, got %d", len(settled))
	}
	if e := settled[0].(*DelegationSettled); e.Outcome != tracking.DelegationAccepted || e.AggregateID() != "t1" {
		t.Errorf("unexpected event: %+v", e)
	}

	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Error("Reset should clear events")
	}
}
