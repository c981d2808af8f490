package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/stride/pkg/domain/events"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

var taskRef = tracking.Ref{Kind: tracking.KindTask, ID: "t1"}

func confirmedChange() events.DomainEvent {
	return events.NewEntityChanged(taskRef, events.PhaseConfirmed, false, 2, time.Now())
}

func TestNotifier_DeliverySuccess(t *testing.T) {
	var received atomic.Int32
	var mu sync.Mutex
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		mu.Lock()
		body, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier([]Endpoint{{Name: "test", URL: server.URL}}, nil, nil)
	if err := n.Handle(context.Background(), confirmedChange()); err != nil {
		t.Fatal(err)
	}
	n.Wait()

	if received.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", received.Load())
	}
	var payload struct {
		EventType string `json:"event_type"`
		Data      struct {
			Kind   string `json:"kind"`
			Entity string `json:"entity_id"`
			Phase  string `json:"phase"`
		} `json:"data"`
	}
	mu.Lock()
	defer mu.Unlock()
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.EventType != events.EventTypeEntityChanged || payload.Data.Entity != "t1" || payload.Data.Phase != "confirmed" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestNotifier_HMACSignature(t *testing.T) {
	secret := "test-secret"
	var receivedSig string
	var receivedBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get(SignatureHeader)
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier([]Endpoint{{Name: "test", URL: server.URL, Secret: secret}}, nil, nil)
	_ = n.Handle(context.Background(), confirmedChange())
	n.Wait()

	if receivedSig == "" {
		t.Fatalf("expected %s header", SignatureHeader)
	}
	if want := Sign(receivedBody, secret); receivedSig != want {
		t.Errorf("signature mismatch: got %s, want %s", receivedSig, want)
	}
}

func TestNotifier_FiltersEvents(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier([]Endpoint{{
		Name:   "delegations",
		URL:    server.URL,
		Events: []string{events.EventTypeDelegationSettled},
	}}, nil, nil)

	_ = n.Handle(context.Background(), confirmedChange())
	_ = n.Handle(context.Background(), events.NewEntityChanged(taskRef, events.PhaseOptimistic, false, 1, time.Now()))
	d := tracking.Delegation{Status: tracking.DelegationAccepted, DelegatedTo: "bob", DelegatedBy: "alice"}
	_ = n.Handle(context.Background(), events.NewDelegationSettled(taskRef, d, "bob", 3, time.Now()))
	n.Wait()

	if received.Load() != 1 {
		t.Errorf("expected only the delegation to be delivered, got %d", received.Load())
	}
}

func TestNotifier_SkipsOptimisticAndSyncedChanges(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer server.Close()

	n := NewNotifier([]Endpoint{{Name: "all", URL: server.URL}}, nil, nil)
	_ = n.Handle(context.Background(), events.NewEntityChanged(taskRef, events.PhaseOptimistic, false, 1, time.Now()))
	_ = n.Handle(context.Background(), events.NewEntityChanged(taskRef, events.PhaseSynced, false, 1, time.Now()))
	n.Wait()

	if received.Load() != 0 {
		t.Errorf("expected no delivery, got %d", received.Load())
	}
}

func TestNotifier_DeadLettersAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dl := NewDeadLetterStore(filepath.Join(t.TempDir(), DeadLetterFile))
	n := NewNotifier([]Endpoint{{
		Name:        "flaky",
		URL:         server.URL,
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
	}}, dl, nil)

	_ = n.Handle(context.Background(), confirmedChange())
	n.Wait()

	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
	entries, err := dl.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(entries))
	}
	if entries[0].Endpoint != "flaky" || entries[0].Attempts != 2 || entries[0].EventType != events.EventTypeEntityChanged {
		t.Errorf("unexpected dead letter: %+v", entries[0])
	}
}

func TestNotifier_DeliveryOutlivesCancelledContext(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	n := NewNotifier([]Endpoint{{Name: "test", URL: server.URL}}, nil, nil)
	_ = n.Handle(ctx, confirmedChange())
	cancel()
	n.Wait()

	if received.Load() != 1 {
		t.Errorf("expected delivery after cancel, got %d", received.Load())
	}
}
