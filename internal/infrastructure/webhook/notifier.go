// Package webhook delivers engine notifications to HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/stride/pkg/domain/events"
)

// SignatureHeader carries the HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Stride-Signature"

// Endpoint is one webhook target.
type Endpoint struct {
	Name   string
	URL    string
	Secret string
	// Events limits delivery to these event types. Empty means all.
	Events      []string
	MaxAttempts int
	RetryDelay  time.Duration
}

// Payload is the JSON body sent to webhook endpoints.
type Payload struct {
	EventType string             `json:"event_type"`
	Timestamp time.Time          `json:"timestamp"`
	Data      events.DomainEvent `json:"data"`
}

// Notifier posts every settled notification to its endpoints. Deliveries run
// in the background; Wait blocks until they finish.
type Notifier struct {
	endpoints  []Endpoint
	client     *http.Client
	deadLetter *DeadLetterStore
	logger     *slog.Logger
	inflight   sync.WaitGroup
}

// NewNotifier creates a notifier. deadLetter may be nil.
func NewNotifier(endpoints []Endpoint, deadLetter *DeadLetterStore, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		deadLetter: deadLetter,
		logger:     logger,
	}
}

// Handle queues event for every matching endpoint. Optimistic changes are
// skipped, as are changes loaded by a sync: receivers only hear about writes
// this process made and the service accepted.
func (n *Notifier) Handle(ctx context.Context, event events.DomainEvent) error {
	if change, ok := event.(*events.EntityChanged); ok {
		if change.Phase == events.PhaseOptimistic || change.Phase == events.PhaseSynced {
			return nil
		}
	}

	body, err := json.Marshal(Payload{
		EventType: event.EventType(),
		Timestamp: event.OccurredAt(),
		Data:      event,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	for _, ep := range n.endpoints {
		if len(ep.Events) > 0 && !slices.Contains(ep.Events, event.EventType()) {
			continue
		}
		n.inflight.Add(1)
		go func(ep Endpoint) {
			defer n.inflight.Done()
			n.deliver(context.WithoutCancel(ctx), ep, event.EventType(), body)
		}(ep)
	}
	return nil
}

// Registration subscribes the notifier to every notification.
func (n *Notifier) Registration() events.HandlerRegistration {
	return events.HandlerRegistration{
		EventTypes: []string{events.Wildcard},
		Handler:    n.Handle,
		Name:       "WebhookNotifier",
	}
}

// Wait blocks until every queued delivery has succeeded or been dead-lettered.
func (n *Notifier) Wait() {
	n.inflight.Wait()
}

func (n *Notifier) deliver(ctx context.Context, ep Endpoint, eventType string, body []byte) {
	cfg := retry.Config{
		MaxAttempts:   ep.MaxAttempts,
		InitialDelay:  ep.RetryDelay,
		BackoffPolicy: retry.BackoffExponential,
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}

	_, err := retry.New[struct{}](cfg).Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, n.send(ctx, ep, body)
	})
	if err == nil {
		return
	}

	n.logger.Warn("webhook delivery failed", "endpoint", ep.Name, "event_type", eventType, "attempts", cfg.MaxAttempts, "error", err)
	if n.deadLetter == nil {
		return
	}
	dl := DeadLetter{
		Timestamp: time.Now(),
		Endpoint:  ep.Name,
		URL:       ep.URL,
		EventType: eventType,
		Payload:   string(body),
		Error:     err.Error(),
		Attempts:  cfg.MaxAttempts,
	}
	if err := n.deadLetter.Append(dl); err != nil {
		n.logger.Error("failed to record dead letter", "endpoint", ep.Name, "error", err)
	}
}

func (n *Notifier) send(ctx context.Context, ep Endpoint, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Stride-Webhook/1.0")
	if ep.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, ep.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the HMAC-SHA256 of payload using secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
