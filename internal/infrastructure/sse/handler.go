// Package sse streams engine notifications to browsers and tools over
// Server-Sent Events and websockets.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/stride/pkg/domain/events"
)

// Message is one encoded notification.
type Message struct {
	ID   string
	Type string
	Data []byte
}

// Hub receives notifications from the dispatcher and fans them out to every
// connected stream client.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan Message]struct{}
	logger  *slog.Logger
}

// NewHub creates a Hub. Register it on a dispatcher with Registration.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[chan Message]struct{}),
		logger:  logger,
	}
}

// Handle encodes the event and broadcasts it.
func (h *Hub) Handle(_ context.Context, event events.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	var id string
	if b, ok := baseOf(event); ok {
		id = b.ID
	}
	msg := Message{ID: id, Type: event.EventType(), Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// Drop if client is slow
			h.logger.Debug("stream client lagging, dropped notification", "event_type", msg.Type)
		}
	}
	return nil
}

func baseOf(event events.DomainEvent) (events.BaseEvent, bool) {
	switch e := event.(type) {
	case *events.EntityChanged:
		return e.BaseEvent, true
	case *events.DelegationSettled:
		return e.BaseEvent, true
	case *events.CapacityExceeded:
		return e.BaseEvent, true
	case *events.MutationSettled:
		return e.BaseEvent, true
	case *events.BaseEvent:
		return *e, true
	}
	return events.BaseEvent{}, false
}

// Registration subscribes the hub to every event type.
func (h *Hub) Registration() events.HandlerRegistration {
	return events.HandlerRegistration{
		Name:       "StreamHub",
		Handler:    h.Handle,
		EventTypes: []string{events.Wildcard},
	}
}

func (h *Hub) subscribe() (chan Message, func()) {
	ch := make(chan Message, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// typeFilter parses ?types=a,b. An empty filter passes everything.
func typeFilter(r *http.Request) func(string) bool {
	wanted := make(map[string]bool)
	if types := r.URL.Query().Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				wanted[t] = true
			}
		}
	}
	return func(eventType string) bool {
		return len(wanted) == 0 || wanted[eventType]
	}
}

// SSEHandler returns the Server-Sent Events endpoint.
func (h *Hub) SSEHandler() http.Handler {
	return http.HandlerFunc(h.serveSSE)
}

func (h *Hub) serveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	accept := typeFilter(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := h.subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if !accept(msg.Type) {
				continue
			}
			if msg.ID != "" {
				_, _ = fmt.Fprintf(w, "id: %s\n", msg.ID)
			}
			_, _ = fmt.Fprintf(w, "event: %s\n", msg.Type)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", msg.Data)
			flusher.Flush()
		}
	}
}

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream server binds to loopback by default; browsers on other
	// local ports are allowed to connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WebSocketHandler returns the websocket endpoint. Each notification is sent
// as one text message holding the event JSON.
func (h *Hub) WebSocketHandler() http.Handler {
	return http.HandlerFunc(h.serveWebSocket)
}

func (h *Hub) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	accept := typeFilter(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := h.subscribe()
	defer unsubscribe()

	// The client never sends anything we act on; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case msg := <-ch:
			if !accept(msg.Type) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
