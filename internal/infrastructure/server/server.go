// Package server exposes a workspace over HTTP: the notification streams,
// metrics, and optionally the wire API backed by the local state file.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/felixgeelhaar/stride/internal/infrastructure/metrics"
	"github.com/felixgeelhaar/stride/internal/infrastructure/sse"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/remote"
	"github.com/felixgeelhaar/stride/pkg/store"
)

// APIPrefix is where the wire API is mounted.
const APIPrefix = "/api"

type Config struct {
	Hub     *sse.Hub
	Metrics *metrics.Metrics
	// Store feeds the health summary. Optional.
	Store *store.Store
	// API is served under APIPrefix when set.
	API    remote.Transport
	Logger *slog.Logger
}

// New builds the router.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))

	router.Get("/healthz", health(cfg.Store))
	if cfg.Hub != nil {
		router.Get("/events", cfg.Hub.SSEHandler().ServeHTTP)
		router.Get("/ws", cfg.Hub.WebSocketHandler().ServeHTTP)
	}
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}
	if cfg.API != nil {
		router.Mount(APIPrefix, http.StripPrefix(APIPrefix, remote.Handler(cfg.API)))
	}
	return router
}

type healthBody struct {
	Status   string                      `json:"status"`
	Entities map[tracking.EntityKind]int `json:"entities,omitempty"`
}

func health(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := healthBody{Status: "ok"}
		if st != nil {
			body.Entities = make(map[tracking.EntityKind]int)
			for _, kind := range tracking.AllKinds() {
				body.Entities[kind] = st.Len(kind)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Run serves handler on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
