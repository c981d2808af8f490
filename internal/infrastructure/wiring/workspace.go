// Package wiring assembles a workspace: config, transport, store, dispatcher
// and mutation coordinator.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/stride/internal/infrastructure/config"
	"github.com/felixgeelhaar/stride/internal/infrastructure/natsbus"
	"github.com/felixgeelhaar/stride/internal/infrastructure/webhook"
	"github.com/felixgeelhaar/stride/pkg/domain/events"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
	"github.com/felixgeelhaar/stride/pkg/remote"
	"github.com/felixgeelhaar/stride/pkg/storage"
	"github.com/felixgeelhaar/stride/pkg/store"
)

// Options override values from the workspace config.
type Options struct {
	// User replaces config.User when set.
	User   string
	Logger *slog.Logger
}

// Workspace bundles the infrastructure one process works with.
type Workspace struct {
	Root        string
	Config      *config.Config
	Repo        *storage.FilesystemRepository
	Transport   remote.Transport
	Local       *storage.Server // nil when a remote service is configured
	Store       *store.Store
	Dispatcher  *events.EventDispatcher
	Coordinator *mutation.Coordinator
	Journal     *storage.Journal
	Webhooks    *webhook.Notifier // nil without configured endpoints
	Logger      *slog.Logger

	mu      sync.Mutex
	closers []func()
}

// Init creates the .stride directory with a seeded state file and, when
// user is set, records it in the config.
func Init(root, user string) error {
	repo := storage.NewFilesystemRepository(root)
	if err := repo.Initialize(); err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if user != "" {
		cfg.User = user
	}
	return config.Save(root, cfg)
}

// Open wires a workspace rooted at root. The store starts empty; call Sync to
// load it.
func Open(root string, opts Options) (*Workspace, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo := storage.NewFilesystemRepository(root)
	if !repo.IsInitialized() {
		return nil, storage.ErrNotInitialized
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if opts.User != "" {
		cfg.User = opts.User
	}

	ws := &Workspace{
		Root:       root,
		Config:     cfg,
		Repo:       repo,
		Dispatcher: events.NewEventDispatcher(),
		Logger:     logger,
	}

	if cfg.Remote == "" {
		ws.Local = storage.NewServer(repo, storage.WithServerLogger(logger))
		ws.Transport = ws.Local
	} else {
		ws.Transport = remote.NewHTTPTransport(cfg.Remote)
	}

	classifier := tracking.NewClassifier(cfg.UrgencyWindow())
	ws.Store = store.New(store.WithClassifier(classifier))
	ws.Attach(events.NewLoggingHandler(logger).Registration())
	journalPath, err := repo.ResolvePath(storage.JournalFile)
	if err != nil {
		return nil, err
	}
	ws.Journal = storage.NewJournal(journalPath)
	ws.Attach(ws.Journal.Registration())
	if err := ws.attachWebhooks(); err != nil {
		return nil, err
	}

	services := remote.NewServices(ws.Transport, remote.WithActor(cfg.User), remote.WithLogger(logger))
	ws.Coordinator = mutation.NewCoordinator(ws.Store, services, ws.Dispatcher,
		mutation.WithTimeout(cfg.Timeout),
		mutation.WithLogger(logger),
		mutation.WithActor(cfg.User),
		mutation.WithClassifier(classifier),
		mutation.WithRefetchRetry(retry.Config{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			InitialDelay:  cfg.Retry.InitialDelay,
			BackoffPolicy: retry.BackoffExponential,
		}),
	)
	return ws, nil
}

func (w *Workspace) attachWebhooks() error {
	if len(w.Config.Webhooks) == 0 {
		return nil
	}
	path, err := w.Repo.ResolvePath(webhook.DeadLetterFile)
	if err != nil {
		return err
	}
	endpoints := make([]webhook.Endpoint, len(w.Config.Webhooks))
	for i, wh := range w.Config.Webhooks {
		endpoints[i] = webhook.Endpoint{
			Name:        wh.Name,
			URL:         wh.URL,
			Secret:      wh.Secret,
			Events:      wh.Events,
			MaxAttempts: wh.MaxAttempts,
			RetryDelay:  wh.RetryDelay,
		}
	}
	w.Webhooks = webhook.NewNotifier(endpoints, webhook.NewDeadLetterStore(path), w.Logger)

	// Close runs closers in reverse, so deliveries drain after the unregister.
	w.mu.Lock()
	w.closers = append(w.closers, w.Webhooks.Wait)
	w.mu.Unlock()
	w.Attach(w.Webhooks.Registration())
	return nil
}

// Sync loads every entity through the coordinator.
func (w *Workspace) Sync(ctx context.Context) error {
	return w.Coordinator.Sync(ctx)
}

// User is the acting user.
func (w *Workspace) User() string { return w.Config.User }

// StatePath is the state file the local transport reads and writes.
func (w *Workspace) StatePath() (string, error) {
	return w.Repo.ResolvePath(storage.StateFile)
}

// Attach registers a subscriber until Close.
func (w *Workspace) Attach(reg events.HandlerRegistration) {
	unregister := w.Dispatcher.Register(reg)
	w.mu.Lock()
	w.closers = append(w.closers, unregister)
	w.mu.Unlock()
}

// AttachNATS publishes notifications to the configured NATS server and
// re-syncs when another process reports a change. It reports false when no
// NATS URL is configured.
func (w *Workspace) AttachNATS(ctx context.Context) (bool, error) {
	if w.Config.NATS.URL == "" {
		return false, nil
	}
	bus, err := natsbus.Connect(w.Config.NATS.URL, w.Config.NATS.SubjectPrefix, w.Logger)
	if err != nil {
		return false, err
	}
	if err := w.attachBus(ctx, bus); err != nil {
		bus.Close()
		return false, err
	}
	return true, nil
}

func (w *Workspace) attachBus(ctx context.Context, bus *natsbus.Bus) error {
	sub, err := bus.OnRemoteChange(func(kind, id string) {
		w.Logger.Debug("remote change", "kind", kind, "id", id)
		if err := w.Sync(ctx); err != nil {
			w.Logger.Warn("re-sync after remote change failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to remote changes: %w", err)
	}
	w.Attach(bus.Registration())

	w.mu.Lock()
	w.closers = append(w.closers, func() {
		_ = sub.Unsubscribe()
		bus.Close()
	})
	w.mu.Unlock()
	return nil
}

// Close detaches every subscriber and waits for pending webhook deliveries.
func (w *Workspace) Close() {
	w.mu.Lock()
	closers := w.closers
	w.closers = nil
	w.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// IsNotInitialized reports whether err came from opening an uninitialized
// workspace.
func IsNotInitialized(err error) bool {
	return errors.Is(err, storage.ErrNotInitialized)
}
