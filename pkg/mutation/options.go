package mutation

import (
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// DefaultTimeout bounds every remote call unless WithTimeout says otherwise.
const DefaultTimeout = 10 * time.Second

type options struct {
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
	actor      string
	newID      func() string
	refetch    retry.Config
	classifier tracking.Classifier
}

func defaultOptions() options {
	return options{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
		refetch: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  50 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		classifier: tracking.NewClassifier(0),
	}
}

// Option configures a Coordinator.
type Option func(*options)

// WithTimeout bounds each remote call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used for completion dates and events.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithActor sets the acting user for delegation and default assignees.
func WithActor(user string) Option {
	return func(o *options) { o.actor = user }
}

// WithIDGenerator overrides client-side id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithRefetchRetry configures the retry used when re-reading an entity after a
// conflict.
func WithRefetchRetry(cfg retry.Config) Option {
	return func(o *options) {
		if cfg.MaxAttempts > 0 {
			o.refetch = cfg
		}
	}
}

// WithClassifier sets the classifier used by Quadrant.
func WithClassifier(c tracking.Classifier) Option {
	return func(o *options) { o.classifier = c }
}
