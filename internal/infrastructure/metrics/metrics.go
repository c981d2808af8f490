// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/stride/pkg/domain/events"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/store"
)

const namespace = "stride"

// Metrics collects counters from the notification stream. It uses its own
// registry so several workspaces can be served from one process.
type Metrics struct {
	registry    *prometheus.Registry
	mutations   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	changes     *prometheus.CounterVec
	delegations *prometheus.CounterVec
	capacity    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Commands settled by the coordinator.",
		}, []string{"command", "kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Time from command submission to settlement.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"command"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_changes_total",
			Help:      "Change notifications by entity kind and phase.",
		}, []string{"kind", "phase"}),
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_settled_total",
			Help:      "Delegation steps confirmed by the server.",
		}, []string{"kind", "outcome"}),
		capacity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_exceeded_total",
			Help:      "Commands rejected by a layout limit.",
		}, []string{"resource"}),
	}
	m.registry.MustRegister(m.mutations, m.duration, m.changes, m.delegations, m.capacity)
	return m
}

// Handle updates the collectors for one notification.
func (m *Metrics) Handle(_ context.Context, event events.DomainEvent) error {
	switch e := event.(type) {
	case *events.MutationSettled:
		m.mutations.WithLabelValues(e.Command, e.AggregateType(), string(e.Outcome)).Inc()
		m.duration.WithLabelValues(e.Command).Observe(e.Duration.Seconds())
	case *events.EntityChanged:
		m.changes.WithLabelValues(string(e.Kind), string(e.Phase)).Inc()
	case *events.DelegationSettled:
		m.delegations.WithLabelValues(string(e.Kind), string(e.Outcome)).Inc()
	case *events.CapacityExceeded:
		m.capacity.WithLabelValues(e.Resource).Inc()
	}
	return nil
}

// Registration subscribes the collectors to the events they count.
func (m *Metrics) Registration() events.HandlerRegistration {
	return events.HandlerRegistration{
		Name:    "Metrics",
		Handler: m.Handle,
		EventTypes: []string{
			events.EventTypeMutationSettled,
			events.EventTypeEntityChanged,
			events.EventTypeDelegationSettled,
			events.EventTypeCapacityExceeded,
		},
	}
}

// TrackStore adds gauges reporting how many entities of each kind st holds.
func (m *Metrics) TrackStore(st *store.Store) error {
	for _, kind := range tracking.AllKinds() {
		kind := kind
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "store_entities",
			Help:        "Entities currently held in the local store.",
			ConstLabels: prometheus.Labels{"kind": string(kind)},
		}, func() float64 {
			return float64(st.Len(kind))
		})
		if err := m.registry.Register(gauge); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
