// Package metrics exposes Prometheus instrumentation for the dependency
// engine. Every method on *Metrics is safe to call on a nil receiver, so
// components can be built without metrics in tests.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/taskdeps/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskdeps"

// Mutation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// dependencyMutations counts graph writes.
	// Labels: operation (create, update, delete, remove_task), outcome
	dependencyMutations *prometheus.CounterVec

	// cycleRejections counts edges refused because they would close a cycle.
	cycleRejections prometheus.Counter

	// promotions counts pending tasks moved to in_progress.
	promotions prometheus.Counter

	// sweepDuration measures pending-task sweeps.
	// Labels: status (success, error)
	sweepDuration *prometheus.HistogramVec

	// eventsPublished counts events seen on the emitter.
	// Labels: type
	eventsPublished *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		dependencyMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dependencies",
			Name:      "mutations_total",
			Help:      "Dependency graph writes by operation and outcome",
		}, []string{"operation", "outcome"}),
		cycleRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dependencies",
			Name:      "cycle_rejections_total",
			Help:      "Dependencies rejected because they would create a cycle",
		}),
		promotions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "promotions_total",
			Help:      "Tasks promoted from pending to in_progress",
		}),
		sweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of pending-task sweeps",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"status"}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published by type",
		}, []string{"type"}),
	}
}

// Registry returns the registry holding the engine's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDependencyMutation records one graph write.
func (m *Metrics) ObserveDependencyMutation(operation, outcome string) {
	if m == nil {
		return
	}
	m.dependencyMutations.WithLabelValues(operation, outcome).Inc()
}

// ObserveCycleRejection records an edge refused by the cycle check.
func (m *Metrics) ObserveCycleRejection() {
	if m == nil {
		return
	}
	m.cycleRejections.Inc()
}

// ObservePromotion records a pending task moved to in_progress.
func (m *Metrics) ObservePromotion() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

// ObserveSweep records the duration of one sweep.
func (m *Metrics) ObserveSweep(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := OutcomeSuccess
	if err != nil {
		status = OutcomeError
	}
	m.sweepDuration.WithLabelValues(status).Observe(d.Seconds())
}

// EventHandler returns an events.EventHandler that counts published events.
func (m *Metrics) EventHandler() events.EventHandler {
	return events.HandlerFunc(func(_ context.Context, event *events.Event) error {
		if m != nil && event != nil {
			m.eventsPublished.WithLabelValues(event.Type).Inc()
		}
		return nil
	})
}
