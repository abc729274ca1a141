// Package metrics exposes execution metrics for observability collaborators.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instrument set for one orchestrator process.
type Metrics struct {
	registry *prometheus.Registry

	// TasksTotal counts terminal task results by outcome kind.
	TasksTotal *prometheus.CounterVec
	// TaskDuration observes task execution time in seconds by capability.
	TaskDuration *prometheus.HistogramVec
	// QueueDepth tracks the number of attempts waiting in the durable queue.
	QueueDepth prometheus.Gauge
	// AssignmentRetries counts assignment attempts deferred because no agent
	// was available.
	AssignmentRetries prometheus.Counter
	// TasksInFlight tracks tasks currently executing in workers.
	TasksInFlight prometheus.Gauge
	// Heartbeats counts progress heartbeats emitted by the engine.
	Heartbeats prometheus.Counter
	// FallbackDeliveries counts router deliveries that took the broadcast
	// fallback path because no session was resolvable.
	FallbackDeliveries prometheus.Counter
}

// New creates a Metrics set backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestra",
			Name:      "tasks_total",
			Help:      "Terminal task results by outcome kind.",
		}, []string{"outcome"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestra",
			Name:      "task_duration_seconds",
			Help:      "Task execution time by capability.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"capability"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestra",
			Name:      "queue_depth",
			Help:      "Attempts waiting in the durable queue.",
		}),
		AssignmentRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestra",
			Name:      "assignment_retries_total",
			Help:      "Assignment attempts deferred because no agent was available.",
		}),
		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestra",
			Name:      "tasks_in_flight",
			Help:      "Tasks currently executing in workers.",
		}),
		Heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestra",
			Name:      "engine_heartbeats_total",
			Help:      "Progress heartbeats emitted by the execution engine.",
		}),
		FallbackDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestra",
			Name:      "fallback_deliveries_total",
			Help:      "Result deliveries that used the broadcast fallback path.",
		}),
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
