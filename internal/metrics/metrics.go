// Package metrics exposes the daemon's Prometheus instrumentation. A private
// registry keeps the scrape surface limited to pipeline metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newsreel/internal/queue"
)

// Metrics bundles the pipeline's instruments.
type Metrics struct {
	registry *prometheus.Registry

	ItemsByStatus   *prometheus.GaugeVec
	ItemsAdmitted   prometheus.Counter
	DeadLetters     *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	StaleSweeps     prometheus.Counter
}

// New builds a metric set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ItemsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "newsreel",
			Name:      "queue_items",
			Help:      "Work items currently in each status.",
		}, []string{"status"}),
		ItemsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "newsreel",
			Name:      "items_admitted_total",
			Help:      "Headlines admitted as work items.",
		}),
		DeadLetters: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsreel",
			Name:      "dead_letters_total",
			Help:      "Events parked after delivery retries were exhausted.",
		}, []string{"topic"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsreel",
			Name:      "events_published_total",
			Help:      "Events appended to the bus by topic.",
		}, []string{"topic"}),
		StaleSweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "newsreel",
			Name:      "stale_items_swept_total",
			Help:      "In-progress items reclaimed by the staleness sweep.",
		}),
	}
}

// Handler returns the scrape endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQueue updates the per-status gauges from a queue health summary.
func (m *Metrics) ObserveQueue(summary queue.HealthSummary) {
	m.ItemsByStatus.WithLabelValues(string(queue.StatusQueued)).Set(float64(summary.Queued))
	m.ItemsByStatus.WithLabelValues("in_progress").Set(float64(summary.InProgress))
	m.ItemsByStatus.WithLabelValues(string(queue.StatusCompleted)).Set(float64(summary.Completed))
	m.ItemsByStatus.WithLabelValues(string(queue.StatusUploaded)).Set(float64(summary.Uploaded))
	m.ItemsByStatus.WithLabelValues(string(queue.StatusFailed)).Set(float64(summary.Failed))
	m.ItemsByStatus.WithLabelValues(string(queue.StatusQuotaBlocked)).Set(float64(summary.QuotaBlocked))
}
