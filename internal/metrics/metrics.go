package metrics

import (
	"net/http"
	"time"

	"chatrelay/internal/relay"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RelayMetrics records relay activity. It satisfies relay.Observer.
type RelayMetrics struct {
	ConnectionsOpened  prometheus.Counter
	ConnectionsClosed  prometheus.Counter
	ConnectionsEvicted prometheus.Counter
	Deliveries         *prometheus.CounterVec // label: outcome
	Broadcasts         prometheus.Counter
	BroadcastTargets   prometheus.Histogram
	BroadcastDuration  prometheus.Histogram
	MessagesRejected   *prometheus.CounterVec // label: reason
}

var _ relay.Observer = (*RelayMetrics)(nil)

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "opened_total",
			Help:      "Total number of registered connections.",
		}),
		ConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Total number of disconnect events, including those for already evicted connections.",
		}),
		ConnectionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "evicted_total",
			Help:      "Total number of Gone connections removed by a broadcast.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by outcome (delivered, gone, transient).",
		}, []string{"outcome"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "total",
			Help:      "Total number of completed broadcasts.",
		}),
		BroadcastTargets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "targets",
			Help:      "Number of peers per broadcast.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Time from snapshot to the last resolved delivery.",
			Buckets:   prometheus.DefBuckets,
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "rejected_total",
			Help:      "Inbound messages rejected before broadcast, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.ConnectionsOpened,
		m.ConnectionsClosed,
		m.ConnectionsEvicted,
		m.Deliveries,
		m.Broadcasts,
		m.BroadcastTargets,
		m.BroadcastDuration,
		m.MessagesRejected,
	)
	return m
}

func (m *RelayMetrics) ConnectionOpened() {
	m.ConnectionsOpened.Inc()
}

func (m *RelayMetrics) ConnectionClosed() {
	m.ConnectionsClosed.Inc()
}

func (m *RelayMetrics) ConnectionEvicted() {
	m.ConnectionsEvicted.Inc()
}

func (m *RelayMetrics) DeliveryFinished(outcome relay.Outcome) {
	m.Deliveries.WithLabelValues(outcome.String()).Inc()
}

func (m *RelayMetrics) BroadcastFinished(targets int, elapsed time.Duration) {
	m.Broadcasts.Inc()
	m.BroadcastTargets.Observe(float64(targets))
	m.BroadcastDuration.Observe(elapsed.Seconds())
}

func (m *RelayMetrics) MessageRejected(reason string) {
	m.MessagesRejected.WithLabelValues(reason).Inc()
}
