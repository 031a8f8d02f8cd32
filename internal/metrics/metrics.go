// Package metrics exposes broker counters and gauges over HTTP for
// Prometheus scraping (SPEC_FULL.md §4.11), grounded on the
// prometheus/client_golang usage in golang-io-mqtt's stat.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the broker's Prometheus collectors, registered against
// a private registry so multiple Metrics instances (one per test) never
// collide on the process-wide default registry.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive      prometheus.Gauge
	SubscriptionsActive    prometheus.Gauge
	PublishesTotal         *prometheus.CounterVec
	FanoutWritesTotal      prometheus.Counter
	FanoutWriteErrorsTotal prometheus.Counter
}

// New constructs and registers a fresh set of collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_connections_active",
			Help: "Number of currently connected sessions.",
		}),
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_subscriptions_active",
			Help: "Number of topics with at least one active subscriber.",
		}),
		PublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_publishes_total",
			Help: "Total PUBLISH packets received, labeled by QoS.",
		}, []string{"qos"}),
		FanoutWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_fanout_writes_total",
			Help: "Total fan-out frames queued to subscribers' outboxes.",
		}),
		FanoutWriteErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_fanout_write_errors_total",
			Help: "Total fan-out deliveries dropped because a subscriber's outbox was full.",
		}),
	}

	registry.MustRegister(
		m.ConnectionsActive,
		m.SubscriptionsActive,
		m.PublishesTotal,
		m.FanoutWritesTotal,
		m.FanoutWriteErrorsTotal,
	)

	return m
}

// Handler returns the HTTP handler serving this instance's metrics in
// the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
