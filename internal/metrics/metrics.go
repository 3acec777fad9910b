// Package metrics exposes daemon counters on the control API's
// /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus collectors. Each daemon owns
// its registry so tests can build independent instances.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent      prometheus.Counter
	MessagesQueued    prometheus.Counter
	MessagesConfirmed prometheus.Counter
	MessagesDropped   prometheus.Counter
	SyncRuns          prometheus.Counter
	SOSAlerts         prometheus.Counter
}

// New creates a metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahasi_messages_sent_total",
			Help: "Messages delivered to the chat service on the first attempt.",
		}),
		MessagesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahasi_messages_queued_total",
			Help: "Messages written to the pending outbox.",
		}),
		MessagesConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahasi_messages_confirmed_total",
			Help: "Outbox messages confirmed by a sync pass.",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahasi_messages_dropped_total",
			Help: "Outbox messages cleared without confirmation after a sync pass.",
		}),
		SyncRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahasi_sync_runs_total",
			Help: "Sync passes that attempted at least one delivery.",
		}),
		SOSAlerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahasi_sos_alerts_total",
			Help: "SOS alerts accepted by the backend.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
