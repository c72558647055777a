// Package metrics exposes Prometheus collectors for the sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexaview/pkg/models"
)

const namespace = "nexaview"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	notifications     prometheus.Counter
	reconciliations   *prometheus.CounterVec
	fetches           *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	connectionState   *prometheus.GaugeVec
	trackedWallets    prometheus.Gauge
}

var allStates = []models.ConnectionState{
	models.StateDisconnected,
	models.StateConnecting,
	models.StateConnected,
	models.StateReconnecting,
	models.StateFailed,
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Address change notifications received from the node.",
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Coalesced balance reconciliations by outcome.",
		}, []string{"outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_fetches_total",
			Help:      "Balance endpoint requests by result.",
		}, []string{"result"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current live channel state, 0 otherwise.",
		}, []string{"state"}),
		trackedWallets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_wallets",
			Help:      "Number of wallets in the store.",
		}),
	}
	m.registry.MustRegister(
		m.notifications,
		m.reconciliations,
		m.fetches,
		m.reconnectAttempts,
		m.connectionState,
		m.trackedWallets,
	)
	m.SetState(models.StateDisconnected)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncNotification() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) ObserveReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFetch(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) SetState(state models.ConnectionState) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.trackedWallets.Set(float64(n))
}
