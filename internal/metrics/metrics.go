package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters the order core exposes.
type Metrics struct {
	OrdersCreated        prometheus.Counter
	StatusTransitions    prometheus.Counter
	WebhooksReconciled   prometheus.Counter
	WebhooksNoMatch      prometheus.Counter
	WebhooksBadSignature prometheus.Counter
	SessionsConnected    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers the metric set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkbites",
			Name:      "orders_created_total",
			Help:      "Total number of orders created.",
		}),
		StatusTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkbites",
			Name:      "order_status_transitions_total",
			Help:      "Total number of applied order status transitions.",
		}),
		WebhooksReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkbites",
			Name:      "webhooks_reconciled_total",
			Help:      "Webhook events that flipped an order to paid.",
		}),
		WebhooksNoMatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkbites",
			Name:      "webhooks_no_match_total",
			Help:      "Webhook events acknowledged as reconciliation no-ops.",
		}),
		WebhooksBadSignature: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkbites",
			Name:      "webhooks_bad_signature_total",
			Help:      "Webhook deliveries rejected for signature mismatch.",
		}),
		SessionsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chunkbites",
			Name:      "ws_sessions_connected",
			Help:      "Currently connected websocket sessions.",
		}),
		registry: reg,
	}
	reg.MustRegister(
		m.OrdersCreated,
		m.StatusTransitions,
		m.WebhooksReconciled,
		m.WebhooksNoMatch,
		m.WebhooksBadSignature,
		m.SessionsConnected,
	)
	return m
}

// Handler serves the /metrics endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
