// Package metrics exposes the Prometheus collectors used across the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatewayRequests *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	paymentsCreated *prometheus.CounterVec
	idempotencyHits *prometheus.CounterVec
	webhookJobs     *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	fanoutDropped   prometheus.Counter
}

// New registers the collectors on registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		gatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_gateway_requests_total",
			Help: "Outbound gateway calls by method and status class",
		}, []string{"method", "status"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursepay_gateway_request_duration_seconds",
			Help:    "Outbound gateway call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		paymentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_payments_created_total",
			Help: "Payments and subscriptions created, by kind and resulting status",
		}, []string{"kind", "status"}),
		idempotencyHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_idempotency_replays_total",
			Help: "Requests answered from a stored idempotent response",
		}, []string{"prefix"}),
		webhookJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_webhook_jobs_total",
			Help: "Processed webhook jobs by type and result",
		}, []string{"type", "result"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_subscription_transitions_total",
			Help: "Subscription status transitions",
		}, []string{"from", "to"}),
		refunds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_refund_requests_total",
			Help: "Refund requests by result",
		}, []string{"result"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursepay_cache_lookups_total",
			Help: "Response cache lookups by result",
		}, []string{"result"}),
		fanoutDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "coursepay_fanout_dropped_total",
			Help: "Push updates dropped because a connection buffer was full",
		}),
	}
}

func (m *Metrics) ObserveGatewayCall(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(method, statusClass(status)).Inc()
	m.gatewayLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) IncPaymentCreated(kind, status string) {
	if m == nil {
		return
	}
	m.paymentsCreated.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) IncIdempotentReplay(prefix string) {
	if m == nil {
		return
	}
	m.idempotencyHits.WithLabelValues(prefix).Inc()
}

func (m *Metrics) IncWebhookJob(jobType, result string) {
	if m == nil {
		return
	}
	m.webhookJobs.WithLabelValues(jobType, result).Inc()
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncRefund(result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(result).Inc()
}

func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncFanoutDropped() {
	if m == nil {
		return
	}
	m.fanoutDropped.Inc()
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
