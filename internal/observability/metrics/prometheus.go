// Package metrics exposes Prometheus metrics for the dispensing workflow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-rxworkflow/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	Transitions         *prometheus.CounterVec
	OperationFailures   *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	ClaimsAdjudicated   *prometheus.CounterVec
	DURAlerts           *prometheus.CounterVec
	PDMPQueries         *prometheus.CounterVec
	WillCallReturns     prometheus.Counter
	AuditFailures       prometheus.Counter
	OutboxRelayed       *prometheus.CounterVec
	OutboxRelayFailures *prometheus.CounterVec
	OutboxRelayLag      prometheus.Histogram
	OutboxDeadLettered  prometheus.Counter
	OutboxPending       prometheus.Gauge
	NotificationsSent   *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them with reg. A nil reg uses a
// fresh registry so tests and parallel engines never collide.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_workflow_transitions_total",
			Help: "Workflow state transitions",
		}, []string{"from", "to"}),
		OperationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_workflow_operation_failures_total",
			Help: "Refused or failed workflow operations by error code",
		}, []string{"operation", "code"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rx_workflow_operation_duration_seconds",
			Help:    "Workflow operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 10},
		}, []string{"operation"}),
		ClaimsAdjudicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_claims_adjudicated_total",
			Help: "Claim adjudication outcomes",
		}, []string{"status"}),
		DURAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_dur_alerts_total",
			Help: "Drug utilization review alerts raised",
		}, []string{"severity"}),
		PDMPQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_pdmp_queries_total",
			Help: "PDMP snapshots by assessed risk level",
		}, []string{"risk_level"}),
		WillCallReturns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rx_will_call_returns_total",
			Help: "Prescriptions returned to stock from will-call",
		}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rx_audit_delivery_failures_total",
			Help: "Audit batches the sink refused",
		}),
		OutboxRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_outbox_relayed_total",
			Help: "Outbox entries published",
		}, []string{"topic"}),
		OutboxRelayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_outbox_relay_failures_total",
			Help: "Outbox publish attempts that failed",
		}, []string{"topic"}),
		OutboxRelayLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rx_outbox_relay_lag_seconds",
			Help:    "Time from commit to publish",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		OutboxDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rx_outbox_dead_lettered_total",
			Help: "Outbox entries parked on the dead letter topic",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rx_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_pickup_notifications_total",
			Help: "Pickup notifications by outcome",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rx_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rx_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Transitions,
		m.OperationFailures,
		m.OperationDuration,
		m.ClaimsAdjudicated,
		m.DURAlerts,
		m.PDMPQueries,
		m.WillCallReturns,
		m.AuditFailures,
		m.OutboxRelayed,
		m.OutboxRelayFailures,
		m.OutboxRelayLag,
		m.OutboxDeadLettered,
		m.OutboxPending,
		m.NotificationsSent,
		m.HTTPRequests,
		m.HTTPDuration,
		m.CircuitBreakerState,
	)
	return m
}

// Handler serves the registry m was created with
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordTransition(from, to string) { m.Transitions.WithLabelValues(from, to).Inc() }

func (m *Metrics) RecordFailure(operation, code string) {
	m.OperationFailures.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) RecordClaim(status string)         { m.ClaimsAdjudicated.WithLabelValues(status).Inc() }
func (m *Metrics) RecordDURAlert(severity string)    { m.DURAlerts.WithLabelValues(severity).Inc() }
func (m *Metrics) RecordRiskLevel(level string)      { m.PDMPQueries.WithLabelValues(level).Inc() }
func (m *Metrics) RecordWillCallReturn()             { m.WillCallReturns.Inc() }
func (m *Metrics) RecordAuditFailure()               { m.AuditFailures.Inc() }
func (m *Metrics) RecordNotification(outcome string) { m.NotificationsSent.WithLabelValues(outcome).Inc() }

func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) RecordRelayed(topic string, lag time.Duration) {
	m.OutboxRelayed.WithLabelValues(topic).Inc()
	m.OutboxRelayLag.Observe(lag.Seconds())
}

func (m *Metrics) RecordRelayFailure(topic string) { m.OutboxRelayFailures.WithLabelValues(topic).Inc() }
func (m *Metrics) RecordDeadLettered(count int)    { m.OutboxDeadLettered.Add(float64(count)) }
func (m *Metrics) SetOutboxPending(n int64)        { m.OutboxPending.Set(float64(n)) }

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}

// BreakerListener exports breaker state changes to the gauge
func (m *Metrics) BreakerListener() circuitbreaker.StateListener {
	return func(name string, state circuitbreaker.State) {
		v := 0.0
		switch state {
		case circuitbreaker.StateOpen:
			v = 1
		case circuitbreaker.StateHalfOpen:
			v = 2
		}
		m.CircuitBreakerState.WithLabelValues(name).Set(v)
	}
}
