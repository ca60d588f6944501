package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the auth service
type Metrics struct {
	// Login flow metrics
	LoginsStartedTotal   *prometheus.CounterVec
	LoginsCompletedTotal *prometheus.CounterVec
	LoginsFailedTotal    *prometheus.CounterVec

	// Session metrics
	SessionsActive          prometheus.Gauge
	SessionValidationsTotal *prometheus.CounterVec
	TokensRevokedTotal      prometheus.Counter

	// Provider round-trip metrics
	TokenExchangeDuration *prometheus.HistogramVec

	// Audit metrics
	AuditEventsTotal       *prometheus.CounterVec
	AuditRecordErrorsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LoginsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_logins_started_total",
				Help: "Total number of login flows started",
			},
			[]string{"provider"},
		),
		LoginsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_logins_completed_total",
				Help: "Total number of login flows completed successfully",
			},
			[]string{"provider"},
		),
		LoginsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_logins_failed_total",
				Help: "Total number of failed login completions",
			},
			[]string{"provider", "reason"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_sessions_active",
				Help: "Number of currently active sessions",
			},
		),
		SessionValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_session_validations_total",
				Help: "Total number of session validations",
			},
			[]string{"result"},
		),
		TokensRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_tokens_revoked_total",
				Help: "Total number of session tokens revoked",
			},
		),
		TokenExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_token_exchange_duration_seconds",
				Help:    "Duration of identity provider round trips",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_events_total",
				Help: "Total number of audit events recorded",
			},
			[]string{"event_type", "success"},
		),
		AuditRecordErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_record_errors_total",
				Help: "Total number of audit events that could not be persisted",
			},
		),
	}

	registry.MustRegister(
		m.LoginsStartedTotal,
		m.LoginsCompletedTotal,
		m.LoginsFailedTotal,
		m.SessionsActive,
		m.SessionValidationsTotal,
		m.TokensRevokedTotal,
		m.TokenExchangeDuration,
		m.AuditEventsTotal,
		m.AuditRecordErrorsTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
