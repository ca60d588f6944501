// Package observability provides structured logging and Prometheus metrics
// for the gatekeeper service.
//
// The Logger wraps stdlib slog with a JSON handler so every line is
// machine-parseable. Metrics cover the login funnel (started, completed,
// failed by reason), session validation outcomes, and identity provider
// round-trip latency.
package observability
