// Package observability provides an OpenTelemetry metrics extension for
// Courier. MetricsExtension implements the lifecycle hooks and records
// system-wide counters for ingestion, completion, failure, retry, DLQ,
// cancellation and cron events.
//
// For per-step tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
