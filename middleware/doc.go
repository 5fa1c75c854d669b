// Package middleware provides composable middleware around the execution of
// a single workflow step: panic recovery, tracing, metrics, logging and the
// delivery timeout.
package middleware
