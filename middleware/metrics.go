package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for courier metrics.
const meterName = "github.com/xraph/courier"

// Metrics returns middleware that records step metrics on the global
// MeterProvider.
//
// Instruments:
//   - courier.step.duration (Float64Histogram, seconds)
//   - courier.step.executions (Int64Counter)
//
// Both carry node_type and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API hands back no-op instruments on error.
	duration, _ := meter.Float64Histogram(
		"courier.step.duration",
		metric.WithDescription("Duration of workflow step execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"courier.step.executions",
		metric.WithDescription("Total number of workflow step executions"),
		metric.WithUnit("{step}"),
	)

	return func(ctx context.Context, s *Step, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("node_type", string(s.NodeType)),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
