package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for courier tracing.
const tracerName = "github.com/xraph/courier"

// Tracing returns middleware that wraps each step in a span from the global
// TracerProvider. Without a configured provider it is a no-op.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: courier.instance.id, courier.workflow.id,
// courier.node.key, courier.node.type, courier.attempt.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, s *Step, next Handler) error {
		ctx, span := tracer.Start(ctx, "courier.step.execute",
			trace.WithAttributes(
				attribute.String("courier.instance.id", s.InstanceID.String()),
				attribute.String("courier.workflow.id", s.WorkflowID.String()),
				attribute.String("courier.node.key", s.NodeKey),
				attribute.String("courier.node.type", string(s.NodeType)),
				attribute.Int("courier.attempt", s.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
