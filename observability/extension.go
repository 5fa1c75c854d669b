package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/trigger"
)

// meterName is the instrumentation scope of the lifecycle counters.
const meterName = "github.com/xraph/courier/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.InstanceIngested  = (*MetricsExtension)(nil)
	_ ext.InstanceCompleted = (*MetricsExtension)(nil)
	_ ext.InstanceFailed    = (*MetricsExtension)(nil)
	_ ext.InstanceRetrying  = (*MetricsExtension)(nil)
	_ ext.InstanceCancelled = (*MetricsExtension)(nil)
	_ ext.InstanceDLQ       = (*MetricsExtension)(nil)
	_ ext.CronFired         = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics. Register it as a
// Courier extension to track ingestion rates, completion counts, failure
// rates, retries, DLQ entries, cancellations and cron fires.
type MetricsExtension struct {
	InstanceIngested  metric.Int64Counter
	InstanceCompleted metric.Int64Counter
	InstanceFailed    metric.Int64Counter
	InstanceRetried   metric.Int64Counter
	InstanceCancelled metric.Int64Counter
	InstanceDLQ       metric.Int64Counter
	InstanceDuration  metric.Float64Histogram
	CronFired         metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API hands back no-op instruments on error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{instance}"))
		return c
	}
	duration, _ := meter.Float64Histogram(
		"courier.instance.duration",
		metric.WithDescription("Time from ingestion to successful completion in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		InstanceIngested:  counter("courier.instance.ingested", "Instances created by triggers"),
		InstanceCompleted: counter("courier.instance.completed", "Instances that reached a terminal node"),
		InstanceFailed:    counter("courier.instance.failed", "Instances that failed terminally"),
		InstanceRetried:   counter("courier.instance.retried", "Failed steps scheduled for another attempt"),
		InstanceCancelled: counter("courier.instance.cancelled", "Instances finalized as cancelled"),
		InstanceDLQ:       counter("courier.instance.dlq", "Failed instances pushed to the dead letter queue"),
		InstanceDuration:  duration,
		CronFired:         counter("courier.cron.fired", "Cron ticks that ingested an instance"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func workflowAttr(inst *trigger.Instance) metric.AddOption {
	return metric.WithAttributes(attribute.String("workflow_id", inst.WorkflowID.String()))
}

// OnInstanceIngested implements ext.InstanceIngested.
func (m *MetricsExtension) OnInstanceIngested(ctx context.Context, inst *trigger.Instance) error {
	m.InstanceIngested.Add(ctx, 1, workflowAttr(inst))
	return nil
}

// OnInstanceCompleted implements ext.InstanceCompleted.
func (m *MetricsExtension) OnInstanceCompleted(ctx context.Context, inst *trigger.Instance, elapsed time.Duration) error {
	m.InstanceCompleted.Add(ctx, 1, workflowAttr(inst))
	m.InstanceDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("workflow_id", inst.WorkflowID.String())))
	return nil
}

// OnInstanceFailed implements ext.InstanceFailed.
func (m *MetricsExtension) OnInstanceFailed(ctx context.Context, inst *trigger.Instance, _ error) error {
	m.InstanceFailed.Add(ctx, 1, workflowAttr(inst))
	return nil
}

// OnInstanceRetrying implements ext.InstanceRetrying.
func (m *MetricsExtension) OnInstanceRetrying(ctx context.Context, inst *trigger.Instance, _ int, _ time.Time) error {
	m.InstanceRetried.Add(ctx, 1, workflowAttr(inst))
	return nil
}

// OnInstanceCancelled implements ext.InstanceCancelled.
func (m *MetricsExtension) OnInstanceCancelled(ctx context.Context, inst *trigger.Instance) error {
	m.InstanceCancelled.Add(ctx, 1, workflowAttr(inst))
	return nil
}

// OnInstanceDLQ implements ext.InstanceDLQ.
func (m *MetricsExtension) OnInstanceDLQ(ctx context.Context, inst *trigger.Instance, _ *dlq.Entry) error {
	m.InstanceDLQ.Add(ctx, 1, workflowAttr(inst))
	return nil
}

// OnCronFired implements ext.CronFired. Ticks already ingested by another
// scheduler are not counted.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ *trigger.Instance, created bool) error {
	if !created {
		return nil
	}
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("cron", entryName)))
	return nil
}
