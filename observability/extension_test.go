package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/trigger"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestInstance() *trigger.Instance {
	return &trigger.Instance{
		ID:             id.NewInstanceID(),
		WorkflowID:     id.NewWorkflowID(),
		IdempotencyKey: "order-1",
		Status:         trigger.StatusCompleted,
	}
}

// counterValue sums every data point of the named counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_InstanceIngested(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnInstanceIngested(context.Background(), newTestInstance()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "courier.instance.ingested"); got != 1 {
		t.Errorf("ingested: want 1, got %d", got)
	}
}

func TestMetricsExtension_InstanceCompletedRecordsDuration(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnInstanceCompleted(context.Background(), newTestInstance(), 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var hist *metricdata.Histogram[float64]
	var completed int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "courier.instance.duration":
				h, ok := m.Data.(metricdata.Histogram[float64])
				if ok {
					hist = &h
				}
			case "courier.instance.completed":
				if s, ok := m.Data.(metricdata.Sum[int64]); ok && len(s.DataPoints) > 0 {
					completed = s.DataPoints[0].Value
				}
			}
		}
	}
	if completed != 1 {
		t.Errorf("completed: want 1, got %d", completed)
	}
	if hist == nil || len(hist.DataPoints) != 1 {
		t.Fatal("courier.instance.duration not recorded")
	}
	if hist.DataPoints[0].Sum != 2 {
		t.Errorf("duration sum = %v, want 2", hist.DataPoints[0].Sum)
	}
}

func TestMetricsExtension_CronFiredSkipsDuplicateTicks(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	_ = e.OnCronFired(ctx, "daily-digest", newTestInstance(), true)
	_ = e.OnCronFired(ctx, "daily-digest", newTestInstance(), false)

	if got := counterValue(t, reader, "courier.cron.fired"); got != 1 {
		t.Errorf("cron fired: want 1, got %d", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	inst := newTestInstance()

	reg.EmitInstanceIngested(ctx, inst)
	reg.EmitInstanceCompleted(ctx, inst, 50*time.Millisecond)
	reg.EmitInstanceFailed(ctx, inst, errors.New("fail"))
	reg.EmitInstanceRetrying(ctx, inst, 1, time.Now())
	reg.EmitInstanceCancelled(ctx, inst)
	reg.EmitInstanceDLQ(ctx, inst, &dlq.Entry{ID: id.NewDLQID(), InstanceID: inst.ID})
	reg.EmitCronFired(ctx, "hourly", inst, true)

	for _, name := range []string{
		"courier.instance.ingested",
		"courier.instance.completed",
		"courier.instance.failed",
		"courier.instance.retried",
		"courier.instance.cancelled",
		"courier.instance.dlq",
		"courier.cron.fired",
	} {
		if got := counterValue(t, reader, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}
