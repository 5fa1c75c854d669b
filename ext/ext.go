package ext

import (
	"context"
	"time"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Instance lifecycle hooks
// ──────────────────────────────────────────────────

// InstanceIngested is called after a trigger creates a new instance.
// Duplicate triggers that return an existing instance do not fire it.
type InstanceIngested interface {
	OnInstanceIngested(ctx context.Context, inst *trigger.Instance) error
}

// InstanceRetrying is called when a step fails but the node will be retried.
type InstanceRetrying interface {
	OnInstanceRetrying(ctx context.Context, inst *trigger.Instance, attempt int, nextRunAt time.Time) error
}

// InstanceCompleted is called after an instance finishes successfully.
type InstanceCompleted interface {
	OnInstanceCompleted(ctx context.Context, inst *trigger.Instance, elapsed time.Duration) error
}

// InstanceFailed is called when an instance fails terminally.
type InstanceFailed interface {
	OnInstanceFailed(ctx context.Context, inst *trigger.Instance, err error) error
}

// InstanceCancelled is called when an instance is finalized as cancelled.
type InstanceCancelled interface {
	OnInstanceCancelled(ctx context.Context, inst *trigger.Instance) error
}

// InstanceDLQ is called after a failed instance is pushed to the DLQ.
type InstanceDLQ interface {
	OnInstanceDLQ(ctx context.Context, inst *trigger.Instance, entry *dlq.Entry) error
}

// ──────────────────────────────────────────────────
// Step hooks
// ──────────────────────────────────────────────────

// StepCompleted is called after a node executes successfully.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, inst *trigger.Instance, entry *steplog.Entry) error
}

// StepFailed is called when a node execution fails.
type StepFailed interface {
	OnStepFailed(ctx context.Context, inst *trigger.Instance, entry *steplog.Entry, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a cron entry fires. created is false when
// another scheduler already ingested the same tick.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, inst *trigger.Instance, created bool) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
