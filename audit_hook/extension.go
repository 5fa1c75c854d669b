package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.InstanceIngested  = (*Extension)(nil)
	_ ext.InstanceRetrying  = (*Extension)(nil)
	_ ext.InstanceCompleted = (*Extension)(nil)
	_ ext.InstanceFailed    = (*Extension)(nil)
	_ ext.InstanceCancelled = (*Extension)(nil)
	_ ext.InstanceDLQ       = (*Extension)(nil)
	_ ext.StepCompleted     = (*Extension)(nil)
	_ ext.StepFailed        = (*Extension)(nil)
	_ ext.CronFired         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. Callers
// inject the concrete backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Courier lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Instance lifecycle hooks ────────────────────────

// OnInstanceIngested implements ext.InstanceIngested.
func (e *Extension) OnInstanceIngested(ctx context.Context, inst *trigger.Instance) error {
	return e.record(ctx, ActionInstanceIngested, SeverityInfo, OutcomeSuccess,
		ResourceInstance, inst.ID.String(), CategoryInstance, nil,
		"workflow_id", inst.WorkflowID.String(),
		"workflow_version", inst.WorkflowVersion,
		"idempotency_key", inst.IdempotencyKey,
	)
}

// OnInstanceRetrying implements ext.InstanceRetrying.
func (e *Extension) OnInstanceRetrying(ctx context.Context, inst *trigger.Instance, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionInstanceRetrying, SeverityWarning, OutcomeFailure,
		ResourceInstance, inst.ID.String(), CategoryInstance, nil,
		"workflow_id", inst.WorkflowID.String(),
		"node_id", inst.CursorNodeID.String(),
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
		"last_error", inst.LastError,
	)
}

// OnInstanceCompleted implements ext.InstanceCompleted.
func (e *Extension) OnInstanceCompleted(ctx context.Context, inst *trigger.Instance, elapsed time.Duration) error {
	return e.record(ctx, ActionInstanceCompleted, SeverityInfo, OutcomeSuccess,
		ResourceInstance, inst.ID.String(), CategoryInstance, nil,
		"workflow_id", inst.WorkflowID.String(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnInstanceFailed implements ext.InstanceFailed.
func (e *Extension) OnInstanceFailed(ctx context.Context, inst *trigger.Instance, instErr error) error {
	return e.record(ctx, ActionInstanceFailed, SeverityCritical, OutcomeFailure,
		ResourceInstance, inst.ID.String(), CategoryInstance, instErr,
		"workflow_id", inst.WorkflowID.String(),
		"attempts", inst.Attempts,
	)
}

// OnInstanceCancelled implements ext.InstanceCancelled.
func (e *Extension) OnInstanceCancelled(ctx context.Context, inst *trigger.Instance) error {
	return e.record(ctx, ActionInstanceCancelled, SeverityInfo, OutcomeSuccess,
		ResourceInstance, inst.ID.String(), CategoryInstance, nil,
		"workflow_id", inst.WorkflowID.String(),
	)
}

// OnInstanceDLQ implements ext.InstanceDLQ.
func (e *Extension) OnInstanceDLQ(ctx context.Context, inst *trigger.Instance, entry *dlq.Entry) error {
	return e.record(ctx, ActionInstanceDLQ, SeverityCritical, OutcomeFailure,
		ResourceInstance, inst.ID.String(), CategoryInstance, nil,
		"workflow_id", inst.WorkflowID.String(),
		"dlq_id", entry.ID.String(),
		"error", entry.Error,
	)
}

// ── Step hooks ──────────────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, inst *trigger.Instance, entry *steplog.Entry) error {
	return e.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceStep, entry.ID.String(), CategoryStep, nil,
		"instance_id", inst.ID.String(),
		"node_key", entry.NodeKey,
		"node_type", string(entry.NodeType),
		"attempt", entry.Attempt,
		"outcome", string(entry.Outcome),
		"elapsed_ms", entry.Duration().Milliseconds(),
	)
}

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, inst *trigger.Instance, entry *steplog.Entry, stepErr error) error {
	return e.record(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure,
		ResourceStep, entry.ID.String(), CategoryStep, stepErr,
		"instance_id", inst.ID.String(),
		"node_key", entry.NodeKey,
		"node_type", string(entry.NodeType),
		"attempt", entry.Attempt,
		"retryable", entry.Retryable,
	)
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired. Ticks another scheduler already
// ingested are not recorded.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, inst *trigger.Instance, created bool) error {
	if !created {
		return nil
	}
	return e.record(ctx, ActionCronFired, SeverityInfo, OutcomeSuccess,
		ResourceCron, entryName, CategoryCron, nil,
		"instance_id", inst.ID.String(),
		"idempotency_key", inst.IdempotencyKey,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
