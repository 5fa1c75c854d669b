package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type instanceIngestedEntry struct {
	name string
	hook InstanceIngested
}

type instanceRetryingEntry struct {
	name string
	hook InstanceRetrying
}

type instanceCompletedEntry struct {
	name string
	hook InstanceCompleted
}

type instanceFailedEntry struct {
	name string
	hook InstanceFailed
}

type instanceCancelledEntry struct {
	name string
	hook InstanceCancelled
}

type instanceDLQEntry struct {
	name string
	hook InstanceDLQ
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and fans lifecycle events out to
// them. Extensions are type-cached at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	instanceIngested  []instanceIngestedEntry
	instanceRetrying  []instanceRetryingEntry
	instanceCompleted []instanceCompletedEntry
	instanceFailed    []instanceFailedEntry
	instanceCancelled []instanceCancelledEntry
	instanceDLQ       []instanceDLQEntry
	stepCompleted     []stepCompletedEntry
	stepFailed        []stepFailedEntry
	cronFired         []cronFiredEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(InstanceIngested); ok {
		r.instanceIngested = append(r.instanceIngested, instanceIngestedEntry{name, h})
	}
	if h, ok := e.(InstanceRetrying); ok {
		r.instanceRetrying = append(r.instanceRetrying, instanceRetryingEntry{name, h})
	}
	if h, ok := e.(InstanceCompleted); ok {
		r.instanceCompleted = append(r.instanceCompleted, instanceCompletedEntry{name, h})
	}
	if h, ok := e.(InstanceFailed); ok {
		r.instanceFailed = append(r.instanceFailed, instanceFailedEntry{name, h})
	}
	if h, ok := e.(InstanceCancelled); ok {
		r.instanceCancelled = append(r.instanceCancelled, instanceCancelledEntry{name, h})
	}
	if h, ok := e.(InstanceDLQ); ok {
		r.instanceDLQ = append(r.instanceDLQ, instanceDLQEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Instance event emitters
// ──────────────────────────────────────────────────

// EmitInstanceIngested notifies all extensions that implement InstanceIngested.
func (r *Registry) EmitInstanceIngested(ctx context.Context, inst *trigger.Instance) {
	for _, e := range r.instanceIngested {
		if err := e.hook.OnInstanceIngested(ctx, inst); err != nil {
			r.logHookError("OnInstanceIngested", e.name, err)
		}
	}
}

// EmitInstanceRetrying notifies all extensions that implement InstanceRetrying.
func (r *Registry) EmitInstanceRetrying(ctx context.Context, inst *trigger.Instance, attempt int, nextRunAt time.Time) {
	for _, e := range r.instanceRetrying {
		if err := e.hook.OnInstanceRetrying(ctx, inst, attempt, nextRunAt); err != nil {
			r.logHookError("OnInstanceRetrying", e.name, err)
		}
	}
}

// EmitInstanceCompleted notifies all extensions that implement InstanceCompleted.
func (r *Registry) EmitInstanceCompleted(ctx context.Context, inst *trigger.Instance, elapsed time.Duration) {
	for _, e := range r.instanceCompleted {
		if err := e.hook.OnInstanceCompleted(ctx, inst, elapsed); err != nil {
			r.logHookError("OnInstanceCompleted", e.name, err)
		}
	}
}

// EmitInstanceFailed notifies all extensions that implement InstanceFailed.
func (r *Registry) EmitInstanceFailed(ctx context.Context, inst *trigger.Instance, instErr error) {
	for _, e := range r.instanceFailed {
		if err := e.hook.OnInstanceFailed(ctx, inst, instErr); err != nil {
			r.logHookError("OnInstanceFailed", e.name, err)
		}
	}
}

// EmitInstanceCancelled notifies all extensions that implement InstanceCancelled.
func (r *Registry) EmitInstanceCancelled(ctx context.Context, inst *trigger.Instance) {
	for _, e := range r.instanceCancelled {
		if err := e.hook.OnInstanceCancelled(ctx, inst); err != nil {
			r.logHookError("OnInstanceCancelled", e.name, err)
		}
	}
}

// EmitInstanceDLQ notifies all extensions that implement InstanceDLQ.
func (r *Registry) EmitInstanceDLQ(ctx context.Context, inst *trigger.Instance, entry *dlq.Entry) {
	for _, e := range r.instanceDLQ {
		if err := e.hook.OnInstanceDLQ(ctx, inst, entry); err != nil {
			r.logHookError("OnInstanceDLQ", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, inst *trigger.Instance, entry *steplog.Entry) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, inst, entry); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, inst *trigger.Instance, entry *steplog.Entry, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, inst, entry, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, inst *trigger.Instance, created bool) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, inst, created); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated to the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
