package steplog

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

// Recorder commits step log entries together with instance transitions.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record appends entry and applies next atomically. The entry id and finish
// time are filled in when unset.
func (r *Recorder) Record(ctx context.Context, workerID id.WorkerID, entry *Entry, next *trigger.Instance) error {
	if entry.ID.IsNil() {
		entry.ID = id.NewStepID()
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now().UTC()
	}
	entry.WorkerID = workerID
	next.UpdatedAt = entry.FinishedAt

	if err := r.store.CommitStep(ctx, workerID, entry, next); err != nil {
		r.logger.Warn("step commit failed",
			slog.String("instance_id", entry.InstanceID.String()),
			slog.String("node", entry.NodeKey),
			slog.Int("attempt", entry.Attempt),
			slog.String("error", err.Error()),
		)
		return err
	}

	r.logger.Debug("step recorded",
		slog.String("instance_id", entry.InstanceID.String()),
		slog.String("node", entry.NodeKey),
		slog.Int("attempt", entry.Attempt),
		slog.String("outcome", string(entry.Outcome)),
		slog.String("status", string(next.Status)),
	)
	return nil
}

// List returns the log of an instance in execution order.
func (r *Recorder) List(ctx context.Context, instanceID id.InstanceID, opts ListOpts) ([]*Entry, error) {
	return r.store.ListStepLogs(ctx, instanceID, opts)
}
