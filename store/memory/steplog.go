package memory

import (
	"context"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
)

// CommitStep appends entry and replaces the instance with next when the
// caller still holds the claim.
func (m *Store) CommitStep(_ context.Context, workerID id.WorkerID, entry *steplog.Entry, next *trigger.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.instances[next.ID.String()]
	if !ok {
		return courier.ErrInstanceNotFound
	}
	if stored.Status != trigger.StatusProcessing || stored.WorkerID != workerID {
		return courier.ErrClaimLost
	}

	if stored.CancelRequested {
		next.CancelRequested = true
		if !next.Status.IsTerminal() {
			next.Finish(trigger.StatusCancelled, entry.FinishedAt)
			entry.Outcome = steplog.OutcomeCancelled
		}
	}

	key := next.ID.String()
	m.instances[key] = next.Clone()
	m.steps[key] = append(m.steps[key], entry.Clone())
	return nil
}

// ListStepLogs returns the entries of an instance in execution order.
func (m *Store) ListStepLogs(_ context.Context, instanceID id.InstanceID, opts steplog.ListOpts) ([]*steplog.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.steps[instanceID.String()]
	out := make([]*steplog.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Clone())
	}
	return page(out, opts.Offset, opts.Limit), nil
}

// CountStepLogs returns the number of entries of an instance.
func (m *Store) CountStepLogs(_ context.Context, instanceID id.InstanceID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.steps[instanceID.String()])), nil
}
