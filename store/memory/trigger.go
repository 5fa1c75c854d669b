package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

func instanceKey(workflowID id.WorkflowID, key string) string {
	return workflowID.String() + "\x00" + key
}

// CreateInstance inserts inst or returns the instance already holding its
// (workflow, idempotency key) pair.
func (m *Store) CreateInstance(_ context.Context, inst *trigger.Instance) (*trigger.Instance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := instanceKey(inst.WorkflowID, inst.IdempotencyKey)
	if existingID, ok := m.byKey[k]; ok {
		return m.instances[existingID].Clone(), false, nil
	}
	m.instances[inst.ID.String()] = inst.Clone()
	m.byKey[k] = inst.ID.String()
	return inst, true, nil
}

// GetInstance retrieves an instance by ID.
func (m *Store) GetInstance(_ context.Context, instanceID id.InstanceID) (*trigger.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return nil, courier.ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

// GetInstanceByKey retrieves an instance by its idempotency key.
func (m *Store) GetInstanceByKey(_ context.Context, workflowID id.WorkflowID, key string) (*trigger.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instID, ok := m.byKey[instanceKey(workflowID, key)]
	if !ok {
		return nil, courier.ErrInstanceNotFound
	}
	return m.instances[instID].Clone(), nil
}

// ClaimNext claims the due instance with the earliest AvailableAt.
func (m *Store) ClaimNext(_ context.Context, workerID id.WorkerID, now time.Time) (*trigger.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		var next *trigger.Instance
		for _, inst := range m.instances {
			if !inst.Status.Claimable() || inst.AvailableAt.After(now) {
				continue
			}
			if next == nil || inst.AvailableAt.Before(next.AvailableAt) ||
				(inst.AvailableAt.Equal(next.AvailableAt) && inst.CreatedAt.Before(next.CreatedAt)) {
				next = inst
			}
		}
		if next == nil {
			return nil, nil
		}

		if next.CancelRequested {
			next.Finish(trigger.StatusCancelled, now)
			next.UpdatedAt = now
			continue
		}

		claimedAt := now
		heartbeat := now
		next.Status = trigger.StatusProcessing
		next.WorkerID = workerID
		next.ClaimedAt = &claimedAt
		next.HeartbeatAt = &heartbeat
		next.UpdatedAt = now
		return next.Clone(), nil
	}
}

// HeartbeatInstance refreshes the heartbeat of a held claim.
func (m *Store) HeartbeatInstance(_ context.Context, instanceID id.InstanceID, workerID id.WorkerID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return courier.ErrInstanceNotFound
	}
	if inst.Status != trigger.StatusProcessing || inst.WorkerID != workerID {
		return courier.ErrClaimLost
	}
	hb := now
	inst.HeartbeatAt = &hb
	return nil
}

// CancelInstance cancels or flags the instance depending on its status.
func (m *Store) CancelInstance(_ context.Context, instanceID id.InstanceID, now time.Time) (*trigger.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return nil, courier.ErrInstanceNotFound
	}
	switch inst.Status {
	case trigger.StatusEnqueued, trigger.StatusWaiting:
		inst.CancelRequested = true
		inst.Finish(trigger.StatusCancelled, now)
	case trigger.StatusProcessing:
		inst.CancelRequested = true
	case trigger.StatusCompleted, trigger.StatusFailed, trigger.StatusCancelled:
		return nil, courier.ErrInvalidState
	}
	inst.UpdatedAt = now
	return inst.Clone(), nil
}

// ReleaseStale releases processing instances whose heartbeat expired.
func (m *Store) ReleaseStale(_ context.Context, threshold time.Duration, now time.Time) ([]*trigger.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-threshold)
	var released []*trigger.Instance
	for _, inst := range m.instances {
		if inst.Status != trigger.StatusProcessing {
			continue
		}
		last := inst.HeartbeatAt
		if last == nil {
			last = inst.ClaimedAt
		}
		if last != nil && !last.Before(cutoff) {
			continue
		}
		if inst.CancelRequested {
			inst.Finish(trigger.StatusCancelled, now)
		} else {
			inst.Status = trigger.StatusWaiting
			inst.AvailableAt = now
			inst.Release()
		}
		inst.UpdatedAt = now
		released = append(released, inst.Clone())
	}
	return released, nil
}

// ListInstances returns instances matching opts, newest first.
func (m *Store) ListInstances(_ context.Context, opts trigger.ListOpts) ([]*trigger.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*trigger.Instance
	for _, inst := range m.instances {
		if !matchInstance(inst, opts.WorkflowID, opts.Status) {
			continue
		}
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// CountInstances returns the number of instances matching opts.
func (m *Store) CountInstances(_ context.Context, opts trigger.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, inst := range m.instances {
		if matchInstance(inst, opts.WorkflowID, opts.Status) {
			n++
		}
	}
	return n, nil
}

func matchInstance(inst *trigger.Instance, workflowID id.WorkflowID, status trigger.Status) bool {
	if !workflowID.IsNil() && inst.WorkflowID != workflowID {
		return false
	}
	if status != "" && inst.Status != status {
		return false
	}
	return true
}
