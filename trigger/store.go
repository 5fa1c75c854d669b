package trigger

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// ListOpts controls pagination and filtering for instance list queries.
type ListOpts struct {
	// Limit is the maximum number of instances to return. Zero means no limit.
	Limit int
	// Offset is the number of instances to skip.
	Offset int
	// WorkflowID filters by workflow. Nil means all workflows.
	WorkflowID id.WorkflowID
	// Status filters by status. Empty means all statuses.
	Status Status
}

// CountOpts controls filtering for instance count queries.
type CountOpts struct {
	WorkflowID id.WorkflowID
	Status     Status
}

// Store defines the persistence contract for trigger instances.
//
// Every mutation of an instance is a conditional update on its current
// status (and claim owner where relevant). That compare-and-swap is the
// only mutual exclusion between workers.
type Store interface {
	// CreateInstance inserts inst unless an instance with the same
	// (workflow, idempotency key) exists, in which case the existing one is
	// returned with created=false. Insert-or-fetch is atomic.
	CreateInstance(ctx context.Context, inst *Instance) (existing *Instance, created bool, err error)

	// GetInstance retrieves an instance by ID.
	GetInstance(ctx context.Context, instanceID id.InstanceID) (*Instance, error)

	// GetInstanceByKey retrieves an instance by its idempotency key.
	GetInstanceByKey(ctx context.Context, workflowID id.WorkflowID, key string) (*Instance, error)

	// ClaimNext atomically moves one claimable instance whose AvailableAt is
	// not after now to processing, owned by workerID, and returns it.
	// Earliest AvailableAt wins. It returns nil, nil when nothing is due.
	// Claimable instances with a pending cancel request are finalized as
	// cancelled instead of being returned.
	ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*Instance, error)

	// HeartbeatInstance refreshes HeartbeatAt of an instance held by
	// workerID. It fails with courier.ErrClaimLost otherwise.
	HeartbeatInstance(ctx context.Context, instanceID id.InstanceID, workerID id.WorkerID, now time.Time) error

	// CancelInstance finalizes an enqueued or waiting instance as cancelled
	// and flags a processing one so its in-flight step finalizes it. It
	// fails with courier.ErrInvalidState for terminal instances.
	CancelInstance(ctx context.Context, instanceID id.InstanceID, now time.Time) (*Instance, error)

	// ReleaseStale returns processing instances whose heartbeat is older
	// than now-threshold to waiting (or cancelled when a cancel is pending)
	// and reports the instances it released.
	ReleaseStale(ctx context.Context, threshold time.Duration, now time.Time) ([]*Instance, error)

	// ListInstances returns instances matching opts, newest first.
	ListInstances(ctx context.Context, opts ListOpts) ([]*Instance, error)

	// CountInstances returns the number of instances matching opts.
	CountInstances(ctx context.Context, opts CountOpts) (int64, error)
}
