package steplog

import (
	"context"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

// ListOpts controls pagination for step log queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for the step log. It exposes no
// update or delete operation.
type Store interface {
	// CommitStep appends entry and replaces the instance state with next as
	// one atomic unit. The write only happens if the stored instance is
	// still processing and owned by workerID; otherwise it fails with
	// courier.ErrClaimLost and nothing is written.
	//
	// If a cancel was requested while the step ran and next is not
	// terminal, the instance is finalized as cancelled instead and both
	// next and entry.Outcome are updated to reflect it.
	CommitStep(ctx context.Context, workerID id.WorkerID, entry *Entry, next *trigger.Instance) error

	// ListStepLogs returns the entries of an instance in execution order.
	ListStepLogs(ctx context.Context, instanceID id.InstanceID, opts ListOpts) ([]*Entry, error)

	// CountStepLogs returns the number of entries of an instance.
	CountStepLogs(ctx context.Context, instanceID id.InstanceID) (int64, error)
}
