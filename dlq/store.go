package dlq

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// WorkflowID filters by workflow. Nil means all workflows.
	WorkflowID id.WorkflowID
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds a failed instance to the dead letter queue.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching opts, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// MarkDLQReplayed records the replay of an entry. It fails with
	// courier.ErrDLQReplayed when the entry was already replayed.
	MarkDLQReplayed(ctx context.Context, entryID id.DLQID, replayID id.InstanceID, at time.Time) error

	// PurgeDLQ removes entries with FailedAt before the given time and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
