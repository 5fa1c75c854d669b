package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
)

// PushDLQ adds a failed instance to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = copyDLQ(entry)
	return nil
}

// ListDLQ returns entries matching opts, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*dlq.Entry
	for _, e := range m.dlqs {
		if !opts.WorkflowID.IsNil() && e.WorkflowID != opts.WorkflowID {
			continue
		}
		out = append(out, copyDLQ(e))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FailedAt.After(out[j].FailedAt)
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, courier.ErrDLQNotFound
	}
	return copyDLQ(e), nil
}

// MarkDLQReplayed records the replay of an entry.
func (m *Store) MarkDLQReplayed(_ context.Context, entryID id.DLQID, replayID id.InstanceID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return courier.ErrDLQNotFound
	}
	if e.ReplayedAt != nil {
		return courier.ErrDLQReplayed
	}
	t := at
	e.ReplayedAt = &t
	e.ReplayInstanceID = replayID
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

func copyDLQ(e *dlq.Entry) *dlq.Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.ReplayedAt != nil {
		t := *e.ReplayedAt
		cp.ReplayedAt = &t
	}
	return &cp
}
