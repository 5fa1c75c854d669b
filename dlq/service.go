package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

// Ingester creates instances. trigger.Ingestor satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, workflowID id.WorkflowID, key string, payload json.RawMessage) (*trigger.Instance, bool, error)
}

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	ingester Ingester
}

// NewService creates a DLQ service.
func NewService(store Store, ingester Ingester) *Service {
	return &Service{store: store, ingester: ingester}
}

// Push captures a failed instance.
func (s *Service) Push(ctx context.Context, inst *trigger.Instance, nodeID id.NodeID, reason error) (*Entry, error) {
	now := time.Now().UTC()
	msg := inst.LastError
	if reason != nil {
		msg = reason.Error()
	}
	entry := &Entry{
		ID:             id.NewDLQID(),
		InstanceID:     inst.ID,
		WorkflowID:     inst.WorkflowID,
		IdempotencyKey: inst.IdempotencyKey,
		NodeID:         nodeID,
		Payload:        inst.Payload,
		Error:          msg,
		Attempts:       inst.Attempts,
		FailedAt:       now,
		CreatedAt:      now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReplayKey is the idempotency key a replay of entry is ingested under.
func ReplayKey(entry *Entry) string {
	key := fmt.Sprintf("%s#replay-%s", entry.IdempotencyKey, entry.ID)
	if len(key) > trigger.MaxKeyLength {
		key = "replay-" + entry.ID.String()
	}
	return key
}

// Replay ingests a fresh instance of the entry's workflow with the original
// payload and marks the entry replayed. The workflow must still be active.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*trigger.Instance, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, courier.ErrDLQReplayed
	}

	inst, _, err := s.ingester.Ingest(ctx, entry.WorkflowID, ReplayKey(entry), entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("dlq: replay %s: %w", entryID, err)
	}

	err = s.store.MarkDLQReplayed(ctx, entryID, inst.ID, time.Now().UTC())
	if err != nil && !errors.Is(err, courier.ErrDLQReplayed) {
		// The instance exists; the replay key keeps a retry from duplicating it.
		return inst, err
	}
	return inst, nil
}

// Store returns the underlying DLQ store for List, Get, Purge and Count.
func (s *Service) Store() Store {
	return s.store
}
