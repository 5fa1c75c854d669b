package steplog_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/trigger"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func claimed(t *testing.T, s *memory.Store, worker id.WorkerID) *trigger.Instance {
	t.Helper()
	ctx := context.Background()
	inst := &trigger.Instance{
		Entity:         courier.NewEntity(),
		ID:             id.NewInstanceID(),
		WorkflowID:     id.NewWorkflowID(),
		IdempotencyKey: "k-1",
		Status:         trigger.StatusEnqueued,
		AvailableAt:    t0,
		Payload:        json.RawMessage(`{}`),
	}
	if _, _, err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	got, err := s.ClaimNext(ctx, worker, t0)
	if err != nil || got == nil {
		t.Fatalf("ClaimNext: %v %v", got, err)
	}
	return got
}

func entryFor(inst *trigger.Instance) *steplog.Entry {
	return &steplog.Entry{
		InstanceID: inst.ID,
		WorkflowID: inst.WorkflowID,
		NodeID:     id.NewNodeID(),
		NodeKey:    "mail",
		Attempt:    1,
		StartedAt:  t0,
		Success:    true,
		Outcome:    steplog.OutcomeCompleted,
	}
}

func TestRecord_CommitsEntryAndTransition(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := steplog.NewRecorder(s, nil)
	worker := id.NewWorkerID()
	inst := claimed(t, s, worker)

	next := inst.Clone()
	next.Finish(trigger.StatusCompleted, t0)
	entry := entryFor(inst)
	if err := rec.Record(ctx, worker, entry, next); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if entry.ID.IsNil() || entry.FinishedAt.IsZero() {
		t.Error("expected id and finish time to be filled in")
	}
	if entry.WorkerID != worker {
		t.Errorf("worker = %s, want %s", entry.WorkerID, worker)
	}

	logs, err := rec.List(ctx, inst.ID, steplog.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != entry.ID {
		t.Fatalf("expected the recorded entry, got %d entries", len(logs))
	}

	got, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Status != trigger.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestRecord_ClaimLostWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := steplog.NewRecorder(s, nil)
	inst := claimed(t, s, id.NewWorkerID())

	next := inst.Clone()
	next.Finish(trigger.StatusCompleted, t0)
	err := rec.Record(ctx, id.NewWorkerID(), entryFor(inst), next)
	if !errors.Is(err, courier.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}

	n, err := s.CountStepLogs(ctx, inst.ID)
	if err != nil {
		t.Fatalf("CountStepLogs: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no log rows, got %d", n)
	}
	got, _ := s.GetInstance(ctx, inst.ID)
	if got.Status != trigger.StatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
}

func TestRecord_PendingCancelFinalizes(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := steplog.NewRecorder(s, nil)
	worker := id.NewWorkerID()
	inst := claimed(t, s, worker)

	// Cancelling an instance in flight only flags it.
	if _, err := s.CancelInstance(ctx, inst.ID, t0); err != nil {
		t.Fatalf("CancelInstance: %v", err)
	}

	next := inst.Clone()
	next.Status = trigger.StatusEnqueued
	next.CursorNodeID = id.NewNodeID()
	next.Release()
	entry := entryFor(inst)
	entry.Outcome = steplog.OutcomeAdvanced
	if err := rec.Record(ctx, worker, entry, next); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if entry.Outcome != steplog.OutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled", entry.Outcome)
	}
	got, _ := s.GetInstance(ctx, inst.ID)
	if got.Status != trigger.StatusCancelled || !got.CursorNodeID.IsNil() {
		t.Errorf("status = %s cursor = %s, want cancelled with no cursor", got.Status, got.CursorNodeID)
	}
}

func TestEntry_CloneAndDuration(t *testing.T) {
	e := &steplog.Entry{
		StartedAt:     t0,
		FinishedAt:    t0.Add(1500 * time.Millisecond),
		OutputContext: json.RawMessage(`{"a":1}`),
		MessageIDs:    []string{"m-1"},
	}
	if e.Duration() != 1500*time.Millisecond {
		t.Errorf("duration = %v", e.Duration())
	}
	cp := e.Clone()
	cp.OutputContext[2] = 'b'
	cp.MessageIDs[0] = "m-2"
	if string(e.OutputContext) != `{"a":1}` || e.MessageIDs[0] != "m-1" {
		t.Error("clone shares memory with the original")
	}
}
