package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/courier/audit_hook"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestInstance() *trigger.Instance {
	return &trigger.Instance{
		ID:              id.NewInstanceID(),
		WorkflowID:      id.NewWorkflowID(),
		WorkflowVersion: 2,
		IdempotencyKey:  "order-42",
		CursorNodeID:    id.NewNodeID(),
		Attempts:        1,
	}
}

func newTestStep(inst *trigger.Instance) *steplog.Entry {
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return &steplog.Entry{
		ID:         id.NewStepID(),
		InstanceID: inst.ID,
		WorkflowID: inst.WorkflowID,
		NodeID:     inst.CursorNodeID,
		NodeKey:    "welcome",
		NodeType:   workflow.NodeEmail,
		Attempt:    2,
		Outcome:    steplog.OutcomeAdvanced,
		StartedAt:  started,
		FinishedAt: started.Add(120 * time.Millisecond),
	}
}

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Instance lifecycle tests ─────────────────────────

func TestExtension_InstanceIngested(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	inst := newTestInstance()

	if err := e.OnInstanceIngested(context.Background(), inst); err != nil {
		t.Fatalf("OnInstanceIngested: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionInstanceIngested {
		t.Errorf("Action: want %q, got %q", ah.ActionInstanceIngested, evt.Action)
	}
	if evt.Resource != ah.ResourceInstance {
		t.Errorf("Resource: want %q, got %q", ah.ResourceInstance, evt.Resource)
	}
	if evt.Category != ah.CategoryInstance {
		t.Errorf("Category: want %q, got %q", ah.CategoryInstance, evt.Category)
	}
	if evt.ResourceID != inst.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", inst.ID.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["idempotency_key"] != "order-42" {
		t.Errorf("Metadata[idempotency_key]: got %v", evt.Metadata["idempotency_key"])
	}
	if evt.Metadata["workflow_version"] != 2 {
		t.Errorf("Metadata[workflow_version]: got %v", evt.Metadata["workflow_version"])
	}
}

func TestExtension_InstanceRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	inst := newTestInstance()
	inst.LastError = "smtp: 421"
	next := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)

	if err := e.OnInstanceRetrying(context.Background(), inst, 2, next); err != nil {
		t.Fatalf("OnInstanceRetrying: %v", err)
	}
	evt := rec.last()
	if evt.Severity != ah.SeverityWarning || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: got %v", evt.Metadata["attempt"])
	}
	if evt.Metadata["next_run_at"] != "2026-01-01T12:00:30Z" {
		t.Errorf("Metadata[next_run_at]: got %v", evt.Metadata["next_run_at"])
	}
}

func TestExtension_InstanceFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnInstanceFailed(context.Background(), newTestInstance(), errors.New("no branch matched")); err != nil {
		t.Fatalf("OnInstanceFailed: %v", err)
	}
	evt := rec.last()
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Reason != "no branch matched" {
		t.Errorf("Reason: got %q", evt.Reason)
	}
	if evt.Metadata["error"] != "no branch matched" {
		t.Errorf("Metadata[error]: got %v", evt.Metadata["error"])
	}
}

func TestExtension_InstanceDLQ(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	inst := newTestInstance()
	entry := &dlq.Entry{ID: id.NewDLQID(), InstanceID: inst.ID, Error: "budget exhausted"}

	if err := e.OnInstanceDLQ(context.Background(), inst, entry); err != nil {
		t.Fatalf("OnInstanceDLQ: %v", err)
	}
	evt := rec.last()
	if evt.Metadata["dlq_id"] != entry.ID.String() {
		t.Errorf("Metadata[dlq_id]: got %v", evt.Metadata["dlq_id"])
	}
}

// ── Step tests ───────────────────────────────────────

func TestExtension_StepCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	inst := newTestInstance()
	step := newTestStep(inst)

	if err := e.OnStepCompleted(context.Background(), inst, step); err != nil {
		t.Fatalf("OnStepCompleted: %v", err)
	}
	evt := rec.last()
	if evt.Resource != ah.ResourceStep || evt.ResourceID != step.ID.String() {
		t.Errorf("Resource: got %q %q", evt.Resource, evt.ResourceID)
	}
	if evt.Metadata["node_key"] != "welcome" {
		t.Errorf("Metadata[node_key]: got %v", evt.Metadata["node_key"])
	}
	if evt.Metadata["elapsed_ms"] != int64(120) {
		t.Errorf("Metadata[elapsed_ms]: got %v", evt.Metadata["elapsed_ms"])
	}
}

// ── Cron tests ───────────────────────────────────────

func TestExtension_CronFired_SkipsCollapsedTicks(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	inst := newTestInstance()

	_ = e.OnCronFired(ctx, "daily-digest", inst, false)
	if rec.count() != 0 {
		t.Fatalf("collapsed tick recorded %d events", rec.count())
	}
	_ = e.OnCronFired(ctx, "daily-digest", inst, true)
	evt := rec.last()
	if evt == nil || evt.ResourceID != "daily-digest" {
		t.Fatalf("cron event = %+v", evt)
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionInstanceCompleted, ah.ActionInstanceFailed))

	ctx := context.Background()
	inst := newTestInstance()

	// Ingested is not enabled and is skipped.
	if err := e.OnInstanceIngested(ctx, inst); err != nil {
		t.Fatalf("OnInstanceIngested: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (ingested disabled), got %d", rec.count())
	}

	if err := e.OnInstanceCompleted(ctx, inst, 50*time.Millisecond); err != nil {
		t.Fatalf("OnInstanceCompleted: %v", err)
	}
	if err := e.OnInstanceFailed(ctx, inst, errors.New("boom")); err != nil {
		t.Fatalf("OnInstanceFailed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failingRecorder)
	if err := e.OnInstanceIngested(context.Background(), newTestInstance()); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	inst := newTestInstance()
	step := newTestStep(inst)

	reg.EmitInstanceIngested(ctx, inst)
	reg.EmitInstanceRetrying(ctx, inst, 1, time.Now())
	reg.EmitInstanceCompleted(ctx, inst, time.Second)
	reg.EmitInstanceFailed(ctx, inst, errors.New("fail"))
	reg.EmitInstanceCancelled(ctx, inst)
	reg.EmitInstanceDLQ(ctx, inst, &dlq.Entry{ID: id.NewDLQID()})
	reg.EmitStepCompleted(ctx, inst, step)
	reg.EmitStepFailed(ctx, inst, step, errors.New("bad"))
	reg.EmitCronFired(ctx, "hourly", inst, true)

	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}
	for _, action := range allActions {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}
