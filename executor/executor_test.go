package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	deliverymem "github.com/xraph/courier/delivery/memory"
	"github.com/xraph/courier/executor"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/retry"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	store    *memory.Store
	provider *deliverymem.Provider
	exec     *executor.Executor
	graph    *workflow.Graph
	now      time.Time
}

func newHarness(t *testing.T, d *workflow.Draft, maxAttempts int) *harness {
	t.Helper()
	g, err := d.Build(1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s := memory.New()
	if err := s.CreateWorkflow(context.Background(), g); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	h := &harness{store: s, provider: deliverymem.New(), graph: g, now: t0}
	policy := retry.Policy{MaxAttempts: maxAttempts, Backoff: backoff.NewConstant(10 * time.Second)}
	h.exec = executor.New(s, h.provider, policy, nil,
		executor.WithClock(func() time.Time { return h.now }),
	)
	return h
}

// instance returns a processing instance at the entry node.
func (h *harness) instance(payload string) *trigger.Instance {
	claimed := h.now
	return &trigger.Instance{
		Entity:      courier.NewEntity(),
		ID:          id.NewInstanceID(),
		WorkflowID:  h.graph.Workflow.ID,
		Status:      trigger.StatusProcessing,
		AvailableAt: h.now,
		Payload:     json.RawMessage(payload),
		WorkerID:    id.NewWorkerID(),
		ClaimedAt:   &claimed,
	}
}

// claim simulates the store handing the committed state back for the next step.
func claim(next *trigger.Instance) *trigger.Instance {
	inst := next.Clone()
	inst.Status = trigger.StatusProcessing
	inst.WorkerID = id.NewWorkerID()
	return inst
}

func emailThenEnd() *workflow.Draft {
	return &workflow.Draft{
		Code:  "welcome",
		Entry: "mail",
		Nodes: []workflow.DraftNode{
			{Key: "mail", Type: workflow.NodeEmail, Config: map[string]any{
				"to": "${payload.email}", "subject": "Hi ${payload.name}", "body": "Welcome",
			}},
			{Key: "end", Type: workflow.NodeTerminal},
		},
		Edges: []workflow.DraftEdge{{From: "mail", To: "end"}},
	}
}

func TestExecuteStep_EmailAdvancesCursor(t *testing.T) {
	h := newHarness(t, emailThenEnd(), 3)
	inst := h.instance(`{"email":"x@example.com","name":"Ada"}`)

	out := h.exec.ExecuteStep(context.Background(), inst)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}

	msgs := h.provider.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Target != "x@example.com" || msgs[0].Content.Subject != "Hi Ada" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}

	end := h.graph.NodeByKey("end")
	if out.Next.CursorNodeID != end.ID {
		t.Errorf("cursor = %s, want %s", out.Next.CursorNodeID, end.ID)
	}
	if out.Next.Status != trigger.StatusEnqueued {
		t.Errorf("status = %s, want enqueued", out.Next.Status)
	}
	if !out.Next.AvailableAt.Equal(h.now) {
		t.Errorf("available_at = %v, want now", out.Next.AvailableAt)
	}
	if !out.Next.WorkerID.IsNil() {
		t.Error("expected claim to be released")
	}
	if _, ok := out.Next.Context["mail"]; !ok {
		t.Error("expected mail output in context")
	}

	e := out.Entry
	if !e.Success || e.Attempt != 1 || e.Outcome != steplog.OutcomeAdvanced {
		t.Errorf("unexpected entry: success=%v attempt=%d outcome=%s", e.Success, e.Attempt, e.Outcome)
	}
	if len(e.MessageIDs) != 1 || e.MessageIDs[0] != msgs[0].ID {
		t.Errorf("message ids = %v", e.MessageIDs)
	}
	if !strings.Contains(string(e.InputContext), `"node":"mail"`) {
		t.Errorf("input context = %s", e.InputContext)
	}

	// The terminal node completes the instance.
	out = h.exec.ExecuteStep(context.Background(), claim(out.Next))
	if out.Err != nil {
		t.Fatalf("terminal step: %v", out.Err)
	}
	if out.Next.Status != trigger.StatusCompleted || out.Entry.Outcome != steplog.OutcomeCompleted {
		t.Errorf("status = %s outcome = %s, want completed", out.Next.Status, out.Entry.Outcome)
	}
	if !out.Next.CursorNodeID.IsNil() || out.Next.CompletedAt == nil {
		t.Error("expected cursor cleared and completed_at set")
	}
}

func TestExecuteStep_DelayParksWithoutAdvancing(t *testing.T) {
	h := newHarness(t, &workflow.Draft{
		Code:  "later",
		Entry: "wait",
		Nodes: []workflow.DraftNode{
			{Key: "wait", Type: workflow.NodeDelay, Config: map[string]any{"seconds": 60}},
			{Key: "end", Type: workflow.NodeTerminal},
		},
		Edges: []workflow.DraftEdge{{From: "wait", To: "end"}},
	}, 3)
	inst := h.instance(`{}`)

	out := h.exec.ExecuteStep(context.Background(), inst)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	want := t0.Add(60 * time.Second)
	if out.Next.Status != trigger.StatusWaiting || !out.Next.AvailableAt.Equal(want) {
		t.Errorf("status = %s available_at = %v, want waiting at %v", out.Next.Status, out.Next.AvailableAt, want)
	}
	if out.Next.CursorNodeID != inst.CursorNodeID {
		t.Error("delay must not advance the cursor")
	}
	if out.Entry.Outcome != steplog.OutcomeWaiting {
		t.Errorf("outcome = %s, want waiting", out.Entry.Outcome)
	}

	// Claimed early, the delay stays armed at the same deadline.
	h.now = t0.Add(30 * time.Second)
	early := h.exec.ExecuteStep(context.Background(), claim(out.Next))
	if early.Next.Status != trigger.StatusWaiting || !early.Next.AvailableAt.Equal(want) {
		t.Errorf("early claim moved the deadline: %s %v", early.Next.Status, early.Next.AvailableAt)
	}

	h.now = want
	done := h.exec.ExecuteStep(context.Background(), claim(out.Next))
	if done.Err != nil {
		t.Fatalf("unexpected error: %v", done.Err)
	}
	if done.Next.CursorNodeID != h.graph.NodeByKey("end").ID || done.Next.DelayUntil != nil {
		t.Error("expected cursor at end with delay disarmed")
	}
}

func branchDraft() *workflow.Draft {
	return &workflow.Draft{
		Code:  "route",
		Entry: "route",
		Nodes: []workflow.DraftNode{
			{Key: "route", Type: workflow.NodeBranch},
			{Key: "gold", Type: workflow.NodeTerminal},
			{Key: "silver", Type: workflow.NodeTerminal},
		},
		Edges: []workflow.DraftEdge{
			{From: "route", To: "gold", Condition: `payload.tier == "gold"`},
			{From: "route", To: "silver", Condition: `payload.tier == "silver"`},
		},
	}
}

func TestExecuteStep_BranchFirstMatchWins(t *testing.T) {
	h := newHarness(t, branchDraft(), 3)

	out := h.exec.ExecuteStep(context.Background(), h.instance(`{"tier":"silver"}`))
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Next.CursorNodeID != h.graph.NodeByKey("silver").ID {
		t.Errorf("branch routed to %s, want silver", out.Next.CursorNodeID)
	}
}

func TestExecuteStep_NoBranchMatchedFailsPermanently(t *testing.T) {
	h := newHarness(t, branchDraft(), 3)

	out := h.exec.ExecuteStep(context.Background(), h.instance(`{"tier":"bronze"}`))
	if !errors.Is(out.Err, courier.ErrNoBranchMatched) {
		t.Fatalf("expected ErrNoBranchMatched, got %v", out.Err)
	}
	if out.Next.Status != trigger.StatusFailed || out.Next.Attempts != 1 {
		t.Errorf("status = %s attempts = %d, want failed after 1", out.Next.Status, out.Next.Attempts)
	}
	if out.Entry.Success || out.Entry.Retryable || out.Entry.Outcome != steplog.OutcomeFailed {
		t.Errorf("unexpected entry: %+v", out.Entry)
	}
}

func TestExecuteStep_TransientFailureRetriesThenExhausts(t *testing.T) {
	h := newHarness(t, emailThenEnd(), 2)
	h.provider.Fail = func(int, string) error { return errors.New("smtp unavailable") }
	inst := h.instance(`{"email":"x@example.com"}`)

	out := h.exec.ExecuteStep(context.Background(), inst)
	if out.Next.Status != trigger.StatusWaiting || out.Next.Attempts != 1 {
		t.Fatalf("status = %s attempts = %d, want waiting after 1", out.Next.Status, out.Next.Attempts)
	}
	if !out.Next.AvailableAt.Equal(t0.Add(10 * time.Second)) {
		t.Errorf("available_at = %v, want now+10s", out.Next.AvailableAt)
	}
	if out.Next.CursorNodeID != inst.CursorNodeID {
		t.Error("retry must not advance the cursor")
	}
	if !out.Entry.Retryable || out.Entry.Outcome != steplog.OutcomeRetrying {
		t.Errorf("unexpected entry: retryable=%v outcome=%s", out.Entry.Retryable, out.Entry.Outcome)
	}

	out = h.exec.ExecuteStep(context.Background(), claim(out.Next))
	if !errors.Is(out.Err, courier.ErrRetryBudgetExhausted) {
		t.Fatalf("expected ErrRetryBudgetExhausted, got %v", out.Err)
	}
	if out.Entry.Attempt != 2 || out.Next.Status != trigger.StatusFailed {
		t.Errorf("attempt = %d status = %s, want failed on attempt 2", out.Entry.Attempt, out.Next.Status)
	}
	if h.provider.Calls() != 2 {
		t.Errorf("expected 2 provider calls, got %d", h.provider.Calls())
	}
}

func TestExecuteStep_EmptyRecipientIsPermanent(t *testing.T) {
	h := newHarness(t, emailThenEnd(), 5)

	out := h.exec.ExecuteStep(context.Background(), h.instance(`{"email":""}`))
	if out.Err == nil || courier.IsRetryable(out.Err) {
		t.Fatalf("expected permanent error, got %v", out.Err)
	}
	if out.Next.Status != trigger.StatusFailed {
		t.Errorf("status = %s, want failed", out.Next.Status)
	}
	if h.provider.Calls() != 0 {
		t.Error("provider must not be called")
	}
}

func TestExecuteStep_LoopIterationLimit(t *testing.T) {
	h := newHarness(t, &workflow.Draft{
		Code:  "nag",
		Entry: "remind",
		Nodes: []workflow.DraftNode{
			{Key: "remind", Type: workflow.NodeSMS, Config: map[string]any{
				"to": "${payload.phone}", "body": "ping", "loop": true, "max_iterations": 2,
			}},
		},
		Edges: []workflow.DraftEdge{{From: "remind", To: "remind"}},
	}, 3)

	inst := h.instance(`{"phone":"+15550100"}`)
	for i := 1; i <= 2; i++ {
		out := h.exec.ExecuteStep(context.Background(), inst)
		if out.Err != nil {
			t.Fatalf("iteration %d: %v", i, out.Err)
		}
		if got := out.Next.Iterations["remind"]; got != i {
			t.Errorf("iterations = %d, want %d", got, i)
		}
		inst = claim(out.Next)
	}

	out := h.exec.ExecuteStep(context.Background(), inst)
	if !errors.Is(out.Err, courier.ErrIterationLimit) {
		t.Fatalf("expected ErrIterationLimit, got %v", out.Err)
	}
	if out.Next.Status != trigger.StatusFailed {
		t.Errorf("status = %s, want failed", out.Next.Status)
	}
	if len(h.provider.Messages()) != 2 {
		t.Errorf("expected 2 messages, got %d", len(h.provider.Messages()))
	}
}
