// Package storetest holds the behavioural contract every store.Store backend
// must satisfy. Backends run it from their own tests:
//
//	func TestContract(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

// Factory returns an empty, migrated store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"WorkflowCreateAndRead", testWorkflowCreateAndRead},
		{"WorkflowActivation", testWorkflowActivation},
		{"InstanceIdempotency", testInstanceIdempotency},
		{"ClaimOrderAndAvailability", testClaimOrderAndAvailability},
		{"ExclusiveClaim", testExclusiveClaim},
		{"CancelBeforeClaim", testCancelBeforeClaim},
		{"CommitStep", testCommitStep},
		{"CommitStepClaimLost", testCommitStepClaimLost},
		{"CommitStepPendingCancel", testCommitStepPendingCancel},
		{"HeartbeatAndReleaseStale", testHeartbeatAndReleaseStale},
		{"ListInstances", testListInstances},
		{"DLQ", testDLQ},
		{"Cron", testCron},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

// Graph builds a two-node email -> terminal graph under code.
func Graph(t *testing.T, code string, version int) *workflow.Graph {
	t.Helper()
	d := &workflow.Draft{
		Code:  code,
		Name:  code,
		Entry: "welcome",
		Nodes: []workflow.DraftNode{
			{Key: "welcome", Type: workflow.NodeEmail, Config: map[string]any{
				"to": "${payload.email}", "subject": "Hi", "body": "Welcome",
			}},
			{Key: "done", Type: workflow.NodeTerminal},
		},
		Edges: []workflow.DraftEdge{{From: "welcome", To: "done"}},
	}
	g, err := d.Build(version)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func mustCreate(t *testing.T, s store.Store, g *workflow.Graph) {
	t.Helper()
	if err := s.CreateWorkflow(context.Background(), g); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
}

func newInstance(wfID id.WorkflowID, key string, availableAt time.Time) *trigger.Instance {
	return &trigger.Instance{
		Entity:          courier.NewEntity(),
		ID:              id.NewInstanceID(),
		WorkflowID:      wfID,
		WorkflowVersion: 1,
		IdempotencyKey:  key,
		Status:          trigger.StatusEnqueued,
		AvailableAt:     availableAt,
		Payload:         json.RawMessage(`{"email":"a@example.com"}`),
	}
}

func mustInsert(t *testing.T, s store.Store, inst *trigger.Instance) {
	t.Helper()
	if _, created, err := s.CreateInstance(context.Background(), inst); err != nil || !created {
		t.Fatalf("CreateInstance: created=%v err=%v", created, err)
	}
}

func mustClaim(t *testing.T, s store.Store, workerID id.WorkerID, now time.Time) *trigger.Instance {
	t.Helper()
	inst, err := s.ClaimNext(context.Background(), workerID, now)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if inst == nil {
		t.Fatal("ClaimNext: nothing claimed")
	}
	return inst
}

func stepEntry(inst *trigger.Instance, outcome steplog.Outcome, at time.Time) *steplog.Entry {
	return &steplog.Entry{
		ID:         id.NewStepID(),
		InstanceID: inst.ID,
		WorkflowID: inst.WorkflowID,
		NodeKey:    "welcome",
		NodeType:   workflow.NodeEmail,
		Attempt:    inst.Attempts + 1,
		StartedAt:  at,
		FinishedAt: at,
		Success:    true,
		Outcome:    outcome,
	}
}

// ──────────────────────────────────────────────────
// Workflow definitions
// ──────────────────────────────────────────────────

func testWorkflowCreateAndRead(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := Graph(t, "welcome", 1)
	mustCreate(t, s, g)

	if err := s.CreateWorkflow(ctx, Graph(t, "welcome", 1)); !errors.Is(err, courier.ErrWorkflowExists) {
		t.Fatalf("duplicate version: expected ErrWorkflowExists, got %v", err)
	}

	wf, err := s.GetWorkflow(ctx, g.Workflow.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if wf.Code != "welcome" || wf.Version != 1 || wf.EntryNodeID != g.Workflow.EntryNodeID {
		t.Fatalf("unexpected workflow %+v", wf)
	}

	if _, err := s.GetActiveWorkflow(ctx, g.Workflow.ID); !errors.Is(err, courier.ErrWorkflowNotActive) {
		t.Fatalf("expected ErrWorkflowNotActive, got %v", err)
	}
	if _, err := s.GetActiveWorkflow(ctx, id.NewWorkflowID()); !errors.Is(err, courier.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}

	entry := g.NodeByKey("welcome")
	n, err := s.GetNode(ctx, g.Workflow.ID, entry.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if n.Type != workflow.NodeEmail || n.Key != "welcome" || len(n.Config) == 0 {
		t.Fatalf("unexpected node %+v", n)
	}
	if _, err := s.GetNode(ctx, id.NewWorkflowID(), entry.ID); !errors.Is(err, courier.ErrNodeNotFound) {
		t.Fatalf("node of another workflow: expected ErrNodeNotFound, got %v", err)
	}

	edges, err := s.GetOutgoingEdges(ctx, g.Workflow.ID, entry.ID)
	if err != nil {
		t.Fatalf("GetOutgoingEdges: %v", err)
	}
	if len(edges) != 1 || edges[0].ToNodeID != g.NodeByKey("done").ID {
		t.Fatalf("unexpected edges %+v", edges)
	}

	nodes, err := s.ListNodes(ctx, g.Workflow.ID)
	if err != nil || len(nodes) != 2 {
		t.Fatalf("ListNodes: %d nodes, err=%v", len(nodes), err)
	}
	all, err := s.ListEdges(ctx, g.Workflow.ID)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListEdges: %d edges, err=%v", len(all), err)
	}
}

func testWorkflowActivation(t *testing.T, s store.Store) {
	ctx := context.Background()
	v1 := Graph(t, "digest", 1)
	v2 := Graph(t, "digest", 2)
	mustCreate(t, s, v1)
	mustCreate(t, s, v2)

	latest, err := s.GetLatestWorkflow(ctx, "digest")
	if err != nil || latest.ID != v2.Workflow.ID {
		t.Fatalf("GetLatestWorkflow: %v, %v", latest, err)
	}
	if _, err := s.GetLatestWorkflow(ctx, "missing"); !errors.Is(err, courier.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}

	if err := s.ActivateWorkflow(ctx, v1.Workflow.ID); err != nil {
		t.Fatalf("Activate v1: %v", err)
	}
	if err := s.ActivateWorkflow(ctx, v2.Workflow.ID); err != nil {
		t.Fatalf("Activate v2: %v", err)
	}
	if _, err := s.GetActiveWorkflow(ctx, v1.Workflow.ID); !errors.Is(err, courier.ErrWorkflowNotActive) {
		t.Fatalf("v1 should be deactivated, got %v", err)
	}
	if _, err := s.GetActiveWorkflow(ctx, v2.Workflow.ID); err != nil {
		t.Fatalf("v2 should be active: %v", err)
	}

	active, err := s.ListWorkflows(ctx, workflow.ListOpts{Code: "digest", ActiveOnly: true})
	if err != nil || len(active) != 1 || active[0].Version != 2 {
		t.Fatalf("ListWorkflows active: %v, %v", active, err)
	}
	versions, err := s.ListWorkflows(ctx, workflow.ListOpts{Code: "digest"})
	if err != nil || len(versions) != 2 || versions[0].Version != 2 {
		t.Fatalf("ListWorkflows: %v, %v", versions, err)
	}

	if err := s.DeactivateWorkflow(ctx, v2.Workflow.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := s.GetActiveWorkflow(ctx, v2.Workflow.ID); !errors.Is(err, courier.ErrWorkflowNotActive) {
		t.Fatalf("expected ErrWorkflowNotActive, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Instances and claims
// ──────────────────────────────────────────────────

func testInstanceIdempotency(t *testing.T, s store.Store) {
	ctx := context.Background()
	wfID := id.NewWorkflowID()
	now := time.Now().UTC()

	first := newInstance(wfID, "order-42", now)
	got, created, err := s.CreateInstance(ctx, first)
	if err != nil || !created || got.ID != first.ID {
		t.Fatalf("first CreateInstance: created=%v err=%v", created, err)
	}

	dup := newInstance(wfID, "order-42", now)
	got, created, err = s.CreateInstance(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate CreateInstance: %v", err)
	}
	if created {
		t.Fatal("duplicate key must not create a second instance")
	}
	if got.ID != first.ID {
		t.Fatalf("duplicate returned %s, want %s", got.ID, first.ID)
	}

	// Same key under another workflow is a different instance.
	other := newInstance(id.NewWorkflowID(), "order-42", now)
	if _, created, err := s.CreateInstance(ctx, other); err != nil || !created {
		t.Fatalf("other workflow: created=%v err=%v", created, err)
	}

	byKey, err := s.GetInstanceByKey(ctx, wfID, "order-42")
	if err != nil || byKey.ID != first.ID {
		t.Fatalf("GetInstanceByKey: %v, %v", byKey, err)
	}
	if _, err := s.GetInstanceByKey(ctx, wfID, "nope"); !errors.Is(err, courier.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
	if _, err := s.GetInstance(ctx, id.NewInstanceID()); !errors.Is(err, courier.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}

	n, err := s.CountInstances(ctx, trigger.CountOpts{WorkflowID: wfID})
	if err != nil || n != 1 {
		t.Fatalf("CountInstances = %d, %v; want 1", n, err)
	}
}

func testClaimOrderAndAvailability(t *testing.T, s store.Store) {
	ctx := context.Background()
	wfID := id.NewWorkflowID()
	now := time.Now().UTC().Truncate(time.Millisecond)
	workerID := id.NewWorkerID()

	later := newInstance(wfID, "later", now.Add(-time.Second))
	earlier := newInstance(wfID, "earlier", now.Add(-time.Minute))
	future := newInstance(wfID, "future", now.Add(time.Minute))
	mustInsert(t, s, later)
	mustInsert(t, s, earlier)
	mustInsert(t, s, future)

	first := mustClaim(t, s, workerID, now)
	if first.ID != earlier.ID {
		t.Fatalf("first claim = %s, want earliest available %s", first.IdempotencyKey, earlier.IdempotencyKey)
	}
	if first.Status != trigger.StatusProcessing || first.WorkerID != workerID || first.ClaimedAt == nil {
		t.Fatalf("claimed instance not owned: %+v", first)
	}

	second := mustClaim(t, s, workerID, now)
	if second.ID != later.ID {
		t.Fatalf("second claim = %s, want %s", second.IdempotencyKey, later.IdempotencyKey)
	}

	none, err := s.ClaimNext(ctx, workerID, now)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if none != nil {
		t.Fatalf("future instance claimed early: %s", none.IdempotencyKey)
	}

	due := mustClaim(t, s, workerID, now.Add(2*time.Minute))
	if due.ID != future.ID {
		t.Fatalf("claim after availability = %s, want %s", due.IdempotencyKey, future.IdempotencyKey)
	}
}

func testExclusiveClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	wfID := id.NewWorkflowID()
	now := time.Now().UTC()

	const instances = 40
	const claimers = 8
	for i := range instances {
		mustInsert(t, s, newInstance(wfID, fmt.Sprintf("k-%d", i), now.Add(-time.Second)))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
		errs    = make(chan error, claimers)
	)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerID := id.NewWorkerID()
			for {
				inst, err := s.ClaimNext(ctx, workerID, now)
				if err != nil {
					errs <- err
					return
				}
				if inst == nil {
					return
				}
				mu.Lock()
				claimed[inst.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent ClaimNext: %v", err)
	}

	if len(claimed) != instances {
		t.Fatalf("claimed %d distinct instances, want %d", len(claimed), instances)
	}
	for key, n := range claimed {
		if n != 1 {
			t.Fatalf("instance %s claimed %d times", key, n)
		}
	}
}

func testCancelBeforeClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	wfID := id.NewWorkflowID()
	now := time.Now().UTC()

	inst := newInstance(wfID, "cancel-me", now.Add(-time.Second))
	mustInsert(t, s, inst)

	cancelled, err := s.CancelInstance(ctx, inst.ID, now)
	if err != nil {
		t.Fatalf("CancelInstance: %v", err)
	}
	if cancelled.Status != trigger.StatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("enqueued instance not finalized: %+v", cancelled)
	}

	if got, err := s.ClaimNext(ctx, id.NewWorkerID(), now); err != nil || got != nil {
		t.Fatalf("cancelled instance claimable: %v, %v", got, err)
	}
	if _, err := s.CancelInstance(ctx, inst.ID, now); !errors.Is(err, courier.ErrInvalidState) {
		t.Fatalf("cancel terminal: expected ErrInvalidState, got %v", err)
	}
	if _, err := s.CancelInstance(ctx, id.NewInstanceID(), now); !errors.Is(err, courier.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Step commits
// ──────────────────────────────────────────────────

func testCommitStep(t *testing.T, s store.Store) {
	ctx := context.Background()
	wfID := id.NewWorkflowID()
	now := time.Now().UTC().Truncate(time.Millisecond)
	workerID := id.NewWorkerID()

	mustInsert(t, s, newInstance(wfID, "commit", now.Add(-time.Second)))
	claimed := mustClaim(t, s, workerID, now)

	next := claimed.Clone()
	next.CursorNodeID = id.NewNodeID()
	next.Status = trigger.StatusEnqueued
	next.AvailableAt = now
	next.Context = map[string]json.RawMessage{"welcome": json.RawMessage(`{"message_id":"m-1"}`)}
	next.Release()
	entry := stepEntry(claimed, steplog.OutcomeAdvanced, now)
	entry.MessageIDs = []string{"m-1"}
	entry.InputContext = json.RawMessage(`{"payload":{}}`)
	entry.OutputContext = json.RawMessage(`{"message_id":"m-1"}`)

	if err := s.CommitStep(ctx, workerID, entry, next); err != nil {
		t.Fatalf("CommitStep: %v", err)
	}

	got, err := s.GetInstance(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Status != trigger.StatusEnqueued || got.CursorNodeID != next.CursorNodeID {
		t.Fatalf("transition not applied: %+v", got)
	}
	if !got.WorkerID.IsNil() {
		t.Fatalf("claim not released: %s", got.WorkerID)
	}
	if string(got.Context["welcome"]) != `{"message_id":"m-1"}` {
		t.Fatalf("context not persisted: %s", got.Context["welcome"])
	}

	logs, err := s.ListStepLogs(ctx, claimed.ID, steplog.ListOpts{})
	if err != nil {
		t.Fatalf("ListStepLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log row, got %d", len(logs))
	}
	row := logs[0]
	if row.ID != entry.ID || row.Outcome != steplog.OutcomeAdvanced || !row.Success {
		t.Fatalf("unexpected log row %+v", row)
	}
	if len(row.MessageIDs) != 1 || row.MessageIDs[0] != "m-1" {
		t.Fatalf("message ids = %v", row.MessageIDs)
	}

	// The claim is gone, so a second commit from the same worker is stale.
	if err := s.CommitStep(ctx, workerID, stepEntry(claimed, steplog.OutcomeAdvanced, now), next); !errors.Is(err, courier.ErrClaimLost) {
		t.Fatalf("commit after release: expected ErrClaimLost, got %v", err)
	}
	if n, _ := s.CountStepLogs(ctx, claimed.ID); n != 1 {
		t.Fatalf("stale commit wrote a log row: %d rows", n)
	}
}

func testCommitStepClaimLost(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	mustInsert(t, s, newInstance(id.NewWorkflowID(), "lost", now.Add(-time.Second)))
	claimed := mustClaim(t, s, id.NewWorkerID(), now)

	next := claimed.Clone()
	next.Finish(trigger.StatusCompleted, now)

	err := s.CommitStep(ctx, id.NewWorkerID(), stepEntry(claimed, steplog.OutcomeCompleted, now), next)
	if !errors.Is(err, courier.ErrClaimLost) {
		t.Fatalf("foreign worker commit: expected ErrClaimLost, got %v", err)
	}

	got, _ := s.GetInstance(ctx, claimed.ID)
	if got.Status != trigger.StatusProcessing {
		t.Fatalf("lost commit changed status to %s", got.Status)
	}
	if n, _ := s.CountStepLogs(ctx, claimed.ID); n != 0 {
		t.Fatalf("lost commit wrote %d log rows", n)
	}
}

func testCommitStepPendingCancel(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	workerID := id.NewWorkerID()

	mustInsert(t, s, newInstance(id.NewWorkflowID(), "cancel-in-flight", now.Add(-time.Second)))
	claimed := mustClaim(t, s, workerID, now)

	flagged, err := s.CancelInstance(ctx, claimed.ID, now)
	if err != nil {
		t.Fatalf("CancelInstance: %v", err)
	}
	if flagged.Status != trigger.StatusProcessing || !flagged.CancelRequested {
		t.Fatalf("processing instance should only be flagged: %+v", flagged)
	}

	next := claimed.Clone()
	next.CursorNodeID = id.NewNodeID()
	next.Status = trigger.StatusEnqueued
	next.Release()
	entry := stepEntry(claimed, steplog.OutcomeAdvanced, now)

	if err := s.CommitStep(ctx, workerID, entry, next); err != nil {
		t.Fatalf("CommitStep: %v", err)
	}
	if next.Status != trigger.StatusCancelled || entry.Outcome != steplog.OutcomeCancelled {
		t.Fatalf("commit did not report cancellation: status=%s outcome=%s", next.Status, entry.Outcome)
	}

	got, _ := s.GetInstance(ctx, claimed.ID)
	if got.Status != trigger.StatusCancelled || !got.CursorNodeID.IsNil() {
		t.Fatalf("instance not cancelled: %+v", got)
	}
	logs, _ := s.ListStepLogs(ctx, claimed.ID, steplog.ListOpts{})
	if len(logs) != 1 || logs[0].Outcome != steplog.OutcomeCancelled {
		t.Fatalf("expected one cancelled log row, got %+v", logs)
	}
}

func testHeartbeatAndReleaseStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	workerID := id.NewWorkerID()
	wfID := id.NewWorkflowID()

	mustInsert(t, s, newInstance(wfID, "stale", now.Add(-time.Hour)))
	mustInsert(t, s, newInstance(wfID, "fresh", now.Add(-time.Minute)))
	stale := mustClaim(t, s, workerID, now.Add(-10*time.Minute))
	fresh := mustClaim(t, s, workerID, now)

	if err := s.HeartbeatInstance(ctx, fresh.ID, workerID, now); err != nil {
		t.Fatalf("HeartbeatInstance: %v", err)
	}
	if err := s.HeartbeatInstance(ctx, fresh.ID, id.NewWorkerID(), now); !errors.Is(err, courier.ErrClaimLost) {
		t.Fatalf("foreign heartbeat: expected ErrClaimLost, got %v", err)
	}

	released, err := s.ReleaseStale(ctx, time.Minute, now)
	if err != nil {
		t.Fatalf("ReleaseStale: %v", err)
	}
	if len(released) != 1 || released[0].ID != stale.ID {
		t.Fatalf("released %v, want only %s", released, stale.ID)
	}

	got, _ := s.GetInstance(ctx, stale.ID)
	if got.Status != trigger.StatusWaiting || !got.WorkerID.IsNil() || got.Attempts != stale.Attempts {
		t.Fatalf("stale instance not returned to waiting untouched: %+v", got)
	}
	if err := s.HeartbeatInstance(ctx, stale.ID, workerID, now); !errors.Is(err, courier.ErrClaimLost) {
		t.Fatalf("heartbeat after release: expected ErrClaimLost, got %v", err)
	}
	kept, _ := s.GetInstance(ctx, fresh.ID)
	if kept.Status != trigger.StatusProcessing {
		t.Fatalf("fresh instance released: %s", kept.Status)
	}
}

func testListInstances(t *testing.T, s store.Store) {
	ctx := context.Background()
	wfID := id.NewWorkflowID()
	now := time.Now().UTC()

	for i := range 3 {
		inst := newInstance(wfID, fmt.Sprintf("list-%d", i), now)
		inst.CreatedAt = now.Add(time.Duration(i) * time.Second)
		mustInsert(t, s, inst)
	}
	mustInsert(t, s, newInstance(id.NewWorkflowID(), "other", now))

	got, err := s.ListInstances(ctx, trigger.ListOpts{WorkflowID: wfID})
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(got) != 3 || got[0].IdempotencyKey != "list-2" {
		t.Fatalf("expected 3 newest-first instances, got %d (first %q)", len(got), got[0].IdempotencyKey)
	}

	paged, err := s.ListInstances(ctx, trigger.ListOpts{WorkflowID: wfID, Limit: 1, Offset: 1})
	if err != nil || len(paged) != 1 || paged[0].IdempotencyKey != "list-1" {
		t.Fatalf("paged list: %v, %v", paged, err)
	}

	n, err := s.CountInstances(ctx, trigger.CountOpts{Status: trigger.StatusEnqueued})
	if err != nil || n != 4 {
		t.Fatalf("CountInstances = %d, %v; want 4", n, err)
	}
}

// ──────────────────────────────────────────────────
// DLQ and cron
// ──────────────────────────────────────────────────

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	wfID := id.NewWorkflowID()

	old := &dlq.Entry{
		ID: id.NewDLQID(), InstanceID: id.NewInstanceID(), WorkflowID: wfID,
		IdempotencyKey: "old", Payload: json.RawMessage(`{}`), Error: "boom",
		Attempts: 3, FailedAt: now.Add(-48 * time.Hour), CreatedAt: now.Add(-48 * time.Hour),
	}
	recent := &dlq.Entry{
		ID: id.NewDLQID(), InstanceID: id.NewInstanceID(), WorkflowID: wfID,
		IdempotencyKey: "recent", Payload: json.RawMessage(`{"a":1}`), Error: "boom",
		Attempts: 3, FailedAt: now, CreatedAt: now,
	}
	for _, e := range []*dlq.Entry{old, recent} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	list, err := s.ListDLQ(ctx, dlq.ListOpts{WorkflowID: wfID})
	if err != nil || len(list) != 2 || list[0].ID != recent.ID {
		t.Fatalf("ListDLQ: %v, %v", list, err)
	}

	replayID := id.NewInstanceID()
	if err := s.MarkDLQReplayed(ctx, recent.ID, replayID, now); err != nil {
		t.Fatalf("MarkDLQReplayed: %v", err)
	}
	if err := s.MarkDLQReplayed(ctx, recent.ID, replayID, now); !errors.Is(err, courier.ErrDLQReplayed) {
		t.Fatalf("second replay: expected ErrDLQReplayed, got %v", err)
	}
	got, err := s.GetDLQ(ctx, recent.ID)
	if err != nil || got.ReplayedAt == nil || got.ReplayInstanceID != replayID {
		t.Fatalf("GetDLQ: %+v, %v", got, err)
	}
	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, courier.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}

	purged, err := s.PurgeDLQ(ctx, now.Add(-time.Hour))
	if err != nil || purged != 1 {
		t.Fatalf("PurgeDLQ = %d, %v; want 1", purged, err)
	}
	if n, _ := s.CountDLQ(ctx); n != 1 {
		t.Fatalf("CountDLQ = %d, want 1", n)
	}
}

func testCron(t *testing.T, s store.Store) {
	ctx := context.Background()
	next := time.Now().UTC().Add(time.Minute).Truncate(time.Second)

	entry := &cron.Entry{
		Entity:     courier.NewEntity(),
		ID:         id.NewCronID(),
		Name:       "daily-digest",
		Schedule:   "0 8 * * *",
		WorkflowID: id.NewWorkflowID(),
		Payload:    json.RawMessage(`{"kind":"digest"}`),
		NextRunAt:  &next,
		Enabled:    true,
	}
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	dup := *entry
	dup.ID = id.NewCronID()
	if err := s.RegisterCron(ctx, &dup); !errors.Is(err, courier.ErrDuplicateCron) {
		t.Fatalf("duplicate name: expected ErrDuplicateCron, got %v", err)
	}

	entry.Enabled = false
	ran := next
	entry.LastRunAt = &ran
	if err := s.UpdateCronEntry(ctx, entry); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}
	got, err := s.GetCron(ctx, entry.ID)
	if err != nil || got.Enabled || got.LastRunAt == nil || !got.LastRunAt.Equal(next) {
		t.Fatalf("GetCron after update: %+v, %v", got, err)
	}

	list, err := s.ListCrons(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListCrons: %v, %v", list, err)
	}
	if err := s.DeleteCron(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if _, err := s.GetCron(ctx, entry.ID); !errors.Is(err, courier.ErrCronNotFound) {
		t.Fatalf("expected ErrCronNotFound, got %v", err)
	}
}
