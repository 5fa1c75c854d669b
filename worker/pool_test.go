package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/delivery"
	deliverymem "github.com/xraph/courier/delivery/memory"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/executor"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/retry"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/storetest"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/worker"
	"github.com/xraph/courier/workflow"
)

// lifecycleExt records terminal lifecycle events.
type lifecycleExt struct {
	mu        sync.Mutex
	completed int
	failed    int
	dlq       int
	steps     int
}

func (e *lifecycleExt) Name() string { return "lifecycle" }

func (e *lifecycleExt) OnInstanceCompleted(_ context.Context, _ *trigger.Instance, _ time.Duration) error {
	e.mu.Lock()
	e.completed++
	e.mu.Unlock()
	return nil
}

func (e *lifecycleExt) OnInstanceFailed(_ context.Context, _ *trigger.Instance, _ error) error {
	e.mu.Lock()
	e.failed++
	e.mu.Unlock()
	return nil
}

func (e *lifecycleExt) OnInstanceDLQ(_ context.Context, _ *trigger.Instance, _ *dlq.Entry) error {
	e.mu.Lock()
	e.dlq++
	e.mu.Unlock()
	return nil
}

func (e *lifecycleExt) OnStepCompleted(_ context.Context, _ *trigger.Instance, _ *steplog.Entry) error {
	e.mu.Lock()
	e.steps++
	e.mu.Unlock()
	return nil
}

func (e *lifecycleExt) counts() (completed, failed, dlqs, steps int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed, e.failed, e.dlq, e.steps
}

type harness struct {
	store    *memory.Store
	graph    *workflow.Graph
	ingestor *trigger.Ingestor
	provider *deliverymem.Provider
	ext      *lifecycleExt
	pool     *worker.Pool
}

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration) *harness {
	t.Helper()
	logger := slog.Default()
	ctx := context.Background()

	s := memory.New()
	g := storetest.Graph(t, "welcome", 1)
	if err := s.CreateWorkflow(ctx, g); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if err := s.ActivateWorkflow(ctx, g.Workflow.ID); err != nil {
		t.Fatalf("ActivateWorkflow: %v", err)
	}

	provider := deliverymem.New()
	extensions := ext.NewRegistry(logger)
	le := &lifecycleExt{}
	extensions.Register(le)

	ingestor := trigger.NewIngestor(s, s, logger)
	policy := retry.Policy{MaxAttempts: 3, Backoff: backoff.NewConstant(0)}
	exec := executor.New(s, provider, policy, logger,
		executor.WithMiddleware(middleware.Recover(logger)),
	)
	proc := worker.NewProcessor(exec, steplog.NewRecorder(s, logger), dlq.NewService(s, ingestor), extensions, logger)
	pool := worker.NewPool(s, proc, logger,
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
	)

	return &harness{store: s, graph: g, ingestor: ingestor, provider: provider, ext: le, pool: pool}
}

func (h *harness) ingest(t *testing.T, key string) *trigger.Instance {
	t.Helper()
	inst, _, err := h.ingestor.Ingest(context.Background(), h.graph.Workflow.ID, key,
		json.RawMessage(fmt.Sprintf(`{"email":"%s@example.com"}`, key)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return inst
}

func TestPool_StartStop(t *testing.T) {
	h := setupTestPool(t, 2, 50*time.Millisecond)

	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_RunPendingCompletesInstance(t *testing.T) {
	h := setupTestPool(t, 1, 10*time.Millisecond)
	inst := h.ingest(t, "alice")
	ctx := context.Background()

	steps, err := h.pool.RunPending(ctx)
	if err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	if steps != 2 {
		t.Fatalf("steps = %d, want 2 (email, terminal)", steps)
	}

	got, _ := h.store.GetInstance(ctx, inst.ID)
	if got.Status != trigger.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	logs, _ := h.store.ListStepLogs(ctx, inst.ID, steplog.ListOpts{})
	if len(logs) != 2 {
		t.Fatalf("log rows = %d, want 2", len(logs))
	}
	if logs[0].Outcome != steplog.OutcomeAdvanced || logs[1].Outcome != steplog.OutcomeCompleted {
		t.Fatalf("outcomes = %s, %s", logs[0].Outcome, logs[1].Outcome)
	}

	msgs := h.provider.Messages()
	if len(msgs) != 1 || msgs[0].Target != "alice@example.com" || msgs[0].Channel != delivery.ChannelEmail {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	completed, _, _, stepEvents := h.ext.counts()
	if completed != 1 || stepEvents != 2 {
		t.Fatalf("events: completed=%d steps=%d", completed, stepEvents)
	}
}

func TestPool_ProcessesConcurrently(t *testing.T) {
	h := setupTestPool(t, 4, 10*time.Millisecond)
	ctx := context.Background()

	const total = 20
	for i := range total {
		h.ingest(t, fmt.Sprintf("user-%d", i))
	}

	if err := h.pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		n, err := h.store.CountInstances(ctx, trigger.CountOpts{Status: trigger.StatusCompleted})
		if err != nil {
			t.Fatalf("CountInstances: %v", err)
		}
		if n == total {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out: %d/%d completed", n, total)
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.pool.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := len(h.provider.Messages()); got != total {
		t.Fatalf("messages sent = %d, want exactly %d", got, total)
	}
	// Stop drains the observer, so every completion has been emitted.
	if completed, _, _, _ := h.ext.counts(); completed != total {
		t.Fatalf("completed events = %d, want %d", completed, total)
	}
}

func TestPool_PermanentFailureGoesToDLQ(t *testing.T) {
	h := setupTestPool(t, 1, 10*time.Millisecond)
	h.provider.Fail = func(_ int, _ string) error {
		return courier.Permanent(errors.New("mailbox does not exist"))
	}
	inst := h.ingest(t, "bounce")
	ctx := context.Background()

	if _, err := h.pool.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	got, _ := h.store.GetInstance(ctx, inst.ID)
	if got.Status != trigger.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	entries, err := h.store.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil || len(entries) != 1 || entries[0].InstanceID != inst.ID {
		t.Fatalf("DLQ = %v, %v", entries, err)
	}
	_, failed, dlqs, _ := h.ext.counts()
	if failed != 1 || dlqs != 1 {
		t.Fatalf("events: failed=%d dlq=%d", failed, dlqs)
	}
}

func TestPool_RetryBoundedByMaxAttempts(t *testing.T) {
	h := setupTestPool(t, 1, 10*time.Millisecond)
	h.provider.Fail = func(_ int, _ string) error { return errors.New("smtp timeout") }
	inst := h.ingest(t, "flaky")
	ctx := context.Background()

	if _, err := h.pool.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	got, _ := h.store.GetInstance(ctx, inst.ID)
	if got.Status != trigger.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	logs, _ := h.store.ListStepLogs(ctx, inst.ID, steplog.ListOpts{})
	if len(logs) != 3 {
		t.Fatalf("attempts logged = %d, want 3", len(logs))
	}
	for i, l := range logs {
		if l.Attempt != i+1 {
			t.Errorf("log[%d].Attempt = %d, want %d", i, l.Attempt, i+1)
		}
	}
	if logs[2].Outcome != steplog.OutcomeFailed {
		t.Fatalf("last outcome = %s, want failed", logs[2].Outcome)
	}
	if h.provider.Calls() != 3 {
		t.Fatalf("provider calls = %d, want 3", h.provider.Calls())
	}
}

func TestPool_ReapStaleReleasesCrashedClaims(t *testing.T) {
	h := setupTestPool(t, 1, 10*time.Millisecond)
	inst := h.ingest(t, "crash")
	ctx := context.Background()

	// Another worker claims and disappears without heartbeating.
	if _, err := h.store.ClaimNext(ctx, id.NewWorkerID(), time.Now().UTC()); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	fresh := worker.NewPool(h.store, nil, nil, worker.WithStaleThreshold(time.Minute))
	if n := fresh.ReapStale(ctx); n != 0 {
		t.Fatalf("released %d instances before the threshold, want 0", n)
	}

	later := worker.NewPool(h.store, nil, nil,
		worker.WithStaleThreshold(time.Minute),
		worker.WithPoolClock(func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }),
	)
	if n := later.ReapStale(ctx); n != 1 {
		t.Fatalf("released %d instances, want 1", n)
	}

	got, _ := h.store.GetInstance(ctx, inst.ID)
	if got.Status != trigger.StatusWaiting || got.Attempts != 0 {
		t.Fatalf("released instance = %s attempts=%d", got.Status, got.Attempts)
	}

	if _, err := h.pool.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	got, _ = h.store.GetInstance(ctx, inst.ID)
	if got.Status != trigger.StatusCompleted {
		t.Fatalf("status after recovery = %s, want completed", got.Status)
	}
}
