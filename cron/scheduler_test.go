package cron_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/storetest"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

// stubEmitter records EmitCronFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	calls []cronFiredCall
}

type cronFiredCall struct {
	EntryName string
	Instance  *trigger.Instance
	Created   bool
}

func (e *stubEmitter) EmitCronFired(_ context.Context, entryName string, inst *trigger.Instance, created bool) {
	e.mu.Lock()
	e.calls = append(e.calls, cronFiredCall{EntryName: entryName, Instance: inst, Created: created})
	e.mu.Unlock()
}

func (e *stubEmitter) getCalls() []cronFiredCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]cronFiredCall, len(e.calls))
	copy(out, e.calls)
	return out
}

func setup(t *testing.T) (*memory.Store, *workflow.Graph, *trigger.Ingestor) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	g := storetest.Graph(t, "digest", 1)
	if err := s.CreateWorkflow(ctx, g); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if err := s.ActivateWorkflow(ctx, g.Workflow.ID); err != nil {
		t.Fatalf("ActivateWorkflow: %v", err)
	}
	return s, g, trigger.NewIngestor(s, s, nil)
}

func registerDueEntry(t *testing.T, s *memory.Store, name string, wfID id.WorkflowID) *cron.Entry {
	t.Helper()

	past := time.Now().UTC().Add(-1 * time.Second).Truncate(time.Second)
	entry := &cron.Entry{
		Entity:     courier.NewEntity(),
		ID:         id.NewCronID(),
		Name:       name,
		Schedule:   "@every 1s",
		WorkflowID: wfID,
		Payload:    json.RawMessage(`{"kind":"digest"}`),
		NextRunAt:  &past,
		Enabled:    true,
	}
	if err := s.RegisterCron(context.Background(), entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	return entry
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestScheduler_FiresOnSchedule(t *testing.T) {
	s, g, ing := setup(t)
	emitter := &stubEmitter{}
	registerDueEntry(t, s, "every-second", g.Workflow.ID)

	sched := cron.NewScheduler(s, ing.Ingest, nil,
		cron.WithTickInterval(50*time.Millisecond),
		cron.WithEmitter(emitter),
	)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for len(emitter.getCalls()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for cron to fire")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	calls := emitter.getCalls()
	if calls[0].EntryName != "every-second" {
		t.Errorf("entry name = %q, want %q", calls[0].EntryName, "every-second")
	}
	if !calls[0].Created {
		t.Error("first fire should create an instance")
	}
	if string(calls[0].Instance.Payload) != `{"kind":"digest"}` {
		t.Errorf("payload = %s", calls[0].Instance.Payload)
	}
}

func TestScheduler_RunDueAdvancesEntry(t *testing.T) {
	s, g, ing := setup(t)
	entry := registerDueEntry(t, s, "tick", g.Workflow.ID)
	tick := *entry.NextRunAt
	sched := cron.NewScheduler(s, ing.Ingest, nil)

	now := time.Now().UTC()
	if fired := sched.RunDue(context.Background(), now); fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	got, err := s.GetCron(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(tick) {
		t.Errorf("last run = %v, want %v", got.LastRunAt, tick)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(now) {
		t.Errorf("next run = %v, want after %v", got.NextRunAt, now)
	}

	inst, err := s.GetInstanceByKey(context.Background(), g.Workflow.ID, cron.TickKey("tick", tick))
	if err != nil {
		t.Fatalf("instance for tick not found: %v", err)
	}
	if inst.Status != trigger.StatusEnqueued {
		t.Errorf("status = %s, want enqueued", inst.Status)
	}

	if fired := sched.RunDue(context.Background(), now); fired != 0 {
		t.Fatalf("entry fired again before its next run: %d", fired)
	}
}

func TestScheduler_SameTickCollapsesAcrossSchedulers(t *testing.T) {
	s, g, ing := setup(t)
	emitter := &stubEmitter{}
	entry := registerDueEntry(t, s, "shared", g.Workflow.ID)
	tick := *entry.NextRunAt
	now := time.Now().UTC()

	first := cron.NewScheduler(s, ing.Ingest, nil, cron.WithEmitter(emitter))
	second := cron.NewScheduler(s, ing.Ingest, nil, cron.WithEmitter(emitter))

	if fired := first.RunDue(context.Background(), now); fired != 1 {
		t.Fatalf("first fired = %d, want 1", fired)
	}

	// A second scheduler that read the entry before the first one advanced
	// it fires the same tick.
	entry.NextRunAt = &tick
	if err := s.UpdateCronEntry(context.Background(), entry); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}
	if fired := second.RunDue(context.Background(), now); fired != 1 {
		t.Fatalf("second fired = %d, want 1", fired)
	}

	n, err := s.CountInstances(context.Background(), trigger.CountOpts{WorkflowID: g.Workflow.ID})
	if err != nil || n != 1 {
		t.Fatalf("CountInstances = %d, %v; want 1", n, err)
	}
	calls := emitter.getCalls()
	if len(calls) != 2 || !calls[0].Created || calls[1].Created {
		t.Fatalf("unexpected fire calls %+v", calls)
	}
	if calls[0].Instance.ID != calls[1].Instance.ID {
		t.Fatal("both fires should resolve to the same instance")
	}
}

func TestScheduler_SkipsDisabled(t *testing.T) {
	s, g, ing := setup(t)
	entry := registerDueEntry(t, s, "disabled", g.Workflow.ID)
	sched := cron.NewScheduler(s, ing.Ingest, nil)

	if err := sched.SetEnabled(context.Background(), entry.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if fired := sched.RunDue(context.Background(), time.Now().UTC()); fired != 0 {
		t.Fatalf("disabled entry fired %d times", fired)
	}
}

func TestScheduler_Register(t *testing.T) {
	s, g, ing := setup(t)
	sched := cron.NewScheduler(s, ing.Ingest, nil)
	ctx := context.Background()

	entry, err := sched.Register(ctx, "hourly", "@hourly", g.Workflow.ID, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !entry.Enabled || entry.NextRunAt == nil || !entry.NextRunAt.After(time.Now().UTC()) {
		t.Fatalf("unexpected entry %+v", entry)
	}

	if _, err := sched.Register(ctx, "bad", "not a schedule", g.Workflow.ID, nil); err == nil {
		t.Fatal("expected parse error for invalid schedule")
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 8 * * MON-FRI", false},
		{"@daily", false},
		{"@every 30s", false},
		{"* * * *", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := cron.ParseSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSchedule(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}
