package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

// IngestFunc creates an instance. trigger.Ingestor.Ingest satisfies it.
type IngestFunc func(ctx context.Context, workflowID id.WorkflowID, key string, payload json.RawMessage) (*trigger.Instance, bool, error)

// Emitter emits cron lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, inst *trigger.Instance, created bool)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// TickKey is the idempotency key used for the fire of name at tick.
func TickKey(name string, tick time.Time) string {
	return fmt.Sprintf("cron:%s:%d", name, tick.Unix())
}

// Scheduler fires due cron entries on a tick loop.
type Scheduler struct {
	store   Store
	ingest  IngestFunc
	emitter Emitter
	logger  *slog.Logger

	tickInterval time.Duration

	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, ingest IngestFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		ingest:       ingest,
		logger:       logger,
		tickInterval: 1 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates the schedule and stores a new enabled entry whose
// first fire is the next schedule time after now.
func (s *Scheduler) Register(ctx context.Context, name, schedule string, workflowID id.WorkflowID, payload json.RawMessage) (*Entry, error) {
	sched, err := s.schedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("cron: parse %q: %w", schedule, err)
	}
	next := sched.Next(time.Now().UTC())
	entry := &Entry{
		Entity:     courier.NewEntity(),
		ID:         id.NewCronID(),
		Name:       name,
		Schedule:   schedule,
		WorkflowID: workflowID,
		Payload:    payload,
		NextRunAt:  &next,
		Enabled:    true,
	}
	if err := s.store.RegisterCron(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// SetEnabled enables or disables an entry.
func (s *Scheduler) SetEnabled(ctx context.Context, entryID id.CronID, enabled bool) error {
	entry, err := s.store.GetCron(ctx, entryID)
	if err != nil {
		return err
	}
	entry.Enabled = enabled
	entry.UpdatedAt = time.Now().UTC()
	return s.store.UpdateCronEntry(ctx, entry)
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the tick loop to stop and waits for it.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunDue(context.Background(), time.Now().UTC())
		}
	}
}

// RunDue fires every enabled entry whose NextRunAt is not after now and
// returns how many fired.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	entries, err := s.store.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list crons error", slog.String("error", err.Error()))
		return 0
	}

	fired := 0
	for _, entry := range entries {
		if !entry.Enabled || entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		if s.fire(ctx, entry, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, entry *Entry, now time.Time) bool {
	tick := *entry.NextRunAt
	inst, created, err := s.ingest(ctx, entry.WorkflowID, TickKey(entry.Name, tick), entry.Payload)
	if err != nil {
		s.logger.Error("cron ingest error",
			slog.String("cron_name", entry.Name),
			slog.String("workflow_id", entry.WorkflowID.String()),
			slog.String("error", err.Error()),
		)
		return false
	}

	entry.LastRunAt = &tick
	if sched, perr := s.schedule(entry.Schedule); perr != nil {
		s.logger.Error("parse cron schedule error",
			slog.String("cron_name", entry.Name),
			slog.String("schedule", entry.Schedule),
			slog.String("error", perr.Error()),
		)
	} else {
		next := sched.Next(now)
		entry.NextRunAt = &next
	}
	entry.UpdatedAt = now
	if uerr := s.store.UpdateCronEntry(ctx, entry); uerr != nil {
		s.logger.Error("update cron entry error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", uerr.Error()),
		)
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, inst, created)
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.String("instance_id", inst.ID.String()),
		slog.Bool("created", created),
	)
	return true
}

func (s *Scheduler) schedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
