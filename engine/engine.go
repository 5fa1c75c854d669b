package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/executor"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/graph"
	"github.com/xraph/courier/id"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/retry"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/worker"
	"github.com/xraph/courier/workflow"
)

// instrumentationName is the OTel scope used when custom providers are set.
const instrumentationName = "github.com/xraph/courier"

// ingestFunc adapts Engine.Ingest to dlq.Ingester so replays fire the
// ingestion hook like any other trigger.
type ingestFunc func(ctx context.Context, workflowID id.WorkflowID, key string, payload json.RawMessage) (*trigger.Instance, bool, error)

func (f ingestFunc) Ingest(ctx context.Context, workflowID id.WorkflowID, key string, payload json.RawMessage) (*trigger.Instance, bool, error) {
	return f(ctx, workflowID, key, payload)
}

// Engine wraps a Courier with typed subsystem access.
// Use Build() to create one from a Courier.
type Engine struct {
	c          *courier.Courier
	store      store.Store
	extensions *ext.Registry
	workflows  *workflow.Service
	ingestor   *trigger.Ingestor
	recorder   *steplog.Recorder
	dlqService *dlq.Service
	scheduler  *cron.Scheduler
	pool       *worker.Pool
	logger     *slog.Logger

	provider   delivery.Provider
	limits     []delivery.Limit
	bo         backoff.Strategy
	mws        []mw.Middleware
	now        func() time.Time
	cronOpts   []cron.SchedulerOption
	noDefaults bool

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithProvider sets the delivery provider action nodes send through.
// Without one every email and sms node fails permanently with
// courier.ErrNoProvider.
func WithProvider(p delivery.Provider) Option {
	return func(eng *Engine) {
		eng.provider = p
	}
}

// WithDeliveryLimits wraps the delivery provider in a delivery.Throttle
// with the given per-channel limits.
func WithDeliveryLimits(limits ...delivery.Limit) Option {
	return func(eng *Engine) {
		eng.limits = append(eng.limits, limits...)
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. Custom middleware
// runs inside the default stack, closest to the node.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithoutDefaultMiddleware drops the default middleware stack so that only
// middleware added with WithMiddleware wraps each node.
func WithoutDefaultMiddleware() Option {
	return func(eng *Engine) {
		eng.noDefaults = true
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.FromConfig (exponential with full jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithClock overrides the clock used by ingestion, execution, claims and
// cancellation. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithCronOptions passes options to the cron scheduler.
func WithCronOptions(opts ...cron.SchedulerOption) Option {
	return func(eng *Engine) {
		eng.cronOpts = append(eng.cronOpts, opts...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Courier.
// The Courier's store must implement store.Store.
func Build(c *courier.Courier, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	if c.Store() == nil {
		return nil, courier.ErrNoStore
	}

	// Type-assert the store to get the composite interface.
	s, ok := c.Store().(store.Store)
	if !ok {
		return nil, errors.New("courier: store does not implement store.Store")
	}

	eng := &Engine{
		c:          c,
		store:      s,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(eng)
	}

	cfg := c.Config()
	if eng.bo == nil {
		eng.bo = backoff.FromConfig(cfg)
	}

	provider := eng.provider
	if provider != nil && len(eng.limits) > 0 {
		provider = delivery.NewThrottle(provider, eng.limits...)
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName + "/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Workflow definitions and ingestion.
	eng.workflows = workflow.NewService(s, graph.Validate, logger)
	eng.ingestor = trigger.NewIngestor(s, s, logger, trigger.WithClock(eng.now))
	eng.recorder = steplog.NewRecorder(s, logger)
	eng.dlqService = dlq.NewService(s, ingestFunc(eng.Ingest))

	// Create executor, processor and pool.
	policy := retry.Policy{MaxAttempts: cfg.MaxAttempts, Backoff: eng.bo}
	exec := executor.New(s, provider, policy, logger,
		executor.WithMiddleware(eng.middleware(cfg)...),
		executor.WithClock(eng.now),
	)
	proc := worker.NewProcessor(exec, eng.recorder, eng.dlqService, eng.extensions, logger)
	eng.pool = worker.NewPool(s, proc, logger,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleThreshold(cfg.StaleThreshold),
		worker.WithPoolClock(eng.now),
	)

	// Wire back into the Courier.
	c.SetPool(eng.pool)
	c.SetExtensions(eng.extensions)

	// Create cron scheduler. Fired ticks go through Ingest like any trigger.
	cronOpts := append([]cron.SchedulerOption{cron.WithEmitter(eng.extensions)}, eng.cronOpts...)
	eng.scheduler = cron.NewScheduler(s, eng.Ingest, logger, cronOpts...)

	return eng, nil
}

// middleware builds the step chain:
// recover → tracing → metrics → logging → timeout → custom.
func (eng *Engine) middleware(cfg courier.Config) []mw.Middleware {
	if eng.noDefaults {
		return eng.mws
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(cfg.DeliveryTimeout),
	}
	all := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	all = append(all, defaultMws...)
	return append(all, eng.mws...)
}

// ──────────────────────────────────────────────────
// Workflow definitions
// ──────────────────────────────────────────────────

// Publish validates a draft and stores it as the next inactive version of
// its code.
func (eng *Engine) Publish(ctx context.Context, d *workflow.Draft) (*workflow.Graph, error) {
	return eng.workflows.Publish(ctx, d)
}

// Activate re-validates a stored workflow version and makes it the active
// version of its code.
func (eng *Engine) Activate(ctx context.Context, workflowID id.WorkflowID) error {
	return eng.workflows.Activate(ctx, workflowID)
}

// Deactivate stops new ingestions against a workflow version. Instances
// already pinned to it run to completion.
func (eng *Engine) Deactivate(ctx context.Context, workflowID id.WorkflowID) error {
	return eng.workflows.Deactivate(ctx, workflowID)
}

// ──────────────────────────────────────────────────
// Instances
// ──────────────────────────────────────────────────

// Ingest creates an instance of the active workflow for key, or returns the
// existing one with created=false when the key was already ingested.
func (eng *Engine) Ingest(ctx context.Context, workflowID id.WorkflowID, key string, payload json.RawMessage) (*trigger.Instance, bool, error) {
	inst, created, err := eng.ingestor.Ingest(ctx, workflowID, key, payload)
	if err != nil {
		return nil, false, err
	}
	if created {
		eng.extensions.EmitInstanceIngested(ctx, inst)
	}
	return inst, created, nil
}

// Cancel requests cancellation of an instance. Enqueued and waiting
// instances are cancelled immediately; a processing instance is cancelled
// by its worker when the in-flight step commits.
func (eng *Engine) Cancel(ctx context.Context, instanceID id.InstanceID) (*trigger.Instance, error) {
	inst, err := eng.store.CancelInstance(ctx, instanceID, eng.now())
	if err != nil {
		return nil, err
	}
	if inst.Status == trigger.StatusCancelled {
		eng.extensions.EmitInstanceCancelled(ctx, inst)
	}
	eng.logger.Info("instance cancel requested",
		slog.String("instance_id", instanceID.String()),
		slog.String("status", string(inst.Status)),
	)
	return inst, nil
}

// GetInstance returns an instance by ID.
func (eng *Engine) GetInstance(ctx context.Context, instanceID id.InstanceID) (*trigger.Instance, error) {
	return eng.store.GetInstance(ctx, instanceID)
}

// ListInstances returns instances matching opts, newest first.
func (eng *Engine) ListInstances(ctx context.Context, opts trigger.ListOpts) ([]*trigger.Instance, error) {
	return eng.store.ListInstances(ctx, opts)
}

// ListStepLogs returns the step log of an instance in execution order.
func (eng *Engine) ListStepLogs(ctx context.Context, instanceID id.InstanceID, opts steplog.ListOpts) ([]*steplog.Entry, error) {
	if _, err := eng.store.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return eng.recorder.List(ctx, instanceID, opts)
}

// ──────────────────────────────────────────────────
// DLQ and cron
// ──────────────────────────────────────────────────

// ReplayDLQ ingests a fresh instance from a dead-lettered one.
func (eng *Engine) ReplayDLQ(ctx context.Context, entryID id.DLQID) (*trigger.Instance, error) {
	return eng.dlqService.Replay(ctx, entryID)
}

// RegisterCron registers a cron trigger for a workflow. Re-registering an
// existing name is a no-op that returns the stored entry.
func (eng *Engine) RegisterCron(ctx context.Context, name, schedule string, workflowID id.WorkflowID, payload json.RawMessage) (*cron.Entry, error) {
	entry, err := eng.scheduler.Register(ctx, name, schedule, workflowID, payload)
	if errors.Is(err, courier.ErrDuplicateCron) {
		return eng.findCron(ctx, name)
	}
	return entry, err
}

func (eng *Engine) findCron(ctx context.Context, name string) (*cron.Entry, error) {
	entries, err := eng.store.ListCrons(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", courier.ErrCronNotFound, name)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// RunPending processes due steps on the calling goroutine until nothing is
// claimable and returns the number of steps run. Intended for tests and
// one-shot tools.
func (eng *Engine) RunPending(ctx context.Context) (int, error) {
	return eng.pool.RunPending(ctx)
}

// Start begins processing by starting the cron scheduler and worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}
	return eng.c.Stop(ctx)
}

// Courier returns the underlying Courier.
func (eng *Engine) Courier() *courier.Courier { return eng.c }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Workflows returns the workflow service.
func (eng *Engine) Workflows() *workflow.Service { return eng.workflows }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }
