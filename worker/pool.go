package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

// Pool manages a set of concurrent worker goroutines that claim due
// instances and process one step each per claim.
//
// Pools share nothing but the store: any number of pools, in one or many
// processes, may poll the same store.
type Pool struct {
	store        trigger.Store
	processor    *Processor
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger
	now          func() time.Time

	heartbeatInterval time.Duration
	staleThreshold    time.Duration

	results chan *Result

	stopCh       chan struct{}
	wg           sync.WaitGroup
	observerDone chan struct{}
	mu           sync.Mutex
	running      bool
	active       map[string]activeStep
	activeMu     sync.Mutex
}

// activeStep is an in-flight step tracked for heartbeats and cancellation.
type activeStep struct {
	instanceID id.InstanceID
	cancel     context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long an idle worker waits before claiming again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool heartbeats claimed
// instances. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleThreshold sets how long a processing instance may go without a
// heartbeat before the reaper releases it. A zero value disables reaping.
func WithStaleThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleThreshold = d }
}

// WithWorkerID sets the identity the pool claims under.
func WithWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// WithPoolClock overrides the clock used for claims and heartbeats.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool.
func NewPool(store trigger.Store, processor *Processor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		processor:    processor,
		concurrency:  10,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		active:       make(map[string]activeStep),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p
}

// WorkerID returns the pool's worker identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.results = make(chan *Result, p.concurrency)
	p.observerDone = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	go p.observe()

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If ctx
// ends first, in-flight steps are cancelled and still committed.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active steps")
		p.cancelActive()
		<-done
	}

	close(p.results)
	<-p.observerDone
	return nil
}

// RunPending claims and processes due instances on the calling goroutine
// until none is due, emitting events inline. It returns the number of steps
// committed.
func (p *Pool) RunPending(ctx context.Context) (int, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		ok, err := p.step(ctx, func(res *Result) { p.processor.Emit(ctx, res) })
		if err != nil {
			return steps, err
		}
		if !ok {
			return steps, nil
		}
		steps++
	}
}

// step claims one instance and processes it. It reports false when nothing
// was due.
func (p *Pool) step(ctx context.Context, deliver func(*Result)) (bool, error) {
	inst, err := p.store.ClaimNext(ctx, p.workerID, p.now())
	if err != nil {
		return false, err
	}
	if inst == nil {
		return false, nil
	}

	stepCtx, cancel := context.WithCancel(ctx)
	p.track(inst.ID, cancel)
	res, err := p.processor.Process(stepCtx, p.workerID, inst)
	p.untrack(inst.ID)
	cancel()

	if err != nil {
		p.logger.Error("step commit error",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	deliver(res)
	return true, nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	deliver := func(res *Result) { p.results <- res }
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		ok, err := p.step(context.Background(), deliver)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if !ok {
			p.sleep()
		}
	}
}

// observe emits lifecycle events for every committed step, off the claim path.
func (p *Pool) observe() {
	defer close(p.observerDone)
	for res := range p.results {
		p.processor.Emit(context.Background(), res)
	}
}

// heartbeatLoop periodically heartbeats all claimed instances.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	ids := make([]id.InstanceID, 0, len(p.active))
	for _, a := range p.active {
		ids = append(ids, a.instanceID)
	}
	p.activeMu.Unlock()

	for _, instID := range ids {
		if err := p.store.HeartbeatInstance(context.Background(), instID, p.workerID, p.now()); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("instance_id", instID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically releases instances whose heartbeat expired.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ReapStale(context.Background())
		}
	}
}

// ReapStale releases stale claims once and returns how many it released.
func (p *Pool) ReapStale(ctx context.Context) int {
	released, err := p.store.ReleaseStale(ctx, p.staleThreshold, p.now())
	if err != nil {
		p.logger.Error("release stale instances error", slog.String("error", err.Error()))
		return 0
	}

	for _, inst := range released {
		if inst.Status == trigger.StatusCancelled {
			p.processor.Extensions().EmitInstanceCancelled(ctx, inst)
		}
		p.logger.Info("released stale instance",
			slog.String("instance_id", inst.ID.String()),
			slog.String("status", string(inst.Status)),
		)
	}
	return len(released)
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(instID id.InstanceID, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[instID.String()] = activeStep{instanceID: instID, cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrack(instID id.InstanceID) {
	p.activeMu.Lock()
	delete(p.active, instID.String())
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, a := range p.active {
		p.logger.Warn("cancelling active step", slog.String("instance_id", key))
		a.cancel()
	}
}
