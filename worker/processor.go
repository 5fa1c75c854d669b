package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/executor"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
)

// Result describes one committed step.
type Result struct {
	// Claimed is the instance as it was claimed.
	Claimed *trigger.Instance
	// Entry is the committed step log row.
	Entry *steplog.Entry
	// Next is the committed instance state.
	Next *trigger.Instance
	// Err is the step failure, nil on success.
	Err error
	// DLQ is set when a failed instance was dead-lettered.
	DLQ *dlq.Entry
}

// Processor executes a claimed instance's current node and commits the
// outcome through the step recorder.
type Processor struct {
	executor   *executor.Executor
	recorder   *steplog.Recorder
	dlq        *dlq.Service
	extensions *ext.Registry
	logger     *slog.Logger
}

// NewProcessor creates a Processor. dlqService and extensions may be nil.
func NewProcessor(
	exec *executor.Executor,
	recorder *steplog.Recorder,
	dlqService *dlq.Service,
	extensions *ext.Registry,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Processor{
		executor:   exec,
		recorder:   recorder,
		dlq:        dlqService,
		extensions: extensions,
		logger:     logger,
	}
}

// Process runs one step of inst, which workerID must hold in processing.
// A commit that loses the claim returns courier.ErrClaimLost and leaves
// the store untouched.
func (p *Processor) Process(ctx context.Context, workerID id.WorkerID, inst *trigger.Instance) (*Result, error) {
	out := p.executor.ExecuteStep(ctx, inst)

	// Commit with a context that survives cancellation of the step itself.
	commitCtx := context.WithoutCancel(ctx)
	if err := p.recorder.Record(commitCtx, workerID, out.Entry, out.Next); err != nil {
		if errors.Is(err, courier.ErrClaimLost) {
			p.logger.Warn("claim lost before commit",
				slog.String("instance_id", inst.ID.String()),
				slog.String("worker_id", workerID.String()),
			)
		}
		return nil, err
	}

	res := &Result{Claimed: inst, Entry: out.Entry, Next: out.Next, Err: out.Err}

	if out.Next.Status == trigger.StatusFailed && p.dlq != nil {
		entry, err := p.dlq.Push(commitCtx, out.Next, out.Entry.NodeID, out.Err)
		if err != nil {
			p.logger.Error("failed to push instance to DLQ",
				slog.String("instance_id", inst.ID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			res.DLQ = entry
		}
	}
	return res, nil
}

// Emit fans the lifecycle events of res out to the extensions.
func (p *Processor) Emit(ctx context.Context, res *Result) {
	next := res.Next
	if res.Entry.Success {
		p.extensions.EmitStepCompleted(ctx, next, res.Entry)
	} else {
		p.extensions.EmitStepFailed(ctx, next, res.Entry, res.Err)
	}

	switch next.Status {
	case trigger.StatusCompleted:
		elapsed := next.UpdatedAt.Sub(next.CreatedAt)
		if next.CompletedAt != nil {
			elapsed = next.CompletedAt.Sub(next.CreatedAt)
		}
		p.extensions.EmitInstanceCompleted(ctx, next, elapsed)
		p.logger.Info("instance completed",
			slog.String("instance_id", next.ID.String()),
			slog.Duration("elapsed", elapsed),
		)
	case trigger.StatusFailed:
		p.extensions.EmitInstanceFailed(ctx, next, res.Err)
		if res.DLQ != nil {
			p.extensions.EmitInstanceDLQ(ctx, next, res.DLQ)
		}
		p.logger.Warn("instance failed",
			slog.String("instance_id", next.ID.String()),
			slog.String("node", res.Entry.NodeKey),
			slog.Int("attempt", res.Entry.Attempt),
			slog.String("error", next.LastError),
		)
	case trigger.StatusCancelled:
		p.extensions.EmitInstanceCancelled(ctx, next)
	case trigger.StatusWaiting:
		if res.Entry.Outcome == steplog.OutcomeRetrying {
			p.extensions.EmitInstanceRetrying(ctx, next, next.Attempts, next.AvailableAt)
		}
	case trigger.StatusEnqueued, trigger.StatusProcessing:
	}
}

// Extensions returns the registry events are emitted to.
func (p *Processor) Extensions() *ext.Registry { return p.extensions }
