// Package executor runs the node at an instance's cursor and computes the
// resulting transition. It performs no persistence: the returned Outcome
// holds the step log entry and the next instance state, which the caller
// commits atomically through steplog.Recorder.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/retry"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

// Outcome is the result of one step.
type Outcome struct {
	// Entry is the step log row describing the attempt.
	Entry *steplog.Entry
	// Next is the instance state to commit.
	Next *trigger.Instance
	// Err is the step failure, nil on success.
	Err error
}

// Executor runs workflow steps.
type Executor struct {
	workflows workflow.Reader
	provider  delivery.Provider
	policy    retry.Policy
	chain     middleware.Middleware
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithMiddleware sets the middleware chain wrapped around every node.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Executor) { e.chain = middleware.Chain(mws...) }
}

// WithClock overrides the executor clock.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor. A nil provider routes every send to a
// delivery.Router with no channels, failing action nodes permanently.
func New(workflows workflow.Reader, provider delivery.Provider, policy retry.Policy, logger *slog.Logger, opts ...Option) *Executor {
	if provider == nil {
		provider = delivery.NewRouter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		workflows: workflows,
		provider:  provider,
		policy:    policy,
		chain:     middleware.Chain(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// result is what a node handler produces on success.
type result struct {
	output     any
	messageIDs []string
	// next is the node to advance to; nil means the instance completes.
	next id.NodeID
	// waitUntil parks the instance without advancing the cursor.
	waitUntil *time.Time
}

// ExecuteStep runs the node at the cursor of inst, which must be in
// processing and owned by the caller. It always returns an Outcome with
// exactly one log entry.
func (e *Executor) ExecuteStep(ctx context.Context, inst *trigger.Instance) *Outcome {
	started := e.now()
	next := inst.Clone()
	attempt := inst.Attempts + 1

	entry := &steplog.Entry{
		ID:         id.NewStepID(),
		InstanceID: inst.ID,
		WorkflowID: inst.WorkflowID,
		NodeID:     inst.CursorNodeID,
		Attempt:    attempt,
		StartedAt:  started,
	}

	node, err := e.resolveNode(ctx, inst)
	if err != nil {
		return e.fail(inst, next, entry, err)
	}
	entry.NodeID = node.ID
	entry.NodeKey = node.Key
	entry.NodeType = node.Type

	priorJSON, err := inst.ContextJSON()
	if err != nil {
		return e.fail(inst, next, entry, courier.Permanent(fmt.Errorf("encode context: %w", err)))
	}
	entry.InputContext = inputContext(inst, priorJSON, node, attempt)

	s := &middleware.Step{
		InstanceID: inst.ID,
		WorkflowID: inst.WorkflowID,
		NodeID:     node.ID,
		NodeKey:    node.Key,
		NodeType:   node.Type,
		Attempt:    attempt,
	}
	var res *result
	err = e.chain(ctx, s, func(ctx context.Context) error {
		var herr error
		res, herr = e.run(ctx, inst, node, priorJSON, attempt)
		return herr
	})
	if err != nil {
		return e.fail(inst, next, entry, err)
	}
	return e.succeed(next, entry, node, res)
}

func (e *Executor) resolveNode(ctx context.Context, inst *trigger.Instance) (*workflow.Node, error) {
	nodeID := inst.CursorNodeID
	if nodeID.IsNil() {
		wf, err := e.workflows.GetWorkflow(ctx, inst.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("load workflow %s: %w", inst.WorkflowID, err)
		}
		nodeID = wf.EntryNodeID
	}
	node, err := e.workflows.GetNode(ctx, inst.WorkflowID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("load node %s: %w", nodeID, err)
	}
	return node, nil
}

func (e *Executor) run(ctx context.Context, inst *trigger.Instance, node *workflow.Node, priorJSON json.RawMessage, attempt int) (*result, error) {
	if lc := node.Loop(); lc.Loop && lc.MaxIterations > 0 && inst.Iterations[node.Key] >= lc.MaxIterations {
		return nil, fmt.Errorf("%w: node %q visited %d times", courier.ErrIterationLimit, node.Key, inst.Iterations[node.Key])
	}

	switch node.Type {
	case workflow.NodeEmail:
		return e.runEmail(ctx, inst, node, priorJSON, attempt)
	case workflow.NodeSMS:
		return e.runSMS(ctx, inst, node, priorJSON, attempt)
	case workflow.NodeDelay:
		return e.runDelay(ctx, inst, node)
	case workflow.NodeBranch:
		return e.runBranch(ctx, inst, node, priorJSON, attempt)
	case workflow.NodeTerminal:
		return &result{}, nil
	}
	return nil, courier.Permanent(fmt.Errorf("node %q has unknown type %q", node.Key, node.Type))
}

// follow returns the single successor of a non-branch node, or nil.
func (e *Executor) follow(ctx context.Context, inst *trigger.Instance, node *workflow.Node) (id.NodeID, error) {
	edges, err := e.workflows.GetOutgoingEdges(ctx, inst.WorkflowID, node.ID)
	if err != nil {
		return id.Nil, fmt.Errorf("load edges of %q: %w", node.Key, err)
	}
	if len(edges) == 0 {
		return id.Nil, nil
	}
	return edges[0].ToNodeID, nil
}

func (e *Executor) succeed(next *trigger.Instance, entry *steplog.Entry, node *workflow.Node, res *result) *Outcome {
	now := e.now()
	entry.FinishedAt = now
	entry.Success = true
	entry.MessageIDs = res.messageIDs
	if res.output != nil {
		if b, err := json.Marshal(res.output); err == nil {
			entry.OutputContext = b
		}
	}

	next.LastError = ""
	if res.waitUntil != nil {
		next.Status = trigger.StatusWaiting
		next.AvailableAt = *res.waitUntil
		next.DelayUntil = res.waitUntil
		next.Release()
		entry.Outcome = steplog.OutcomeWaiting
		return &Outcome{Entry: entry, Next: next}
	}

	if entry.OutputContext != nil {
		if next.Context == nil {
			next.Context = make(map[string]json.RawMessage)
		}
		next.Context[node.Key] = entry.OutputContext
	}
	if lc := node.Loop(); lc.Loop {
		if next.Iterations == nil {
			next.Iterations = make(map[string]int)
		}
		next.Iterations[node.Key]++
	}
	next.Attempts = 0
	next.DelayUntil = nil

	if res.next.IsNil() {
		next.Finish(trigger.StatusCompleted, now)
		entry.Outcome = steplog.OutcomeCompleted
		return &Outcome{Entry: entry, Next: next}
	}

	next.CursorNodeID = res.next
	next.Status = trigger.StatusEnqueued
	next.AvailableAt = now
	next.Release()
	entry.Outcome = steplog.OutcomeAdvanced
	return &Outcome{Entry: entry, Next: next}
}

func (e *Executor) fail(inst, next *trigger.Instance, entry *steplog.Entry, err error) *Outcome {
	now := e.now()
	entry.FinishedAt = now
	entry.Success = false
	entry.ErrorMessage = err.Error()
	entry.Retryable = courier.IsRetryable(err)

	d := e.policy.OnFailure(inst, err, now)
	d.Apply(next, now)
	if d.Retrying() {
		entry.Outcome = steplog.OutcomeRetrying
	} else {
		entry.Outcome = steplog.OutcomeFailed
	}

	e.logger.Debug("step failure classified",
		slog.String("instance_id", inst.ID.String()),
		slog.String("node", entry.NodeKey),
		slog.Int("attempt", entry.Attempt),
		slog.Bool("retryable", entry.Retryable),
		slog.String("status", string(next.Status)),
	)
	return &Outcome{Entry: entry, Next: next, Err: d.Reason}
}

func inputContext(inst *trigger.Instance, priorJSON json.RawMessage, node *workflow.Node, attempt int) json.RawMessage {
	payload := inst.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	b, err := json.Marshal(struct {
		Payload json.RawMessage `json:"payload"`
		Context json.RawMessage `json:"context"`
		Attempt int             `json:"attempt"`
		Node    string          `json:"node"`
	}{payload, priorJSON, attempt, node.Key})
	if err != nil {
		return nil
	}
	return b
}
