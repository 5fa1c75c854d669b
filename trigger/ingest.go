package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/workflow"
)

// MaxKeyLength bounds idempotency keys in bytes.
const MaxKeyLength = 255

// Ingestor materializes trigger events into instances.
type Ingestor struct {
	workflows workflow.Reader
	store     Store
	logger    *slog.Logger
	now       func() time.Time
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithClock overrides the ingestor clock.
func WithClock(now func() time.Time) IngestorOption {
	return func(g *Ingestor) { g.now = now }
}

// NewIngestor creates an Ingestor.
func NewIngestor(workflows workflow.Reader, store Store, logger *slog.Logger, opts ...IngestorOption) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Ingestor{
		workflows: workflows,
		store:     store,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ingest returns the instance for (workflowID, key), creating it in the
// enqueued state when none exists. created reports whether a new instance
// was made. A repeated key returns the existing instance unchanged even if
// the payload differs.
func (g *Ingestor) Ingest(ctx context.Context, workflowID id.WorkflowID, key string, payload json.RawMessage) (*Instance, bool, error) {
	if key == "" || len(key) > MaxKeyLength {
		return nil, false, fmt.Errorf("%w: length %d", courier.ErrInvalidIdempotencyKey, len(key))
	}

	existing, err := g.store.GetInstanceByKey(ctx, workflowID, key)
	switch {
	case err == nil:
		return existing, false, nil
	case errors.Is(err, courier.ErrInstanceNotFound):
	default:
		return nil, false, fmt.Errorf("trigger: lookup %q: %w", key, err)
	}

	wf, err := g.workflows.GetActiveWorkflow(ctx, workflowID)
	if err != nil {
		return nil, false, err
	}

	payload, err = normalizePayload(payload)
	if err != nil {
		return nil, false, err
	}

	now := g.now()
	inst := &Instance{
		Entity:          courier.Entity{CreatedAt: now, UpdatedAt: now},
		ID:              id.NewInstanceID(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		IdempotencyKey:  key,
		Status:          StatusEnqueued,
		AvailableAt:     now,
		Payload:         payload,
	}

	stored, created, err := g.store.CreateInstance(ctx, inst)
	if err != nil {
		return nil, false, fmt.Errorf("trigger: create instance: %w", err)
	}
	if created {
		g.logger.Info("instance ingested",
			slog.String("instance_id", stored.ID.String()),
			slog.String("workflow_id", wf.ID.String()),
			slog.String("key", key),
		)
	}
	return stored, created, nil
}

func normalizePayload(payload json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]json.RawMessage
	if trimmed[0] != '{' || json.Unmarshal(trimmed, &obj) != nil {
		return nil, courier.ErrInvalidPayload
	}
	return append(json.RawMessage(nil), trimmed...), nil
}
