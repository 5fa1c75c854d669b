// Package admin exposes the administrative operations of an Engine behind
// the authorization boundary. Every method takes the calling identity
// explicitly and checks it before touching the engine.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/authz"
	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

// defaultLimit caps list results when the caller asks for none.
const defaultLimit = 50

// Service wraps an Engine with per-call authorization.
type Service struct {
	eng    *engine.Engine
	authz  authz.Authorizer
	logger *slog.Logger
}

// New creates an admin Service. A nil authorizer falls back to
// authz.ScopeAuthorizer.
func New(eng *engine.Engine, authorizer authz.Authorizer, logger *slog.Logger) *Service {
	if authorizer == nil {
		authorizer = authz.ScopeAuthorizer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{eng: eng, authz: authorizer, logger: logger}
}

func (s *Service) check(ctx context.Context, caller authz.Caller, action authz.Action) error {
	if err := s.authz.Authorize(ctx, caller, action); err != nil {
		s.logger.Warn("admin operation denied",
			slog.String("subject", caller.Subject),
			slog.String("action", string(action)),
		)
		return err
	}
	return nil
}

func defaultTo(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

// ── Workflows ───────────────────────────────────────

// PublishWorkflow stores a draft as the next inactive version of its code.
func (s *Service) PublishWorkflow(ctx context.Context, caller authz.Caller, d *workflow.Draft) (*workflow.Graph, error) {
	if err := s.check(ctx, caller, authz.ActionWorkflowWrite); err != nil {
		return nil, err
	}
	return s.eng.Publish(ctx, d)
}

// ActivateWorkflow makes a version the active one of its code.
func (s *Service) ActivateWorkflow(ctx context.Context, caller authz.Caller, workflowID id.WorkflowID) error {
	if err := s.check(ctx, caller, authz.ActionWorkflowWrite); err != nil {
		return err
	}
	return s.eng.Activate(ctx, workflowID)
}

// DeactivateWorkflow stops new ingestions against a version.
func (s *Service) DeactivateWorkflow(ctx context.Context, caller authz.Caller, workflowID id.WorkflowID) error {
	if err := s.check(ctx, caller, authz.ActionWorkflowWrite); err != nil {
		return err
	}
	return s.eng.Deactivate(ctx, workflowID)
}

// GetWorkflow returns the full graph of a version.
func (s *Service) GetWorkflow(ctx context.Context, caller authz.Caller, workflowID id.WorkflowID) (*workflow.Graph, error) {
	if err := s.check(ctx, caller, authz.ActionWorkflowRead); err != nil {
		return nil, err
	}
	return s.eng.Workflows().Graph(ctx, workflowID)
}

// ListWorkflows returns workflow versions matching opts.
func (s *Service) ListWorkflows(ctx context.Context, caller authz.Caller, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	if err := s.check(ctx, caller, authz.ActionWorkflowRead); err != nil {
		return nil, err
	}
	opts.Limit = defaultTo(opts.Limit)
	return s.eng.Workflows().List(ctx, opts)
}

// ── Instances ───────────────────────────────────────

// Ingest triggers a workflow on behalf of caller.
func (s *Service) Ingest(ctx context.Context, caller authz.Caller, workflowID id.WorkflowID, key string, payload json.RawMessage) (*trigger.Instance, bool, error) {
	if err := s.check(ctx, caller, authz.ActionInstanceWrite); err != nil {
		return nil, false, err
	}
	return s.eng.Ingest(ctx, workflowID, key, payload)
}

// CancelInstance requests cancellation of an instance.
func (s *Service) CancelInstance(ctx context.Context, caller authz.Caller, instanceID id.InstanceID) (*trigger.Instance, error) {
	if err := s.check(ctx, caller, authz.ActionInstanceCancel); err != nil {
		return nil, err
	}
	inst, err := s.eng.Cancel(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("instance cancelled by caller",
		slog.String("subject", caller.Subject),
		slog.String("instance_id", instanceID.String()),
	)
	return inst, nil
}

// GetInstance returns an instance.
func (s *Service) GetInstance(ctx context.Context, caller authz.Caller, instanceID id.InstanceID) (*trigger.Instance, error) {
	if err := s.check(ctx, caller, authz.ActionInstanceRead); err != nil {
		return nil, err
	}
	return s.eng.GetInstance(ctx, instanceID)
}

// ListInstances returns instances matching opts, newest first.
func (s *Service) ListInstances(ctx context.Context, caller authz.Caller, opts trigger.ListOpts) ([]*trigger.Instance, error) {
	if err := s.check(ctx, caller, authz.ActionInstanceRead); err != nil {
		return nil, err
	}
	opts.Limit = defaultTo(opts.Limit)
	return s.eng.ListInstances(ctx, opts)
}

// ListStepLogs returns the audit trail of an instance.
func (s *Service) ListStepLogs(ctx context.Context, caller authz.Caller, instanceID id.InstanceID, opts steplog.ListOpts) ([]*steplog.Entry, error) {
	if err := s.check(ctx, caller, authz.ActionInstanceRead); err != nil {
		return nil, err
	}
	return s.eng.ListStepLogs(ctx, instanceID, opts)
}

// ── DLQ ─────────────────────────────────────────────

// ListDLQ returns dead-lettered instances, newest first.
func (s *Service) ListDLQ(ctx context.Context, caller authz.Caller, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	if err := s.check(ctx, caller, authz.ActionDLQRead); err != nil {
		return nil, err
	}
	opts.Limit = defaultTo(opts.Limit)
	return s.eng.DLQService().Store().ListDLQ(ctx, opts)
}

// GetDLQ returns a DLQ entry.
func (s *Service) GetDLQ(ctx context.Context, caller authz.Caller, entryID id.DLQID) (*dlq.Entry, error) {
	if err := s.check(ctx, caller, authz.ActionDLQRead); err != nil {
		return nil, err
	}
	return s.eng.DLQService().Store().GetDLQ(ctx, entryID)
}

// ReplayDLQ ingests a fresh instance from a DLQ entry.
func (s *Service) ReplayDLQ(ctx context.Context, caller authz.Caller, entryID id.DLQID) (*trigger.Instance, error) {
	if err := s.check(ctx, caller, authz.ActionDLQWrite); err != nil {
		return nil, err
	}
	return s.eng.ReplayDLQ(ctx, entryID)
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Service) PurgeDLQ(ctx context.Context, caller authz.Caller, before time.Time) (int64, error) {
	if err := s.check(ctx, caller, authz.ActionDLQWrite); err != nil {
		return 0, err
	}
	n, err := s.eng.DLQService().Store().PurgeDLQ(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge dlq: %w", err)
	}
	return n, nil
}

// ── Cron ────────────────────────────────────────────

// RegisterCron schedules a workflow.
func (s *Service) RegisterCron(ctx context.Context, caller authz.Caller, name, schedule string, workflowID id.WorkflowID, payload json.RawMessage) (*cron.Entry, error) {
	if err := s.check(ctx, caller, authz.ActionCronWrite); err != nil {
		return nil, err
	}
	return s.eng.RegisterCron(ctx, name, schedule, workflowID, payload)
}

// SetCronEnabled pauses or resumes a cron entry.
func (s *Service) SetCronEnabled(ctx context.Context, caller authz.Caller, entryID id.CronID, enabled bool) error {
	if err := s.check(ctx, caller, authz.ActionCronWrite); err != nil {
		return err
	}
	return s.eng.Scheduler().SetEnabled(ctx, entryID, enabled)
}

// ── Stats ───────────────────────────────────────────

// Stats is a snapshot of instance counts.
type Stats struct {
	Instances map[trigger.Status]int64 `json:"instances"`
	DLQ       int64                    `json:"dlq"`
}

// Stats counts instances per status and the DLQ size.
func (s *Service) Stats(ctx context.Context, caller authz.Caller) (*Stats, error) {
	if err := s.check(ctx, caller, authz.ActionInstanceRead); err != nil {
		return nil, err
	}
	st := &Stats{Instances: make(map[trigger.Status]int64, 6)}
	for _, status := range []trigger.Status{
		trigger.StatusEnqueued, trigger.StatusProcessing, trigger.StatusWaiting,
		trigger.StatusCompleted, trigger.StatusFailed, trigger.StatusCancelled,
	} {
		n, err := s.eng.Store().CountInstances(ctx, trigger.CountOpts{Status: status})
		if err != nil {
			return nil, fmt.Errorf("count %s instances: %w", status, err)
		}
		st.Instances[status] = n
	}
	n, err := s.eng.DLQService().Store().CountDLQ(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dlq: %w", err)
	}
	st.DLQ = n
	return st, nil
}
