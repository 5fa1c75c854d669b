package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

const stepColumns = `
	id, instance_id, workflow_id, node_id, node_key, node_type, worker_id,
	attempt, started_at, finished_at, input_context, output_context,
	success, error_message, retryable, message_ids, outcome`

// CommitStep appends entry and replaces the instance with next in one
// transaction. The instance row is locked first; the write only happens
// while workerID still holds the claim.
func (s *Store) CommitStep(ctx context.Context, workerID id.WorkerID, entry *steplog.Entry, next *trigger.Instance) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			status          string
			owner           id.WorkerID
			cancelRequested bool
		)
		err := tx.QueryRow(ctx, `
			SELECT status, worker_id, cancel_requested
			FROM courier_instances WHERE id = $1 FOR UPDATE`,
			next.ID,
		).Scan(&status, &owner, &cancelRequested)
		if err != nil {
			return err
		}
		if trigger.Status(status) != trigger.StatusProcessing || owner != workerID {
			return courier.ErrClaimLost
		}

		if cancelRequested {
			next.CancelRequested = true
			if !next.Status.IsTerminal() {
				next.Finish(trigger.StatusCancelled, entry.FinishedAt)
				entry.Outcome = steplog.OutcomeCancelled
			}
		}

		if err := updateInstance(ctx, tx, next); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO courier_step_logs (`+stepColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			entry.ID, entry.InstanceID, entry.WorkflowID, entry.NodeID, entry.NodeKey,
			string(entry.NodeType), entry.WorkerID, entry.Attempt, entry.StartedAt, entry.FinishedAt,
			nullBytes(entry.InputContext), nullBytes(entry.OutputContext),
			entry.Success, entry.ErrorMessage, entry.Retryable, entry.MessageIDs, string(entry.Outcome),
		)
		return err
	})
	switch {
	case err == nil:
		return nil
	case isNoRows(err):
		return courier.ErrInstanceNotFound
	case errors.Is(err, courier.ErrClaimLost):
		return err
	default:
		return fmt.Errorf("courier/postgres: commit step: %w", err)
	}
}

// ListStepLogs returns the entries of an instance in execution order.
func (s *Store) ListStepLogs(ctx context.Context, instanceID id.InstanceID, opts steplog.ListOpts) ([]*steplog.Entry, error) {
	query, args := appendPage(
		`SELECT `+stepColumns+` FROM courier_step_logs WHERE instance_id = $1 ORDER BY seq ASC`,
		[]any{instanceID}, opts.Limit, opts.Offset,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list step logs: %w", err)
	}
	defer rows.Close()

	var out []*steplog.Entry
	for rows.Next() {
		var (
			e        steplog.Entry
			nodeType string
			outcome  string
			input    []byte
			output   []byte
		)
		scanErr := rows.Scan(
			&e.ID, &e.InstanceID, &e.WorkflowID, &e.NodeID, &e.NodeKey, &nodeType, &e.WorkerID,
			&e.Attempt, &e.StartedAt, &e.FinishedAt, &input, &output,
			&e.Success, &e.ErrorMessage, &e.Retryable, &e.MessageIDs, &outcome,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("courier/postgres: scan step log row: %w", scanErr)
		}
		e.NodeType = workflow.NodeType(nodeType)
		e.Outcome = steplog.Outcome(outcome)
		e.InputContext = input
		e.OutputContext = output
		out = append(out, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate step log rows: %w", err)
	}
	return out, nil
}

// CountStepLogs returns the number of entries of an instance.
func (s *Store) CountStepLogs(ctx context.Context, instanceID id.InstanceID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM courier_step_logs WHERE instance_id = $1`,
		instanceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: count step logs: %w", err)
	}
	return n, nil
}
