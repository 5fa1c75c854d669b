package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

const instanceColumns = `
	id, workflow_id, workflow_version, idempotency_key, status,
	cursor_node_id, attempts, available_at, payload, context, iterations,
	delay_until, worker_id, claimed_at, heartbeat_at, cancel_requested,
	last_error, completed_at, created_at, updated_at`

// CreateInstance inserts inst or returns the instance already holding its
// (workflow, idempotency key) pair.
func (s *Store) CreateInstance(ctx context.Context, inst *trigger.Instance) (*trigger.Instance, bool, error) {
	args, err := instanceArgs(inst)
	if err != nil {
		return nil, false, fmt.Errorf("courier/postgres: create instance: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO courier_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (workflow_id, idempotency_key) DO NOTHING`,
		args...,
	)
	if err != nil {
		return nil, false, fmt.Errorf("courier/postgres: create instance: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return inst, true, nil
	}

	existing, err := s.GetInstanceByKey(ctx, inst.WorkflowID, inst.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*trigger.Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM courier_instances WHERE id = $1`,
		instanceID,
	)
	inst, err := scanInstance(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get instance: %w", err)
	}
	return inst, nil
}

// GetInstanceByKey retrieves an instance by its idempotency key.
func (s *Store) GetInstanceByKey(ctx context.Context, workflowID id.WorkflowID, key string) (*trigger.Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM courier_instances WHERE workflow_id = $1 AND idempotency_key = $2`,
		workflowID, key,
	)
	inst, err := scanInstance(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get instance by key: %w", err)
	}
	return inst, nil
}

// ClaimNext claims the due instance with the earliest AvailableAt. It uses
// SELECT FOR UPDATE SKIP LOCKED so concurrent claimers never pick the same
// row or wait on each other.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*trigger.Instance, error) {
	var inst *trigger.Instance
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Claimable rows flagged for cancel are finalized, never handed out.
		_, err := tx.Exec(ctx, `
			UPDATE courier_instances
			SET status = 'cancelled', cursor_node_id = NULL, delay_until = NULL,
			    worker_id = NULL, claimed_at = NULL, heartbeat_at = NULL,
			    completed_at = $1, updated_at = $1
			WHERE status IN ('enqueued', 'waiting') AND cancel_requested`,
			now,
		)
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			UPDATE courier_instances
			SET status = 'processing', worker_id = $1,
			    claimed_at = $2, heartbeat_at = $2, updated_at = $2
			WHERE id = (
				SELECT id FROM courier_instances
				WHERE status IN ('enqueued', 'waiting')
				  AND available_at <= $2
				ORDER BY available_at ASC, created_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			  AND status IN ('enqueued', 'waiting')
			RETURNING `+instanceColumns,
			workerID, now,
		)
		inst, err = scanInstance(row)
		return err
	})
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("courier/postgres: claim next: %w", err)
	}
	return inst, nil
}

// HeartbeatInstance refreshes the heartbeat of a held claim.
func (s *Store) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID, workerID id.WorkerID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE courier_instances SET heartbeat_at = $3
		WHERE id = $1 AND status = 'processing' AND worker_id = $2`,
		instanceID, workerID, now,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: heartbeat instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetInstance(ctx, instanceID); getErr != nil {
			return getErr
		}
		return courier.ErrClaimLost
	}
	return nil
}

// CancelInstance finalizes an enqueued or waiting instance and flags a
// processing one.
func (s *Store) CancelInstance(ctx context.Context, instanceID id.InstanceID, now time.Time) (*trigger.Instance, error) {
	var inst *trigger.Instance
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+instanceColumns+` FROM courier_instances WHERE id = $1 FOR UPDATE`,
			instanceID,
		)
		current, err := scanInstance(row)
		if err != nil {
			return err
		}

		switch current.Status {
		case trigger.StatusEnqueued, trigger.StatusWaiting:
			current.Finish(trigger.StatusCancelled, now)
		case trigger.StatusProcessing:
		case trigger.StatusCompleted, trigger.StatusFailed, trigger.StatusCancelled:
			return courier.ErrInvalidState
		}
		current.CancelRequested = true
		current.UpdatedAt = now

		if err := updateInstance(ctx, tx, current); err != nil {
			return err
		}
		inst = current
		return nil
	})
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrInstanceNotFound
		}
		if errors.Is(err, courier.ErrInvalidState) {
			return nil, err
		}
		return nil, fmt.Errorf("courier/postgres: cancel instance: %w", err)
	}
	return inst, nil
}

// ReleaseStale returns processing instances whose heartbeat expired to
// waiting, or finalizes them when a cancel is pending.
func (s *Store) ReleaseStale(ctx context.Context, threshold time.Duration, now time.Time) ([]*trigger.Instance, error) {
	cutoff := now.Add(-threshold)
	rows, err := s.pool.Query(ctx, `
		UPDATE courier_instances SET
			status       = CASE WHEN cancel_requested THEN 'cancelled' ELSE 'waiting' END,
			available_at = CASE WHEN cancel_requested THEN available_at ELSE $2 END,
			completed_at = CASE WHEN cancel_requested THEN $2 ELSE completed_at END,
			cursor_node_id = CASE WHEN cancel_requested THEN NULL ELSE cursor_node_id END,
			delay_until  = CASE WHEN cancel_requested THEN NULL ELSE delay_until END,
			worker_id = NULL, claimed_at = NULL, heartbeat_at = NULL,
			updated_at = $2
		WHERE status = 'processing'
		  AND COALESCE(heartbeat_at, claimed_at, '-infinity'::timestamptz) < $1
		RETURNING `+instanceColumns,
		cutoff, now,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: release stale: %w", err)
	}
	return collectInstances(rows)
}

// ListInstances returns instances matching opts, newest first.
func (s *Store) ListInstances(ctx context.Context, opts trigger.ListOpts) ([]*trigger.Instance, error) {
	where, args := instanceFilter(opts.WorkflowID, opts.Status)
	query := `SELECT ` + instanceColumns + ` FROM courier_instances` + where + ` ORDER BY created_at DESC`
	query, args = appendPage(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list instances: %w", err)
	}
	return collectInstances(rows)
}

// CountInstances returns the number of instances matching opts.
func (s *Store) CountInstances(ctx context.Context, opts trigger.CountOpts) (int64, error) {
	where, args := instanceFilter(opts.WorkflowID, opts.Status)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM courier_instances`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("courier/postgres: count instances: %w", err)
	}
	return n, nil
}

func instanceFilter(workflowID id.WorkflowID, status trigger.Status) (string, []any) {
	where := " WHERE 1=1"
	var args []any
	if !workflowID.IsNil() {
		args = append(args, workflowID)
		where += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, string(status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	return where, args
}

// updateInstance overwrites every mutable column of inst.
func updateInstance(ctx context.Context, tx pgx.Tx, inst *trigger.Instance) error {
	args, err := instanceArgs(inst)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE courier_instances SET
			status = $5, cursor_node_id = $6, attempts = $7, available_at = $8,
			payload = $9, context = $10, iterations = $11, delay_until = $12,
			worker_id = $13, claimed_at = $14, heartbeat_at = $15,
			cancel_requested = $16, last_error = $17, completed_at = $18,
			updated_at = $20
		WHERE id = $1`,
		args...,
	)
	return err
}

// instanceArgs returns the column values of inst in instanceColumns order.
func instanceArgs(inst *trigger.Instance) ([]any, error) {
	var ctxJSON, iterJSON []byte
	if len(inst.Context) > 0 {
		b, err := json.Marshal(inst.Context)
		if err != nil {
			return nil, fmt.Errorf("encode context: %w", err)
		}
		ctxJSON = b
	}
	if len(inst.Iterations) > 0 {
		b, err := json.Marshal(inst.Iterations)
		if err != nil {
			return nil, fmt.Errorf("encode iterations: %w", err)
		}
		iterJSON = b
	}
	return []any{
		inst.ID, inst.WorkflowID, inst.WorkflowVersion, inst.IdempotencyKey, string(inst.Status),
		inst.CursorNodeID, inst.Attempts, inst.AvailableAt, nullBytes(inst.Payload), ctxJSON, iterJSON,
		inst.DelayUntil, inst.WorkerID, inst.ClaimedAt, inst.HeartbeatAt, inst.CancelRequested,
		inst.LastError, inst.CompletedAt, inst.CreatedAt, inst.UpdatedAt,
	}, nil
}

func scanInstance(row pgx.Row) (*trigger.Instance, error) {
	var (
		inst     trigger.Instance
		status   string
		payload  []byte
		ctxJSON  []byte
		iterJSON []byte
	)
	err := row.Scan(
		&inst.ID, &inst.WorkflowID, &inst.WorkflowVersion, &inst.IdempotencyKey, &status,
		&inst.CursorNodeID, &inst.Attempts, &inst.AvailableAt, &payload, &ctxJSON, &iterJSON,
		&inst.DelayUntil, &inst.WorkerID, &inst.ClaimedAt, &inst.HeartbeatAt, &inst.CancelRequested,
		&inst.LastError, &inst.CompletedAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Status = trigger.Status(status)
	inst.Payload = payload
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &inst.Context); err != nil {
			return nil, fmt.Errorf("decode context of %s: %w", inst.ID, err)
		}
	}
	if len(iterJSON) > 0 {
		if err := json.Unmarshal(iterJSON, &inst.Iterations); err != nil {
			return nil, fmt.Errorf("decode iterations of %s: %w", inst.ID, err)
		}
	}
	inst.AvailableAt = inst.AvailableAt.UTC()
	return &inst, nil
}

func collectInstances(rows pgx.Rows) ([]*trigger.Instance, error) {
	defer rows.Close()

	var out []*trigger.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: scan instance row: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate instance rows: %w", err)
	}
	return out, nil
}
