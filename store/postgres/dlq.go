package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
)

const dlqColumns = `
	id, instance_id, workflow_id, idempotency_key, node_id, payload, error,
	attempts, failed_at, replayed_at, replay_instance_id, created_at`

// PushDLQ adds a failed instance to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.InstanceID, entry.WorkflowID, entry.IdempotencyKey, entry.NodeID,
		nullBytes(entry.Payload), entry.Error, entry.Attempts, entry.FailedAt,
		entry.ReplayedAt, entry.ReplayInstanceID, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching opts, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM courier_dlq WHERE 1=1`
	args := []any{}

	if !opts.WorkflowID.IsNil() {
		args = append(args, opts.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}
	query += " ORDER BY failed_at DESC"
	query, args = appendPage(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("courier/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM courier_dlq WHERE id = $1`,
		entryID,
	)
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrDLQNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get dlq: %w", err)
	}
	return e, nil
}

// MarkDLQReplayed records the replay of an entry. The update only matches
// entries not yet replayed, so concurrent replays resolve to one winner.
func (s *Store) MarkDLQReplayed(ctx context.Context, entryID id.DLQID, replayID id.InstanceID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE courier_dlq SET replayed_at = $2, replay_instance_id = $3
		WHERE id = $1 AND replayed_at IS NULL`,
		entryID, at, replayID,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: mark dlq replayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetDLQ(ctx, entryID); getErr != nil {
			return getErr
		}
		return courier.ErrDLQReplayed
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
// Returns the number of entries removed.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM courier_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM courier_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("courier/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e       dlq.Entry
		payload []byte
	)
	err := row.Scan(
		&e.ID, &e.InstanceID, &e.WorkflowID, &e.IdempotencyKey, &e.NodeID, &payload, &e.Error,
		&e.Attempts, &e.FailedAt, &e.ReplayedAt, &e.ReplayInstanceID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
