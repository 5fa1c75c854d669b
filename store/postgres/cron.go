package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/id"
)

const cronColumns = `
	id, name, schedule, workflow_id, payload,
	last_run_at, next_run_at, enabled, created_at, updated_at`

// RegisterCron persists a new cron entry. Returns courier.ErrDuplicateCron
// if the name already exists.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_cron_entries (`+cronColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Name, entry.Schedule, entry.WorkflowID, nullBytes(entry.Payload),
		entry.LastRunAt, entry.NextRunAt, entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrDuplicateCron
		}
		return fmt.Errorf("courier/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cronColumns+` FROM courier_cron_entries WHERE id = $1`,
		entryID,
	)
	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrCronNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cronColumns+` FROM courier_cron_entries ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("courier/postgres: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate cron rows: %w", err)
	}
	return entries, nil
}

// UpdateCronEntry persists Enabled, LastRunAt and NextRunAt.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE courier_cron_entries SET
			enabled = $2, last_run_at = $3, next_run_at = $4, updated_at = NOW()
		WHERE id = $1`,
		entry.ID, entry.Enabled, entry.LastRunAt, entry.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM courier_cron_entries WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("courier/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrCronNotFound
	}
	return nil
}

// scanCron scans a single cron entry row.
func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e       cron.Entry
		payload []byte
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Schedule, &e.WorkflowID, &payload,
		&e.LastRunAt, &e.NextRunAt, &e.Enabled, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
