package cron

import (
	"context"

	"github.com/xraph/courier/id"
)

// Store defines the persistence contract for cron entries.
type Store interface {
	// RegisterCron persists a new entry. Names are unique; a taken name
	// fails with courier.ErrDuplicateCron.
	RegisterCron(ctx context.Context, entry *Entry) error

	// GetCron retrieves an entry by ID or fails with courier.ErrCronNotFound.
	GetCron(ctx context.Context, entryID id.CronID) (*Entry, error)

	// ListCrons returns all entries.
	ListCrons(ctx context.Context) ([]*Entry, error)

	// UpdateCronEntry persists Enabled, LastRunAt and NextRunAt.
	UpdateCronEntry(ctx context.Context, entry *Entry) error

	// DeleteCron removes an entry by ID.
	DeleteCron(ctx context.Context, entryID id.CronID) error
}
