package store

import (
	"context"

	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store, which is what lets
// steplog.Store.CommitStep update an instance and append its log row in
// one atomic unit.
type Store interface {
	workflow.Store
	trigger.Store
	steplog.Store
	dlq.Store
	cron.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the backend connection.
	Close() error
}
