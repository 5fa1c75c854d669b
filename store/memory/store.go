// Package memory provides a fully in-memory implementation of store.Store.
// It is safe for concurrent access and intended for unit testing and
// development. A single mutex guards all state, which makes every
// compare-and-swap in the store contract trivially atomic.
package memory

import (
	"context"
	"sync"

	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

// Ensure Store implements every subsystem store at compile time.
// store.Store cannot be imported here without a cycle in tests.
var (
	_ workflow.Store = (*Store)(nil)
	_ trigger.Store  = (*Store)(nil)
	_ steplog.Store  = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	workflows map[string]*workflow.Workflow
	nodes     map[string]*workflow.Node   // key: node id
	edges     map[string][]*workflow.Edge // key: workflow id

	instances map[string]*trigger.Instance
	byKey     map[string]string // key: "workflowID\x00idempotencyKey"
	steps     map[string][]*steplog.Entry

	dlqs  map[string]*dlq.Entry
	crons map[string]*cron.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		workflows: make(map[string]*workflow.Workflow),
		nodes:     make(map[string]*workflow.Node),
		edges:     make(map[string][]*workflow.Edge),
		instances: make(map[string]*trigger.Instance),
		byKey:     make(map[string]string),
		steps:     make(map[string][]*steplog.Entry),
		dlqs:      make(map[string]*dlq.Entry),
		crons:     make(map[string]*cron.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// page applies offset and limit to an already ordered slice.
func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
