package memory

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/id"
)

// RegisterCron persists a new cron entry.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return courier.ErrDuplicateCron
		}
	}
	m.crons[entry.ID.String()] = copyCron(entry)
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, courier.ErrCronNotFound
	}
	return copyCron(e), nil
}

// ListCrons returns all cron entries ordered by name.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		out = append(out, copyCron(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateCronEntry replaces a cron entry.
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return courier.ErrCronNotFound
	}
	m.crons[key] = copyCron(entry)
	return nil
}

// DeleteCron removes a cron entry.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return courier.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}

func copyCron(e *cron.Entry) *cron.Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.LastRunAt != nil {
		t := *e.LastRunAt
		cp.LastRunAt = &t
	}
	if e.NextRunAt != nil {
		t := *e.NextRunAt
		cp.NextRunAt = &t
	}
	return &cp
}
