package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/id"
)

// RegisterCron persists a new cron entry. The name index is claimed first
// with HSETNX, so concurrent registrations of one name resolve to one.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()

	ok, err := s.client.HSetNX(ctx, s.keys.cronNames(), entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: register cron check name: %w", err)
	}
	if !ok {
		return courier.ErrDuplicateCron
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("courier/redis: encode cron: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.cron(eID), raw, 0)
	pipe.SAdd(ctx, s.keys.cronIDs(), eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	return s.getCron(ctx, entryID.String())
}

// ListCrons returns all cron entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, s.keys.cronIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list crons: %w", err)
	}
	out := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getCron(ctx, eID)
		if getErr != nil {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateCronEntry persists Enabled, LastRunAt and NextRunAt.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()
	stored, err := s.getCron(ctx, eID)
	if err != nil {
		return err
	}
	stored.Enabled = entry.Enabled
	stored.LastRunAt = entry.LastRunAt
	stored.NextRunAt = entry.NextRunAt
	stored.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("courier/redis: encode cron: %w", err)
	}
	if err := s.client.Set(ctx, s.keys.cron(eID), raw, 0).Err(); err != nil {
		return fmt.Errorf("courier/redis: update cron entry: %w", err)
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	e, err := s.getCron(ctx, eID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keys.cron(eID))
	pipe.SRem(ctx, s.keys.cronIDs(), eID)
	pipe.HDel(ctx, s.keys.cronNames(), e.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: delete cron: %w", err)
	}
	return nil
}

func (s *Store) getCron(ctx context.Context, eID string) (*cron.Entry, error) {
	var e cron.Entry
	if err := s.getJSON(ctx, s.keys.cron(eID), &e); err != nil {
		if isRedisNil(err) {
			return nil, courier.ErrCronNotFound
		}
		return nil, fmt.Errorf("courier/redis: get cron: %w", err)
	}
	return &e, nil
}
