package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
)

// replayMarker is stored in the replay Hash once an entry is replayed.
type replayMarker struct {
	At         time.Time     `json:"at"`
	InstanceID id.InstanceID `json:"instance_id"`
}

// PushDLQ adds a failed instance to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("courier/redis: encode dlq: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.dlq(eID), raw, 0)
	pipe.ZAdd(ctx, s.keys.dlqIDs(), goredis.Z{Score: float64(entry.FailedAt.UnixMicro()), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching opts, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, s.keys.dlqIDs(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list dlq: %w", err)
	}

	var out []*dlq.Entry
	for _, eID := range ids {
		e, getErr := s.getDLQ(ctx, eID)
		if getErr != nil {
			continue
		}
		if !opts.WorkflowID.IsNil() && e.WorkflowID != opts.WorkflowID {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, entryID.String())
}

// MarkDLQReplayed records the replay of an entry. HSETNX on the replay Hash
// makes the first replay win.
func (s *Store) MarkDLQReplayed(ctx context.Context, entryID id.DLQID, replayID id.InstanceID, at time.Time) error {
	eID := entryID.String()
	if _, err := s.getDLQ(ctx, eID); err != nil {
		return err
	}
	raw, err := json.Marshal(replayMarker{At: at, InstanceID: replayID})
	if err != nil {
		return fmt.Errorf("courier/redis: encode replay: %w", err)
	}
	ok, err := s.client.HSetNX(ctx, s.keys.dlqReplays(), eID, raw).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: mark dlq replayed: %w", err)
	}
	if !ok {
		return courier.ErrDLQReplayed
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time and returns
// how many were removed.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.dlqIDs(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + score(before),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: purge dlq: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, s.keys.dlq(eID))
		pipe.ZRem(ctx, s.keys.dlqIDs(), eID)
		pipe.HDel(ctx, s.keys.dlqReplays(), eID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("courier/redis: purge dlq: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.keys.dlqIDs()).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count dlq: %w", err)
	}
	return n, nil
}

func (s *Store) getDLQ(ctx context.Context, eID string) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := s.getJSON(ctx, s.keys.dlq(eID), &e); err != nil {
		if isRedisNil(err) {
			return nil, courier.ErrDLQNotFound
		}
		return nil, fmt.Errorf("courier/redis: get dlq: %w", err)
	}

	raw, err := s.client.HGet(ctx, s.keys.dlqReplays(), eID).Bytes()
	switch {
	case err == nil:
		var m replayMarker
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("courier/redis: decode replay: %w", err)
		}
		at := m.At
		e.ReplayedAt = &at
		e.ReplayInstanceID = m.InstanceID
	case !isRedisNil(err):
		return nil, fmt.Errorf("courier/redis: get replay: %w", err)
	}
	return &e, nil
}
