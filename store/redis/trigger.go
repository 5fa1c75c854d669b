package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

// CreateInstance inserts inst or returns the instance already holding its
// (workflow, idempotency key) pair.
func (s *Store) CreateInstance(ctx context.Context, inst *trigger.Instance) (*trigger.Instance, bool, error) {
	fields, err := instanceFields(inst)
	if err != nil {
		return nil, false, fmt.Errorf("courier/redis: create instance: %w", err)
	}
	instID := inst.ID.String()
	wfID := inst.WorkflowID.String()

	args := append([]any{instID, readyScore(inst), score(inst.CreatedAt)}, fields...)

	res, err := createScript.Run(ctx, s.client, []string{
		s.keys.idempotency(wfID, inst.IdempotencyKey),
		s.keys.instance(instID),
		s.keys.ready(),
		s.keys.instances(),
		s.keys.workflowInstances(wfID),
	}, args...).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("courier/redis: create instance: %w", err)
	}
	if created, _ := res[0].(int64); created == 1 {
		return inst, true, nil
	}

	existingID, _ := res[1].(string)
	existing, err := s.getInstance(ctx, existingID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*trigger.Instance, error) {
	return s.getInstance(ctx, instanceID.String())
}

// GetInstanceByKey retrieves an instance by its idempotency key.
func (s *Store) GetInstanceByKey(ctx context.Context, workflowID id.WorkflowID, key string) (*trigger.Instance, error) {
	instID, err := s.client.Get(ctx, s.keys.idempotency(workflowID.String(), key)).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, courier.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("courier/redis: get instance by key: %w", err)
	}
	return s.getInstance(ctx, instID)
}

// ClaimNext claims the due instance with the earliest AvailableAt.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*trigger.Instance, error) {
	instID, err := claimScript.Run(ctx, s.client,
		[]string{s.keys.ready(), s.keys.processing()},
		score(now), workerID.String(), formatTime(now), s.keys.instancePrefix(),
	).Text()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("courier/redis: claim next: %w", err)
	}
	return s.getInstance(ctx, instID)
}

// HeartbeatInstance refreshes the heartbeat of a held claim.
func (s *Store) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID, workerID id.WorkerID, now time.Time) error {
	instID := instanceID.String()
	res, err := heartbeatScript.Run(ctx, s.client,
		[]string{s.keys.instance(instID), s.keys.processing()},
		instID, workerID.String(), score(now), formatTime(now),
	).Int()
	if err != nil {
		return fmt.Errorf("courier/redis: heartbeat instance: %w", err)
	}
	switch res {
	case -1:
		return courier.ErrInstanceNotFound
	case 0:
		return courier.ErrClaimLost
	}
	return nil
}

// CancelInstance finalizes an enqueued or waiting instance and flags a
// processing one.
func (s *Store) CancelInstance(ctx context.Context, instanceID id.InstanceID, now time.Time) (*trigger.Instance, error) {
	instID := instanceID.String()
	res, err := cancelScript.Run(ctx, s.client,
		[]string{s.keys.instance(instID), s.keys.ready()},
		instID, formatTime(now),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: cancel instance: %w", err)
	}
	switch res {
	case -1:
		return nil, courier.ErrInstanceNotFound
	case 0:
		return nil, courier.ErrInvalidState
	}
	return s.getInstance(ctx, instID)
}

// ReleaseStale returns processing instances whose heartbeat expired to
// waiting, or finalizes them when a cancel is pending.
func (s *Store) ReleaseStale(ctx context.Context, threshold time.Duration, now time.Time) ([]*trigger.Instance, error) {
	ids, err := releaseScript.Run(ctx, s.client,
		[]string{s.keys.processing(), s.keys.ready()},
		score(now.Add(-threshold)), score(now), formatTime(now), s.keys.instancePrefix(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: release stale: %w", err)
	}
	return s.getInstances(ctx, ids)
}

// ListInstances returns instances matching opts, newest first.
func (s *Store) ListInstances(ctx context.Context, opts trigger.ListOpts) ([]*trigger.Instance, error) {
	all, err := s.matchingInstances(ctx, opts.WorkflowID, opts.Status)
	if err != nil {
		return nil, err
	}
	return page(all, opts.Offset, opts.Limit), nil
}

// CountInstances returns the number of instances matching opts.
func (s *Store) CountInstances(ctx context.Context, opts trigger.CountOpts) (int64, error) {
	if opts.Status == "" {
		key := s.keys.instances()
		if !opts.WorkflowID.IsNil() {
			key = s.keys.workflowInstances(opts.WorkflowID.String())
		}
		n, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("courier/redis: count instances: %w", err)
		}
		return n, nil
	}
	all, err := s.matchingInstances(ctx, opts.WorkflowID, opts.Status)
	if err != nil {
		return 0, err
	}
	return int64(len(all)), nil
}

// matchingInstances walks the creation index newest first and filters by
// status in memory.
func (s *Store) matchingInstances(ctx context.Context, workflowID id.WorkflowID, status trigger.Status) ([]*trigger.Instance, error) {
	key := s.keys.instances()
	if !workflowID.IsNil() {
		key = s.keys.workflowInstances(workflowID.String())
	}
	ids, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list instances: %w", err)
	}
	all, err := s.getInstances(ctx, ids)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	out := all[:0]
	for _, inst := range all {
		if inst.Status == status {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *Store) getInstance(ctx context.Context, instID string) (*trigger.Instance, error) {
	m, err := s.client.HGetAll(ctx, s.keys.instance(instID)).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get instance: %w", err)
	}
	if len(m) == 0 {
		return nil, courier.ErrInstanceNotFound
	}
	inst, err := instanceFromHash(m)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: decode instance %s: %w", instID, err)
	}
	return inst, nil
}

// getInstances fetches instances in one pipeline, skipping missing ones.
func (s *Store) getInstances(ctx context.Context, ids []string) ([]*trigger.Instance, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, instID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.instance(instID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("courier/redis: get instances: %w", err)
	}

	out := make([]*trigger.Instance, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		inst, err := instanceFromHash(m)
		if err != nil {
			return nil, fmt.Errorf("courier/redis: decode instance %s: %w", ids[i], err)
		}
		out = append(out, inst)
	}
	return out, nil
}
