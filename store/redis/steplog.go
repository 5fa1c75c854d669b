package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
)

// CommitStep appends entry and replaces the instance with next while the
// caller still holds the claim. Both the plain and the cancel-finalized
// versions of the write are prepared up front; the script picks one
// atomically.
func (s *Store) CommitStep(ctx context.Context, workerID id.WorkerID, entry *steplog.Entry, next *trigger.Instance) error {
	cancelledNext := next.Clone()
	cancelledNext.CancelRequested = true
	cancelledEntry := entry.Clone()
	if !cancelledNext.Status.IsTerminal() {
		cancelledNext.Finish(trigger.StatusCancelled, entry.FinishedAt)
		cancelledEntry.Outcome = steplog.OutcomeCancelled
	}

	fieldsA, err := instanceFields(next)
	if err != nil {
		return fmt.Errorf("courier/redis: commit step: %w", err)
	}
	fieldsB, err := instanceFields(cancelledNext)
	if err != nil {
		return fmt.Errorf("courier/redis: commit step: %w", err)
	}
	entryA, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("courier/redis: encode step: %w", err)
	}
	entryB, err := json.Marshal(cancelledEntry)
	if err != nil {
		return fmt.Errorf("courier/redis: encode step: %w", err)
	}

	instID := next.ID.String()
	args := make([]any, 0, 7+len(fieldsA)+len(fieldsB))
	args = append(args,
		workerID.String(), instID, string(entryA), string(entryB),
		readyScore(next), readyScore(cancelledNext), strconv.Itoa(len(fieldsA)),
	)
	args = append(args, fieldsA...)
	args = append(args, fieldsB...)

	res, err := commitScript.Run(ctx, s.client, []string{
		s.keys.instance(instID),
		s.keys.steps(instID),
		s.keys.ready(),
		s.keys.processing(),
	}, args...).Int()
	if err != nil {
		return fmt.Errorf("courier/redis: commit step: %w", err)
	}

	switch res {
	case -1:
		return courier.ErrInstanceNotFound
	case 0:
		return courier.ErrClaimLost
	case 2:
		*next = *cancelledNext
		entry.Outcome = cancelledEntry.Outcome
	}
	return nil
}

// ListStepLogs returns the entries of an instance in execution order.
func (s *Store) ListStepLogs(ctx context.Context, instanceID id.InstanceID, opts steplog.ListOpts) ([]*steplog.Entry, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}
	raws, err := s.client.LRange(ctx, s.keys.steps(instanceID.String()), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list step logs: %w", err)
	}

	out := make([]*steplog.Entry, 0, len(raws))
	for _, raw := range raws {
		var e steplog.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("courier/redis: decode step log: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// CountStepLogs returns the number of entries of an instance.
func (s *Store) CountStepLogs(ctx context.Context, instanceID id.InstanceID) (int64, error) {
	n, err := s.client.LLen(ctx, s.keys.steps(instanceID.String())).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count step logs: %w", err)
	}
	return n, nil
}

// readyScore is the ready-set score of inst, or empty when it is not
// claimable.
func readyScore(inst *trigger.Instance) string {
	if !inst.Status.Claimable() {
		return ""
	}
	return score(inst.AvailableAt)
}
