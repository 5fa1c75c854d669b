package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

// score converts a time into a Sorted Set score with microsecond precision.
func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil //nolint:nilnil // unset optional timestamp
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// instanceFields flattens inst into Hash field/value pairs.
func instanceFields(inst *trigger.Instance) ([]any, error) {
	ctxJSON, iterJSON := "", ""
	if len(inst.Context) > 0 {
		b, err := json.Marshal(inst.Context)
		if err != nil {
			return nil, fmt.Errorf("encode context: %w", err)
		}
		ctxJSON = string(b)
	}
	if len(inst.Iterations) > 0 {
		b, err := json.Marshal(inst.Iterations)
		if err != nil {
			return nil, fmt.Errorf("encode iterations: %w", err)
		}
		iterJSON = string(b)
	}
	return []any{
		"id", inst.ID.String(),
		"workflow_id", inst.WorkflowID.String(),
		"workflow_version", strconv.Itoa(inst.WorkflowVersion),
		"idempotency_key", inst.IdempotencyKey,
		"status", string(inst.Status),
		"cursor_node_id", inst.CursorNodeID.String(),
		"attempts", strconv.Itoa(inst.Attempts),
		"available_at", formatTime(inst.AvailableAt),
		"payload", string(inst.Payload),
		"context", ctxJSON,
		"iterations", iterJSON,
		"delay_until", formatTimePtr(inst.DelayUntil),
		"worker_id", inst.WorkerID.String(),
		"claimed_at", formatTimePtr(inst.ClaimedAt),
		"heartbeat_at", formatTimePtr(inst.HeartbeatAt),
		"cancel_requested", formatBool(inst.CancelRequested),
		"last_error", inst.LastError,
		"completed_at", formatTimePtr(inst.CompletedAt),
		"created_at", formatTime(inst.CreatedAt),
		"updated_at", formatTime(inst.UpdatedAt),
	}, nil
}

// instanceFromHash rebuilds an instance from its Hash fields.
func instanceFromHash(m map[string]string) (*trigger.Instance, error) {
	var (
		inst trigger.Instance
		err  error
	)
	if inst.ID, err = id.ParseInstanceID(m["id"]); err != nil {
		return nil, fmt.Errorf("parse instance id: %w", err)
	}
	if inst.WorkflowID, err = id.ParseWorkflowID(m["workflow_id"]); err != nil {
		return nil, fmt.Errorf("parse workflow id: %w", err)
	}
	if err = parseOptionalID(m["cursor_node_id"], id.ParseNodeID, &inst.CursorNodeID); err != nil {
		return nil, fmt.Errorf("parse cursor: %w", err)
	}
	if err = parseOptionalID(m["worker_id"], id.ParseWorkerID, &inst.WorkerID); err != nil {
		return nil, fmt.Errorf("parse worker id: %w", err)
	}

	inst.WorkflowVersion, _ = strconv.Atoi(m["workflow_version"]) //nolint:errcheck // written by instanceFields
	inst.Attempts, _ = strconv.Atoi(m["attempts"])                 //nolint:errcheck // written by instanceFields
	inst.IdempotencyKey = m["idempotency_key"]
	inst.Status = trigger.Status(m["status"])
	inst.CancelRequested = m["cancel_requested"] == "1"
	inst.LastError = m["last_error"]
	if p := m["payload"]; p != "" {
		inst.Payload = json.RawMessage(p)
	}
	if c := m["context"]; c != "" {
		if err = json.Unmarshal([]byte(c), &inst.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if it := m["iterations"]; it != "" {
		if err = json.Unmarshal([]byte(it), &inst.Iterations); err != nil {
			return nil, fmt.Errorf("decode iterations: %w", err)
		}
	}

	times := []struct {
		field string
		dst   *time.Time
	}{
		{"available_at", &inst.AvailableAt},
		{"created_at", &inst.CreatedAt},
		{"updated_at", &inst.UpdatedAt},
	}
	for _, t := range times {
		if *t.dst, err = parseTime(m[t.field]); err != nil {
			return nil, fmt.Errorf("parse %s: %w", t.field, err)
		}
	}
	optional := []struct {
		field string
		dst   **time.Time
	}{
		{"delay_until", &inst.DelayUntil},
		{"claimed_at", &inst.ClaimedAt},
		{"heartbeat_at", &inst.HeartbeatAt},
		{"completed_at", &inst.CompletedAt},
	}
	for _, t := range optional {
		if *t.dst, err = parseTimePtr(m[t.field]); err != nil {
			return nil, fmt.Errorf("parse %s: %w", t.field, err)
		}
	}
	return &inst, nil
}

func parseOptionalID(s string, parse func(string) (id.ID, error), dst *id.ID) error {
	if s == "" {
		*dst = id.Nil
		return nil
	}
	v, err := parse(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
