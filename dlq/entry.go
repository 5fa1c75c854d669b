package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/courier/id"
)

// Entry is a failed instance captured for inspection or replay.
type Entry struct {
	ID               id.DLQID        `json:"id"`
	InstanceID       id.InstanceID   `json:"instance_id"`
	WorkflowID       id.WorkflowID   `json:"workflow_id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	NodeID           id.NodeID       `json:"node_id"`
	Payload          json.RawMessage `json:"payload"`
	Error            string          `json:"error"`
	Attempts         int             `json:"attempts"`
	FailedAt         time.Time       `json:"failed_at"`
	ReplayedAt       *time.Time      `json:"replayed_at,omitempty"`
	ReplayInstanceID id.InstanceID   `json:"replay_instance_id"`
	CreatedAt        time.Time       `json:"created_at"`
}
