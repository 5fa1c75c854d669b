package trigger

import (
	"encoding/json"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// Status is the lifecycle state of an instance.
type Status string

const (
	// StatusEnqueued means the instance is eligible for claiming.
	StatusEnqueued Status = "enqueued"
	// StatusProcessing means a worker exclusively holds the instance.
	StatusProcessing Status = "processing"
	// StatusWaiting means the instance is parked until AvailableAt, either
	// on a delay node or after a retryable failure.
	StatusWaiting Status = "waiting"
	// StatusCompleted means the instance reached the end of its graph.
	StatusCompleted Status = "completed"
	// StatusFailed means a step failed permanently or ran out of attempts.
	StatusFailed Status = "failed"
	// StatusCancelled means the instance was cancelled externally.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusEnqueued, StatusProcessing, StatusWaiting,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusEnqueued, StatusProcessing, StatusWaiting:
		return false
	}
	return false
}

// Claimable reports whether a worker may claim an instance in this status.
func (s Status) Claimable() bool {
	return s == StatusEnqueued || s == StatusWaiting
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusEnqueued, StatusWaiting:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		switch to {
		case StatusEnqueued, StatusWaiting, StatusCompleted, StatusFailed, StatusCancelled:
			return true
		case StatusProcessing:
			return false
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		return false
	}
	return false
}

// Instance is one execution of a workflow version in response to a trigger.
type Instance struct {
	courier.Entity

	ID              id.InstanceID `json:"id"`
	WorkflowID      id.WorkflowID `json:"workflow_id"`
	WorkflowVersion int           `json:"workflow_version"`
	IdempotencyKey  string        `json:"idempotency_key"`
	Status          Status        `json:"status"`

	// CursorNodeID is the node about to run. It is nil before the first
	// step and again once the instance is terminal.
	CursorNodeID id.NodeID `json:"cursor_node_id"`

	// Attempts counts failed attempts of the node at the cursor.
	Attempts    int       `json:"attempts"`
	AvailableAt time.Time `json:"available_at"`

	Payload json.RawMessage `json:"payload"`

	// Context holds the outputs of completed steps keyed by node key.
	Context map[string]json.RawMessage `json:"context,omitempty"`

	// Iterations counts visits of loop nodes keyed by node key.
	Iterations map[string]int `json:"iterations,omitempty"`

	// DelayUntil is set while a delay node is armed at the cursor.
	DelayUntil *time.Time `json:"delay_until,omitempty"`

	WorkerID        id.WorkerID `json:"worker_id"`
	ClaimedAt       *time.Time  `json:"claimed_at,omitempty"`
	HeartbeatAt     *time.Time  `json:"heartbeat_at,omitempty"`
	CancelRequested bool        `json:"cancel_requested,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	cp := *i
	if i.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), i.Payload...)
	}
	if i.Context != nil {
		cp.Context = make(map[string]json.RawMessage, len(i.Context))
		for k, v := range i.Context {
			cp.Context[k] = append(json.RawMessage(nil), v...)
		}
	}
	if i.Iterations != nil {
		cp.Iterations = make(map[string]int, len(i.Iterations))
		for k, v := range i.Iterations {
			cp.Iterations[k] = v
		}
	}
	cp.DelayUntil = copyTime(i.DelayUntil)
	cp.ClaimedAt = copyTime(i.ClaimedAt)
	cp.HeartbeatAt = copyTime(i.HeartbeatAt)
	cp.CompletedAt = copyTime(i.CompletedAt)
	return &cp
}

// ContextJSON encodes the accumulated step outputs as one JSON object.
func (i *Instance) ContextJSON() (json.RawMessage, error) {
	if len(i.Context) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(i.Context)
}

// Release clears claim ownership. Called on every transition out of
// processing.
func (i *Instance) Release() {
	i.WorkerID = id.Nil
	i.ClaimedAt = nil
	i.HeartbeatAt = nil
}

// Finish moves the instance to a terminal status at now.
func (i *Instance) Finish(status Status, now time.Time) {
	i.Status = status
	i.CursorNodeID = id.Nil
	i.DelayUntil = nil
	i.CompletedAt = &now
	i.Release()
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
