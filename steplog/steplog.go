// Package steplog is the append-only execution audit trail. Every step of an
// instance produces exactly one entry, committed atomically with the
// instance transition it caused. Entries are never updated or deleted.
package steplog

import (
	"encoding/json"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/workflow"
)

// Outcome is the effect a step had on its instance.
type Outcome string

const (
	// OutcomeAdvanced means the cursor moved to the next node.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeWaiting means a delay node parked the instance.
	OutcomeWaiting Outcome = "waiting"
	// OutcomeCompleted means the instance finished.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRetrying means the step failed and will be retried.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeFailed means the step failed and the instance is terminated.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means a pending cancel request finalized the instance.
	OutcomeCancelled Outcome = "cancelled"
)

// Entry records one attempt of one node.
type Entry struct {
	ID         id.StepID         `json:"id"`
	InstanceID id.InstanceID     `json:"instance_id"`
	WorkflowID id.WorkflowID     `json:"workflow_id"`
	NodeID     id.NodeID         `json:"node_id"`
	NodeKey    string            `json:"node_key"`
	NodeType   workflow.NodeType `json:"node_type"`
	WorkerID   id.WorkerID       `json:"worker_id"`

	// Attempt is 1-based.
	Attempt    int       `json:"attempt"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	InputContext  json.RawMessage `json:"input_context,omitempty"`
	OutputContext json.RawMessage `json:"output_context,omitempty"`

	Success      bool     `json:"success"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Retryable    bool     `json:"retryable,omitempty"`
	MessageIDs   []string `json:"message_ids,omitempty"`
	Outcome      Outcome  `json:"outcome"`
}

// Duration is how long the step ran.
func (e *Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.InputContext != nil {
		cp.InputContext = append(json.RawMessage(nil), e.InputContext...)
	}
	if e.OutputContext != nil {
		cp.OutputContext = append(json.RawMessage(nil), e.OutputContext...)
	}
	if e.MessageIDs != nil {
		cp.MessageIDs = append([]string(nil), e.MessageIDs...)
	}
	return &cp
}
