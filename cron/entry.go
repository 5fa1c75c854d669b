package cron

import (
	"encoding/json"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// Entry is a scheduled trigger of a workflow.
type Entry struct {
	courier.Entity

	ID         id.CronID       `json:"id"`
	Name       string          `json:"name"`
	Schedule   string          `json:"schedule"`
	WorkflowID id.WorkflowID   `json:"workflow_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	LastRunAt  *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time      `json:"next_run_at,omitempty"`
	Enabled    bool            `json:"enabled"`
}
