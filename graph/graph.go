// Package graph validates that a workflow's nodes and edges form an
// executable graph. Validation is a pure check; it reports every violation
// found so a definition can be fixed in one pass.
package graph

import (
	"fmt"
	"strings"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// Violation codes.
const (
	CodeEntryMissing       = "entry_missing"
	CodeDuplicateKey       = "duplicate_key"
	CodeUnknownType        = "unknown_type"
	CodeInvalidConfig      = "invalid_config"
	CodeDanglingEdge       = "dangling_edge"
	CodeUnreachable        = "unreachable"
	CodeFanOut             = "fan_out"
	CodeTerminalOutgoing   = "terminal_outgoing"
	CodeBranchNoEdges      = "branch_no_edges"
	CodeUnguardedCondition = "condition_on_non_branch"
	CodeInvalidCondition   = "invalid_condition"
	CodeCycle              = "cycle"
	CodeUnboundedLoop      = "unbounded_loop"
)

// Violation is one problem found in a workflow graph. NodeID or EdgeID
// point at the offending element when there is one.
type Violation struct {
	Code    string    `json:"code"`
	NodeID  id.NodeID `json:"node_id,omitempty"`
	EdgeID  id.EdgeID `json:"edge_id,omitempty"`
	Message string    `json:"message"`
}

func (v Violation) String() string {
	return v.Code + ": " + v.Message
}

// InvalidError lists every violation of a rejected graph.
// errors.Is(err, courier.ErrGraphInvalid) holds for it.
type InvalidError struct {
	WorkflowID id.WorkflowID `json:"workflow_id"`
	Violations []Violation   `json:"violations"`
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%s: %s", courier.ErrGraphInvalid, strings.Join(msgs, "; "))
}

func (e *InvalidError) Unwrap() error { return courier.ErrGraphInvalid }

// Has reports whether a violation with the given code was found.
func (e *InvalidError) Has(code string) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}
