package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// NodeType is the closed set of node kinds a workflow may contain.
type NodeType string

const (
	// NodeEmail sends an email through the delivery provider.
	NodeEmail NodeType = "email"
	// NodeSMS sends a text message through the delivery provider.
	NodeSMS NodeType = "sms"
	// NodeDelay parks the instance until a fixed amount of time has passed.
	NodeDelay NodeType = "delay"
	// NodeBranch picks the first outgoing edge whose condition matches.
	NodeBranch NodeType = "branch"
	// NodeTerminal ends the instance.
	NodeTerminal NodeType = "terminal"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeEmail, NodeSMS, NodeDelay, NodeBranch, NodeTerminal:
		return true
	}
	return false
}

// IsAction reports whether the node calls a delivery provider.
func (t NodeType) IsAction() bool {
	return t == NodeEmail || t == NodeSMS
}

// Node is a single step of a workflow graph.
type Node struct {
	courier.Entity

	ID         id.NodeID       `json:"id"`
	WorkflowID id.WorkflowID   `json:"workflow_id"`
	Key        string          `json:"key"`
	Type       NodeType        `json:"type"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Edge is a directed connection between two nodes of the same workflow.
// Condition is only meaningful on edges leaving a branch node; an empty
// condition always matches.
type Edge struct {
	courier.Entity

	ID         id.EdgeID     `json:"id"`
	WorkflowID id.WorkflowID `json:"workflow_id"`
	FromNodeID id.NodeID     `json:"from_node_id"`
	ToNodeID   id.NodeID     `json:"to_node_id"`
	Condition  string        `json:"condition,omitempty"`
	Position   int           `json:"position"`
}

// EmailConfig is the configuration of an email node. Every field is a
// template rendered against the instance payload and context.
type EmailConfig struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SMSConfig is the configuration of an sms node.
type SMSConfig struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// DelayConfig is the configuration of a delay node.
type DelayConfig struct {
	Seconds int `json:"seconds"`
}

// LoopConfig marks a node as a bounded-iteration construct. Any node type
// may carry it. A cycle in the graph is only accepted when a node on it is
// marked as a loop with MaxIterations > 0.
type LoopConfig struct {
	Loop          bool `json:"loop"`
	MaxIterations int  `json:"max_iterations"`
}

// DecodeConfig unmarshals the node configuration into v.
// An empty configuration leaves v untouched.
func (n *Node) DecodeConfig(v any) error {
	if len(n.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Config, v); err != nil {
		return fmt.Errorf("decode %s config of node %q: %w", n.Type, n.Key, err)
	}
	return nil
}

// Loop returns the loop marker of the node. A malformed configuration
// yields the zero LoopConfig; the graph validator reports it separately.
func (n *Node) Loop() LoopConfig {
	var lc LoopConfig
	_ = n.DecodeConfig(&lc) //nolint:errcheck // malformed config reported by validation
	return lc
}
