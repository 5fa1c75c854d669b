package workflow

import (
	"context"

	"github.com/xraph/courier/id"
)

// ListOpts controls pagination for workflow list queries.
type ListOpts struct {
	// Limit is the maximum number of workflows to return. Zero means no limit.
	Limit int
	// Offset is the number of workflows to skip.
	Offset int
	// Code filters by workflow code. Empty means all codes.
	Code string
	// ActiveOnly restricts the result to active versions.
	ActiveOnly bool
}

// Reader is the read side of the definition store used while executing
// instances. Definitions are read-only from the engine's perspective.
type Reader interface {
	// GetActiveWorkflow returns the workflow if it exists and is active.
	// It fails with courier.ErrWorkflowNotFound or courier.ErrWorkflowNotActive.
	GetActiveWorkflow(ctx context.Context, workflowID id.WorkflowID) (*Workflow, error)

	// GetWorkflow returns the workflow regardless of its active flag.
	GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*Workflow, error)

	// GetNode returns a node of the workflow or courier.ErrNodeNotFound.
	GetNode(ctx context.Context, workflowID id.WorkflowID, nodeID id.NodeID) (*Node, error)

	// GetOutgoingEdges returns the edges leaving nodeID ordered by Position.
	GetOutgoingEdges(ctx context.Context, workflowID id.WorkflowID, nodeID id.NodeID) ([]*Edge, error)
}

// Store defines the persistence contract for workflow definitions.
type Store interface {
	Reader

	// CreateWorkflow persists a workflow together with its nodes and edges
	// in one atomic unit. It fails with courier.ErrWorkflowExists when the
	// (code, version) pair is already taken.
	CreateWorkflow(ctx context.Context, g *Graph) error

	// GetLatestWorkflow returns the highest version published under code.
	GetLatestWorkflow(ctx context.Context, code string) (*Workflow, error)

	// ListNodes returns every node of the workflow.
	ListNodes(ctx context.Context, workflowID id.WorkflowID) ([]*Node, error)

	// ListEdges returns every edge of the workflow ordered by Position.
	ListEdges(ctx context.Context, workflowID id.WorkflowID) ([]*Edge, error)

	// ActivateWorkflow marks the workflow active and deactivates every
	// other version sharing its code.
	ActivateWorkflow(ctx context.Context, workflowID id.WorkflowID) error

	// DeactivateWorkflow clears the active flag. Running instances keep
	// executing against the version they were ingested on.
	DeactivateWorkflow(ctx context.Context, workflowID id.WorkflowID) error

	// ListWorkflows returns workflows matching opts, newest version first.
	ListWorkflows(ctx context.Context, opts ListOpts) ([]*Workflow, error)
}
