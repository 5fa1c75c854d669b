package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/workflow"
)

// CreateWorkflow persists a workflow with its nodes and edges.
func (m *Store) CreateWorkflow(_ context.Context, g *workflow.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf := g.Workflow
	for _, existing := range m.workflows {
		if existing.ID == wf.ID || (existing.Code == wf.Code && existing.Version == wf.Version) {
			return courier.ErrWorkflowExists
		}
	}

	cp := *wf
	m.workflows[wf.ID.String()] = &cp
	for _, n := range g.Nodes {
		m.nodes[n.ID.String()] = copyNode(n)
	}
	edges := make([]*workflow.Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		ec := *e
		edges = append(edges, &ec)
	}
	workflow.SortEdges(edges)
	m.edges[wf.ID.String()] = edges
	return nil
}

// GetActiveWorkflow returns the workflow if it exists and is active.
func (m *Store) GetActiveWorkflow(_ context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[workflowID.String()]
	if !ok {
		return nil, courier.ErrWorkflowNotFound
	}
	if !wf.IsActive {
		return nil, courier.ErrWorkflowNotActive
	}
	cp := *wf
	return &cp, nil
}

// GetWorkflow returns the workflow regardless of its active flag.
func (m *Store) GetWorkflow(_ context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[workflowID.String()]
	if !ok {
		return nil, courier.ErrWorkflowNotFound
	}
	cp := *wf
	return &cp, nil
}

// GetLatestWorkflow returns the highest version published under code.
func (m *Store) GetLatestWorkflow(_ context.Context, code string) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *workflow.Workflow
	for _, wf := range m.workflows {
		if wf.Code == code && (latest == nil || wf.Version > latest.Version) {
			latest = wf
		}
	}
	if latest == nil {
		return nil, courier.ErrWorkflowNotFound
	}
	cp := *latest
	return &cp, nil
}

// GetNode returns a node of the workflow.
func (m *Store) GetNode(_ context.Context, workflowID id.WorkflowID, nodeID id.NodeID) (*workflow.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[nodeID.String()]
	if !ok || n.WorkflowID != workflowID {
		return nil, courier.ErrNodeNotFound
	}
	return copyNode(n), nil
}

// GetOutgoingEdges returns the edges leaving nodeID ordered by Position.
func (m *Store) GetOutgoingEdges(_ context.Context, workflowID id.WorkflowID, nodeID id.NodeID) ([]*workflow.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Edge
	for _, e := range m.edges[workflowID.String()] {
		if e.FromNodeID == nodeID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListNodes returns every node of the workflow ordered by key.
func (m *Store) ListNodes(_ context.Context, workflowID id.WorkflowID) ([]*workflow.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Node
	for _, n := range m.nodes {
		if n.WorkflowID == workflowID {
			out = append(out, copyNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListEdges returns every edge of the workflow ordered by Position.
func (m *Store) ListEdges(_ context.Context, workflowID id.WorkflowID) ([]*workflow.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := m.edges[workflowID.String()]
	out := make([]*workflow.Edge, 0, len(edges))
	for _, e := range edges {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// ActivateWorkflow activates the workflow and deactivates its siblings.
func (m *Store) ActivateWorkflow(_ context.Context, workflowID id.WorkflowID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[workflowID.String()]
	if !ok {
		return courier.ErrWorkflowNotFound
	}
	now := time.Now().UTC()
	for _, other := range m.workflows {
		if other.Code == wf.Code && other.IsActive && other.ID != wf.ID {
			other.IsActive = false
			other.UpdatedAt = now
		}
	}
	wf.IsActive = true
	wf.UpdatedAt = now
	return nil
}

// DeactivateWorkflow clears the active flag.
func (m *Store) DeactivateWorkflow(_ context.Context, workflowID id.WorkflowID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[workflowID.String()]
	if !ok {
		return courier.ErrWorkflowNotFound
	}
	wf.IsActive = false
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

// ListWorkflows returns workflows matching opts, newest version first.
func (m *Store) ListWorkflows(_ context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Workflow
	for _, wf := range m.workflows {
		if opts.Code != "" && wf.Code != opts.Code {
			continue
		}
		if opts.ActiveOnly && !wf.IsActive {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Version > out[j].Version
	})
	return page(out, opts.Offset, opts.Limit), nil
}

func copyNode(n *workflow.Node) *workflow.Node {
	cp := *n
	if n.Config != nil {
		cp.Config = append(json.RawMessage(nil), n.Config...)
	}
	return &cp
}
