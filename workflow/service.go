package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// ValidateFunc checks that a graph is executable. graph.Validate satisfies it.
type ValidateFunc func(g *Graph) error

// Draft is an unpublished workflow definition that references nodes by key.
type Draft struct {
	Code  string      `json:"code"`
	Name  string      `json:"name"`
	Entry string      `json:"entry"`
	Nodes []DraftNode `json:"nodes"`
	Edges []DraftEdge `json:"edges"`
}

// DraftNode is a node of a Draft.
type DraftNode struct {
	Key    string         `json:"key"`
	Type   NodeType       `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// DraftEdge is an edge of a Draft. From and To are node keys.
type DraftEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// Build turns the draft into a Graph with fresh ids at the given version.
// Edge endpoints or an entry key that name no node resolve to the nil id
// so that validation reports them.
func (d *Draft) Build(version int) (*Graph, error) {
	wf := &Workflow{
		Entity:  courier.NewEntity(),
		ID:      id.NewWorkflowID(),
		Code:    d.Code,
		Name:    d.Name,
		Version: version,
	}
	g := &Graph{Workflow: wf}

	keys := make(map[string]id.NodeID, len(d.Nodes))
	for _, dn := range d.Nodes {
		if _, dup := keys[dn.Key]; dup {
			return nil, fmt.Errorf("workflow %q: duplicate node key %q", d.Code, dn.Key)
		}
		var raw json.RawMessage
		if len(dn.Config) > 0 {
			b, err := json.Marshal(dn.Config)
			if err != nil {
				return nil, fmt.Errorf("workflow %q: encode config of node %q: %w", d.Code, dn.Key, err)
			}
			raw = b
		}
		n := &Node{
			Entity:     courier.NewEntity(),
			ID:         id.NewNodeID(),
			WorkflowID: wf.ID,
			Key:        dn.Key,
			Type:       dn.Type,
			Config:     raw,
		}
		keys[dn.Key] = n.ID
		g.Nodes = append(g.Nodes, n)
	}

	wf.EntryNodeID = keys[d.Entry]
	for i, de := range d.Edges {
		g.Edges = append(g.Edges, &Edge{
			Entity:     courier.NewEntity(),
			ID:         id.NewEdgeID(),
			WorkflowID: wf.ID,
			FromNodeID: keys[de.From],
			ToNodeID:   keys[de.To],
			Condition:  de.Condition,
			Position:   i,
		})
	}
	return g, nil
}

// Service publishes and activates workflow versions.
type Service struct {
	store    Store
	validate ValidateFunc
	logger   *slog.Logger
}

// NewService creates a workflow service. validate gates both publishing and
// activation.
func NewService(store Store, validate ValidateFunc, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, validate: validate, logger: logger}
}

// Publish validates the draft and stores it as the next version of its code.
// The new version starts inactive.
func (s *Service) Publish(ctx context.Context, d *Draft) (*Graph, error) {
	version := 1
	latest, err := s.store.GetLatestWorkflow(ctx, d.Code)
	switch {
	case err == nil:
		version = latest.Version + 1
	case errors.Is(err, courier.ErrWorkflowNotFound):
	default:
		return nil, fmt.Errorf("workflow: latest version of %q: %w", d.Code, err)
	}

	g, err := d.Build(version)
	if err != nil {
		return nil, err
	}
	if s.validate != nil {
		if err := s.validate(g); err != nil {
			return nil, err
		}
	}
	if err := s.store.CreateWorkflow(ctx, g); err != nil {
		return nil, fmt.Errorf("workflow: create %q v%d: %w", d.Code, version, err)
	}

	s.logger.Info("workflow published",
		slog.String("workflow_id", g.Workflow.ID.String()),
		slog.String("code", d.Code),
		slog.Int("version", version),
	)
	return g, nil
}

// Graph loads the full node and edge set of a workflow.
func (s *Service) Graph(ctx context.Context, workflowID id.WorkflowID) (*Graph, error) {
	return LoadGraph(ctx, s.store, workflowID)
}

// Activate re-validates the stored graph and makes it the active version of
// its code.
func (s *Service) Activate(ctx context.Context, workflowID id.WorkflowID) error {
	g, err := s.Graph(ctx, workflowID)
	if err != nil {
		return err
	}
	if s.validate != nil {
		if err := s.validate(g); err != nil {
			return err
		}
	}
	if err := s.store.ActivateWorkflow(ctx, workflowID); err != nil {
		return fmt.Errorf("workflow: activate %s: %w", workflowID, err)
	}
	s.logger.Info("workflow activated",
		slog.String("workflow_id", workflowID.String()),
		slog.String("code", g.Workflow.Code),
		slog.Int("version", g.Workflow.Version),
	)
	return nil
}

// Deactivate stops new ingestions against the workflow.
func (s *Service) Deactivate(ctx context.Context, workflowID id.WorkflowID) error {
	if err := s.store.DeactivateWorkflow(ctx, workflowID); err != nil {
		return fmt.Errorf("workflow: deactivate %s: %w", workflowID, err)
	}
	return nil
}

// List returns workflows matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Workflow, error) {
	return s.store.ListWorkflows(ctx, opts)
}

// LoadGraph assembles a Graph from the store.
func LoadGraph(ctx context.Context, store Store, workflowID id.WorkflowID) (*Graph, error) {
	wf, err := store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	nodes, err := store.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow: list nodes: %w", err)
	}
	edges, err := store.ListEdges(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow: list edges: %w", err)
	}
	return &Graph{Workflow: wf, Nodes: nodes, Edges: edges}, nil
}
