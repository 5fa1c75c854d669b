package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/workflow"
)

// CreateWorkflow reserves (code, version) and writes the workflow with its
// nodes and edges.
func (s *Store) CreateWorkflow(ctx context.Context, g *workflow.Graph) error {
	wf := g.Workflow
	wfID := wf.ID.String()

	ok, err := s.client.HSetNX(ctx, s.keys.versions(wf.Code), strconv.Itoa(wf.Version), wfID).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: reserve workflow version: %w", err)
	}
	if !ok {
		return courier.ErrWorkflowExists
	}

	stored := *wf
	stored.IsActive = false
	wfJSON, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("courier/redis: encode workflow: %w", err)
	}
	edges := append([]*workflow.Edge(nil), g.Edges...)
	workflow.SortEdges(edges)
	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("courier/redis: encode edges: %w", err)
	}
	nodeFields := make(map[string]any, len(g.Nodes))
	for _, n := range g.Nodes {
		b, encErr := json.Marshal(n)
		if encErr != nil {
			return fmt.Errorf("courier/redis: encode node %s: %w", n.Key, encErr)
		}
		nodeFields[n.ID.String()] = string(b)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.workflow(wfID), wfJSON, 0)
	pipe.Set(ctx, s.keys.edges(wfID), edgesJSON, 0)
	if len(nodeFields) > 0 {
		pipe.HSet(ctx, s.keys.nodes(wfID), nodeFields)
	}
	pipe.SAdd(ctx, s.keys.codes(), wf.Code)
	if wf.IsActive {
		pipe.HSet(ctx, s.keys.active(), wf.Code, wfID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: create workflow: %w", err)
	}
	return nil
}

// GetActiveWorkflow returns the workflow if it exists and is active.
func (s *Store) GetActiveWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.IsActive {
		return nil, courier.ErrWorkflowNotActive
	}
	return wf, nil
}

// GetWorkflow returns the workflow regardless of its active flag. The
// active flag is derived from the per-code active pointer.
func (s *Store) GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if err := s.getJSON(ctx, s.keys.workflow(workflowID.String()), &wf); err != nil {
		if isRedisNil(err) {
			return nil, courier.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("courier/redis: get workflow: %w", err)
	}
	activeID, err := s.client.HGet(ctx, s.keys.active(), wf.Code).Result()
	if err != nil && !isRedisNil(err) {
		return nil, fmt.Errorf("courier/redis: get active version: %w", err)
	}
	wf.IsActive = activeID == wf.ID.String()
	return &wf, nil
}

// GetLatestWorkflow returns the highest version published under code.
func (s *Store) GetLatestWorkflow(ctx context.Context, code string) (*workflow.Workflow, error) {
	versions, err := s.client.HGetAll(ctx, s.keys.versions(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get latest workflow: %w", err)
	}
	latest, latestID := -1, ""
	for v, wfID := range versions {
		n, convErr := strconv.Atoi(v)
		if convErr == nil && n > latest {
			latest, latestID = n, wfID
		}
	}
	if latestID == "" {
		return nil, courier.ErrWorkflowNotFound
	}
	wfID, err := id.ParseWorkflowID(latestID)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse workflow id: %w", err)
	}
	return s.GetWorkflow(ctx, wfID)
}

// GetNode returns a node of the workflow.
func (s *Store) GetNode(ctx context.Context, workflowID id.WorkflowID, nodeID id.NodeID) (*workflow.Node, error) {
	raw, err := s.client.HGet(ctx, s.keys.nodes(workflowID.String()), nodeID.String()).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, courier.ErrNodeNotFound
		}
		return nil, fmt.Errorf("courier/redis: get node: %w", err)
	}
	var n workflow.Node
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return nil, fmt.Errorf("courier/redis: decode node: %w", err)
	}
	return &n, nil
}

// GetOutgoingEdges returns the edges leaving nodeID ordered by Position.
func (s *Store) GetOutgoingEdges(ctx context.Context, workflowID id.WorkflowID, nodeID id.NodeID) ([]*workflow.Edge, error) {
	edges, err := s.ListEdges(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	var out []*workflow.Edge
	for _, e := range edges {
		if e.FromNodeID == nodeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListNodes returns every node of the workflow ordered by key.
func (s *Store) ListNodes(ctx context.Context, workflowID id.WorkflowID) ([]*workflow.Node, error) {
	raws, err := s.client.HVals(ctx, s.keys.nodes(workflowID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list nodes: %w", err)
	}
	out := make([]*workflow.Node, 0, len(raws))
	for _, raw := range raws {
		var n workflow.Node
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return nil, fmt.Errorf("courier/redis: decode node: %w", err)
		}
		out = append(out, &n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListEdges returns every edge of the workflow ordered by Position.
func (s *Store) ListEdges(ctx context.Context, workflowID id.WorkflowID) ([]*workflow.Edge, error) {
	var edges []*workflow.Edge
	if err := s.getJSON(ctx, s.keys.edges(workflowID.String()), &edges); err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("courier/redis: list edges: %w", err)
	}
	return edges, nil
}

// ActivateWorkflow points the code's active slot at the workflow, which
// deactivates every sibling version in one write.
func (s *Store) ActivateWorkflow(ctx context.Context, workflowID id.WorkflowID) error {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.keys.active(), wf.Code, wf.ID.String()).Err(); err != nil {
		return fmt.Errorf("courier/redis: activate workflow: %w", err)
	}
	return nil
}

// DeactivateWorkflow clears the active slot if it names the workflow.
func (s *Store) DeactivateWorkflow(ctx context.Context, workflowID id.WorkflowID) error {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	err = deactivateScript.Run(ctx, s.client, []string{s.keys.active()}, wf.Code, wf.ID.String()).Err()
	if err != nil {
		return fmt.Errorf("courier/redis: deactivate workflow: %w", err)
	}
	return nil
}

// ListWorkflows returns workflows matching opts, newest version first.
func (s *Store) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	codes := []string{opts.Code}
	if opts.Code == "" {
		all, err := s.client.SMembers(ctx, s.keys.codes()).Result()
		if err != nil {
			return nil, fmt.Errorf("courier/redis: list workflow codes: %w", err)
		}
		sort.Strings(all)
		codes = all
	}

	var out []*workflow.Workflow
	for _, code := range codes {
		versions, err := s.client.HGetAll(ctx, s.keys.versions(code)).Result()
		if err != nil {
			return nil, fmt.Errorf("courier/redis: list workflow versions: %w", err)
		}
		var group []*workflow.Workflow
		for _, raw := range versions {
			wfID, parseErr := id.ParseWorkflowID(raw)
			if parseErr != nil {
				continue
			}
			wf, getErr := s.GetWorkflow(ctx, wfID)
			if getErr != nil {
				continue
			}
			if opts.ActiveOnly && !wf.IsActive {
				continue
			}
			group = append(group, wf)
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Version > group[j].Version })
		out = append(out, group...)
	}
	return page(out, opts.Offset, opts.Limit), nil
}
