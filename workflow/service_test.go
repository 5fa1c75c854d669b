package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/courier"
	"github.com/xraph/courier/graph"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/workflow"
)

func draft(code string) *workflow.Draft {
	return &workflow.Draft{
		Code:  code,
		Name:  "Welcome",
		Entry: "mail",
		Nodes: []workflow.DraftNode{
			{Key: "mail", Type: workflow.NodeEmail, Config: map[string]any{
				"to": "${payload.email}", "subject": "Hi", "body": "Welcome",
			}},
			{Key: "end", Type: workflow.NodeTerminal},
		},
		Edges: []workflow.DraftEdge{{From: "mail", To: "end"}},
	}
}

func TestBuild_ResolvesKeys(t *testing.T) {
	g, err := draft("welcome").Build(3)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.Workflow.Version != 3 || g.Workflow.IsActive {
		t.Errorf("workflow = %+v", g.Workflow)
	}
	mail, end := g.NodeByKey("mail"), g.NodeByKey("end")
	if mail == nil || end == nil {
		t.Fatal("nodes not found by key")
	}
	if g.Workflow.EntryNodeID != mail.ID {
		t.Error("entry should resolve to the mail node")
	}
	if len(g.Edges) != 1 || g.Edges[0].FromNodeID != mail.ID || g.Edges[0].ToNodeID != end.ID {
		t.Errorf("edges = %+v", g.Edges)
	}
	for _, n := range g.Nodes {
		if n.WorkflowID != g.Workflow.ID {
			t.Errorf("node %q belongs to %s", n.Key, n.WorkflowID)
		}
	}
}

func TestBuild_DuplicateKey(t *testing.T) {
	d := draft("welcome")
	d.Nodes = append(d.Nodes, workflow.DraftNode{Key: "end", Type: workflow.NodeTerminal})
	if _, err := d.Build(1); err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestBuild_UnknownEdgeEndpointFailsValidation(t *testing.T) {
	d := draft("welcome")
	d.Edges = append(d.Edges, workflow.DraftEdge{From: "end", To: "ghost"})
	g, err := d.Build(1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := graph.Validate(g); !errors.Is(err, courier.ErrGraphInvalid) {
		t.Fatalf("expected ErrGraphInvalid, got %v", err)
	}
}

func TestService_PublishBumpsVersion(t *testing.T) {
	ctx := context.Background()
	svc := workflow.NewService(memory.New(), graph.Validate, nil)

	v1, err := svc.Publish(ctx, draft("welcome"))
	if err != nil {
		t.Fatalf("Publish v1: %v", err)
	}
	v2, err := svc.Publish(ctx, draft("welcome"))
	if err != nil {
		t.Fatalf("Publish v2: %v", err)
	}
	other, err := svc.Publish(ctx, draft("digest"))
	if err != nil {
		t.Fatalf("Publish other: %v", err)
	}

	if v1.Workflow.Version != 1 || v2.Workflow.Version != 2 || other.Workflow.Version != 1 {
		t.Errorf("versions = %d, %d, %d", v1.Workflow.Version, v2.Workflow.Version, other.Workflow.Version)
	}
	if v1.Workflow.ID == v2.Workflow.ID || v1.Nodes[0].ID == v2.Nodes[0].ID {
		t.Error("each version must get fresh ids")
	}

	list, err := svc.List(ctx, workflow.ListOpts{Code: "welcome"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Version != 2 {
		t.Errorf("expected newest first, got %d workflows", len(list))
	}
}

func TestService_PublishRejectsInvalidGraph(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := workflow.NewService(s, graph.Validate, nil)

	d := draft("welcome")
	d.Nodes = append(d.Nodes, workflow.DraftNode{Key: "orphan", Type: workflow.NodeTerminal})
	if _, err := svc.Publish(ctx, d); !errors.Is(err, courier.ErrGraphInvalid) {
		t.Fatalf("expected ErrGraphInvalid, got %v", err)
	}
	if _, err := s.GetLatestWorkflow(ctx, "welcome"); !errors.Is(err, courier.ErrWorkflowNotFound) {
		t.Errorf("invalid draft must not be stored, got %v", err)
	}
}

func TestService_ActivateSwitchesVersion(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := workflow.NewService(s, graph.Validate, nil)

	v1, _ := svc.Publish(ctx, draft("welcome"))
	v2, _ := svc.Publish(ctx, draft("welcome"))

	if err := svc.Activate(ctx, v1.Workflow.ID); err != nil {
		t.Fatalf("Activate v1: %v", err)
	}
	if err := svc.Activate(ctx, v2.Workflow.ID); err != nil {
		t.Fatalf("Activate v2: %v", err)
	}

	if _, err := s.GetActiveWorkflow(ctx, v1.Workflow.ID); !errors.Is(err, courier.ErrWorkflowNotActive) {
		t.Errorf("v1 should be inactive, got %v", err)
	}
	if _, err := s.GetActiveWorkflow(ctx, v2.Workflow.ID); err != nil {
		t.Errorf("v2 should be active: %v", err)
	}

	if err := svc.Deactivate(ctx, v2.Workflow.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := s.GetActiveWorkflow(ctx, v2.Workflow.ID); !errors.Is(err, courier.ErrWorkflowNotActive) {
		t.Errorf("v2 should be inactive, got %v", err)
	}
}

func TestService_GraphRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := workflow.NewService(memory.New(), graph.Validate, nil)

	published, err := svc.Publish(ctx, draft("welcome"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	g, err := svc.Graph(ctx, published.Workflow.ID)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Errorf("graph has %d nodes, %d edges", len(g.Nodes), len(g.Edges))
	}
	var cfg workflow.EmailConfig
	if err := g.NodeByKey("mail").DecodeConfig(&cfg); err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.To != "${payload.email}" {
		t.Errorf("config to = %q", cfg.To)
	}
}
