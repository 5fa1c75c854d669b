package definition_test

import (
	"strings"
	"testing"

	"github.com/xraph/courier/workflow"
	"github.com/xraph/courier/workflow/definition"
)

const welcome = `
code: welcome
entry: gate
nodes:
  - key: gate
    type: branch
  - key: send
    type: email
    config:
      to: ${payload.email}
      subject: Welcome
      body: Hello
  - key: wait
    type: delay
    config:
      seconds: 60
  - key: done
    type: terminal
edges:
  - from: gate
    to: send
    condition: payload.tier == "gold"
  - from: gate
    to: wait
  - from: send
    to: done
  - from: wait
    to: done
`

func TestLoad(t *testing.T) {
	d, err := definition.LoadBytes([]byte(welcome))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Code != "welcome" || d.Name != "welcome" {
		t.Errorf("code/name = %q/%q", d.Code, d.Name)
	}
	if d.Entry != "gate" {
		t.Errorf("entry = %q", d.Entry)
	}
	if len(d.Nodes) != 4 || len(d.Edges) != 4 {
		t.Fatalf("got %d nodes, %d edges", len(d.Nodes), len(d.Edges))
	}
	if d.Nodes[1].Type != workflow.NodeEmail {
		t.Errorf("node 1 type = %q", d.Nodes[1].Type)
	}
	if d.Nodes[1].Config["to"] != "${payload.email}" {
		t.Errorf("email to = %v", d.Nodes[1].Config["to"])
	}
	if d.Edges[0].Condition != `payload.tier == "gold"` {
		t.Errorf("condition = %q", d.Edges[0].Condition)
	}

	g, err := d.Build(1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var dc workflow.DelayConfig
	if err := g.NodeByKey("wait").DecodeConfig(&dc); err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if dc.Seconds != 60 {
		t.Errorf("delay seconds = %d, want 60", dc.Seconds)
	}
	if g.Workflow.EntryNodeID != g.NodeByKey("gate").ID {
		t.Error("entry node not resolved")
	}
	out := g.Outgoing(g.NodeByKey("gate").ID)
	if len(out) != 2 || out[0].Position != 0 || out[1].Position != 1 {
		t.Errorf("outgoing edges not in declaration order: %+v", out)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "empty document"},
		{"no code", "entry: a\n", "code is required"},
		{"unknown type", "code: x\nnodes:\n  - key: a\n    type: fax\n", "unknown type"},
		{"unknown field", "code: x\nbogus: 1\n", "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := definition.Load(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestBuildDuplicateKey(t *testing.T) {
	d := &workflow.Draft{
		Code:  "dup",
		Entry: "a",
		Nodes: []workflow.DraftNode{
			{Key: "a", Type: workflow.NodeTerminal},
			{Key: "a", Type: workflow.NodeTerminal},
		},
	}
	if _, err := d.Build(1); err == nil {
		t.Fatal("expected duplicate key error")
	}
}
