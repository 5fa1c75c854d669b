package workflow

import (
	"sort"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// Workflow is one published version of a notification pipeline.
type Workflow struct {
	courier.Entity

	ID          id.WorkflowID `json:"id"`
	Code        string        `json:"code"`
	Name        string        `json:"name"`
	Version     int           `json:"version"`
	IsActive    bool          `json:"is_active"`
	EntryNodeID id.NodeID     `json:"entry_node_id"`
}

// Graph is a workflow together with its full node and edge set.
type Graph struct {
	Workflow *Workflow `json:"workflow"`
	Nodes    []*Node   `json:"nodes"`
	Edges    []*Edge   `json:"edges"`
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(nodeID id.NodeID) *Node {
	for _, n := range g.Nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// NodeByKey returns the node with the given key, or nil.
func (g *Graph) NodeByKey(key string) *Node {
	for _, n := range g.Nodes {
		if n.Key == key {
			return n
		}
	}
	return nil
}

// Outgoing returns the edges leaving nodeID in declaration order.
func (g *Graph) Outgoing(nodeID id.NodeID) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.FromNodeID == nodeID {
			out = append(out, e)
		}
	}
	SortEdges(out)
	return out
}

// SortEdges orders edges by Position, the order they were declared in.
func SortEdges(edges []*Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Position < edges[j].Position
	})
}
