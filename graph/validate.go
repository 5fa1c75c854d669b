package graph

import (
	"fmt"

	"github.com/xraph/courier/condition"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/workflow"
)

var allowedRoots = map[string]bool{
	condition.RootPayload: true,
	condition.RootContext: true,
	condition.RootAttempt: true,
}

type checker struct {
	g          *workflow.Graph
	nodes      map[id.NodeID]*workflow.Node
	out        map[id.NodeID][]*workflow.Edge
	violations []Violation
}

func (c *checker) add(v Violation) { c.violations = append(c.violations, v) }

// Validate checks g and returns an *InvalidError listing every violation,
// or nil when the graph is executable.
//
// A graph is executable when its entry node exists, every node is reachable
// from the entry, edges stay inside the workflow, non-branch nodes have at
// most one outgoing edge, terminal nodes have none, node configurations
// decode for their type, branch conditions parse, and every cycle passes
// through a loop node with a positive max_iterations.
func Validate(g *workflow.Graph) error {
	c := &checker{
		g:     g,
		nodes: make(map[id.NodeID]*workflow.Node, len(g.Nodes)),
		out:   make(map[id.NodeID][]*workflow.Edge),
	}

	c.checkNodes()
	c.checkEdges()
	c.checkEntry()
	c.checkOutDegree()
	c.checkReachable()
	c.checkCycles()

	if len(c.violations) == 0 {
		return nil
	}
	return &InvalidError{WorkflowID: g.Workflow.ID, Violations: c.violations}
}

func (c *checker) checkNodes() {
	keys := make(map[string]bool, len(c.g.Nodes))
	for _, n := range c.g.Nodes {
		c.nodes[n.ID] = n
		if keys[n.Key] {
			c.add(Violation{Code: CodeDuplicateKey, NodeID: n.ID,
				Message: fmt.Sprintf("node key %q is used more than once", n.Key)})
		}
		keys[n.Key] = true

		if !n.Type.Valid() {
			c.add(Violation{Code: CodeUnknownType, NodeID: n.ID,
				Message: fmt.Sprintf("node %q has unknown type %q", n.Key, n.Type)})
			continue
		}
		c.checkConfig(n)
	}
}

func (c *checker) checkConfig(n *workflow.Node) {
	bad := func(format string, args ...any) {
		c.add(Violation{Code: CodeInvalidConfig, NodeID: n.ID,
			Message: fmt.Sprintf("node %q: ", n.Key) + fmt.Sprintf(format, args...)})
	}

	var lc workflow.LoopConfig
	if err := n.DecodeConfig(&lc); err != nil {
		bad("%v", err)
		return
	}
	if lc.Loop && lc.MaxIterations <= 0 {
		c.add(Violation{Code: CodeUnboundedLoop, NodeID: n.ID,
			Message: fmt.Sprintf("loop node %q must configure max_iterations > 0", n.Key)})
	}

	switch n.Type {
	case workflow.NodeEmail:
		var cfg workflow.EmailConfig
		if err := n.DecodeConfig(&cfg); err != nil {
			bad("%v", err)
			return
		}
		if cfg.To == "" {
			bad("email node requires a recipient")
		}
		c.checkTemplates(n, cfg.To, cfg.Subject, cfg.Body)
	case workflow.NodeSMS:
		var cfg workflow.SMSConfig
		if err := n.DecodeConfig(&cfg); err != nil {
			bad("%v", err)
			return
		}
		if cfg.To == "" {
			bad("sms node requires a recipient")
		}
		c.checkTemplates(n, cfg.To, cfg.Body)
	case workflow.NodeDelay:
		var cfg workflow.DelayConfig
		if err := n.DecodeConfig(&cfg); err != nil {
			bad("%v", err)
			return
		}
		if cfg.Seconds <= 0 {
			bad("delay seconds must be positive, got %d", cfg.Seconds)
		}
	case workflow.NodeBranch, workflow.NodeTerminal:
	}
}

func (c *checker) checkTemplates(n *workflow.Node, fields ...string) {
	for _, f := range fields {
		tpl, err := condition.ParseTemplate(f)
		if err != nil {
			c.add(Violation{Code: CodeInvalidConfig, NodeID: n.ID,
				Message: fmt.Sprintf("node %q: %v", n.Key, err)})
			continue
		}
		for _, r := range tpl.Roots() {
			if !allowedRoots[r] {
				c.add(Violation{Code: CodeInvalidConfig, NodeID: n.ID,
					Message: fmt.Sprintf("node %q: template refers to unknown variable %q", n.Key, r)})
			}
		}
	}
}

func (c *checker) checkEdges() {
	for _, e := range c.g.Edges {
		from, okFrom := c.nodes[e.FromNodeID]
		_, okTo := c.nodes[e.ToNodeID]
		if !okFrom || !okTo || e.WorkflowID != c.g.Workflow.ID {
			c.add(Violation{Code: CodeDanglingEdge, EdgeID: e.ID,
				Message: fmt.Sprintf("edge %s references a node outside the workflow", e.ID)})
			continue
		}
		c.out[e.FromNodeID] = append(c.out[e.FromNodeID], e)

		if e.Condition == "" {
			continue
		}
		if from.Type != workflow.NodeBranch {
			c.add(Violation{Code: CodeUnguardedCondition, EdgeID: e.ID, NodeID: from.ID,
				Message: fmt.Sprintf("edge %s leaves non-branch node %q but carries a condition", e.ID, from.Key)})
			continue
		}
		c.checkCondition(e)
	}
	for nodeID := range c.out {
		workflow.SortEdges(c.out[nodeID])
	}
}

func (c *checker) checkCondition(e *workflow.Edge) {
	cond, err := condition.Parse(e.Condition)
	if err != nil {
		c.add(Violation{Code: CodeInvalidCondition, EdgeID: e.ID, Message: err.Error()})
		return
	}
	for _, r := range cond.Roots() {
		if !allowedRoots[r] {
			c.add(Violation{Code: CodeInvalidCondition, EdgeID: e.ID,
				Message: fmt.Sprintf("condition %q refers to unknown variable %q", e.Condition, r)})
		}
	}
	for _, fn := range cond.Functions() {
		if !condition.Known(fn) {
			c.add(Violation{Code: CodeInvalidCondition, EdgeID: e.ID,
				Message: fmt.Sprintf("condition %q calls unknown function %q", e.Condition, fn)})
		}
	}
}

func (c *checker) checkEntry() {
	if _, ok := c.nodes[c.g.Workflow.EntryNodeID]; !ok {
		c.add(Violation{Code: CodeEntryMissing,
			Message: "entry node is not defined in the workflow"})
	}
}

func (c *checker) checkOutDegree() {
	for _, n := range c.g.Nodes {
		edges := c.out[n.ID]
		switch n.Type {
		case workflow.NodeTerminal:
			if len(edges) > 0 {
				c.add(Violation{Code: CodeTerminalOutgoing, NodeID: n.ID,
					Message: fmt.Sprintf("terminal node %q has %d outgoing edges", n.Key, len(edges))})
			}
		case workflow.NodeBranch:
			if len(edges) == 0 {
				c.add(Violation{Code: CodeBranchNoEdges, NodeID: n.ID,
					Message: fmt.Sprintf("branch node %q has no outgoing edges", n.Key)})
			}
		case workflow.NodeEmail, workflow.NodeSMS, workflow.NodeDelay:
			if len(edges) > 1 {
				c.add(Violation{Code: CodeFanOut, NodeID: n.ID,
					Message: fmt.Sprintf("%s node %q has %d outgoing edges, at most 1 allowed", n.Type, n.Key, len(edges))})
			}
		}
	}
}

func (c *checker) checkReachable() {
	entry := c.g.Workflow.EntryNodeID
	if _, ok := c.nodes[entry]; !ok {
		return
	}
	seen := map[id.NodeID]bool{entry: true}
	queue := []id.NodeID{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range c.out[cur] {
			if !seen[e.ToNodeID] {
				seen[e.ToNodeID] = true
				queue = append(queue, e.ToNodeID)
			}
		}
	}
	for _, n := range c.g.Nodes {
		if !seen[n.ID] {
			c.add(Violation{Code: CodeUnreachable, NodeID: n.ID,
				Message: fmt.Sprintf("node %q is not reachable from the entry node", n.Key)})
		}
	}
}

const (
	white = iota
	grey
	black
)

// checkCycles runs a depth-first search over every node. A back edge closes
// a cycle; the cycle is accepted only when one of its nodes is a bounded
// loop.
func (c *checker) checkCycles() {
	color := make(map[id.NodeID]int, len(c.g.Nodes))
	var stack []id.NodeID

	var visit func(n id.NodeID)
	visit = func(n id.NodeID) {
		color[n] = grey
		stack = append(stack, n)
		for _, e := range c.out[n] {
			switch color[e.ToNodeID] {
			case white:
				visit(e.ToNodeID)
			case grey:
				if !c.bounded(cycleFrom(stack, e.ToNodeID)) {
					c.add(Violation{Code: CodeCycle, EdgeID: e.ID, NodeID: e.FromNodeID,
						Message: fmt.Sprintf("edge %s from %q to %q closes a cycle without a bounded loop node",
							e.ID, c.nodes[e.FromNodeID].Key, c.nodes[e.ToNodeID].Key)})
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	if _, ok := c.nodes[c.g.Workflow.EntryNodeID]; ok {
		visit(c.g.Workflow.EntryNodeID)
	}
	for _, n := range c.g.Nodes {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
}

func (c *checker) bounded(cycle []id.NodeID) bool {
	for _, nodeID := range cycle {
		if lc := c.nodes[nodeID].Loop(); lc.Loop && lc.MaxIterations > 0 {
			return true
		}
	}
	return false
}

// cycleFrom returns the suffix of the DFS stack starting at target.
func cycleFrom(stack []id.NodeID, target id.NodeID) []id.NodeID {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == target {
			return stack[i:]
		}
	}
	return nil
}
