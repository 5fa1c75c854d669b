// Package workflow defines notification workflows: versioned directed graphs
// of nodes (email, sms, delay, branch, terminal) joined by edges.
//
// A workflow is immutable once published. Editing a workflow means
// publishing a new version under the same code; activating a version
// deactivates its siblings. Instances already running stay pinned to the
// version they were ingested against.
//
// # Publishing
//
//	svc := workflow.NewService(store, graph.Validate, logger)
//	g, err := svc.Publish(ctx, &workflow.Draft{
//	    Code:  "welcome",
//	    Name:  "Welcome series",
//	    Entry: "send",
//	    Nodes: []workflow.DraftNode{
//	        {Key: "send", Type: workflow.NodeEmail, Config: map[string]any{
//	            "to": "${payload.email}", "subject": "Hi", "body": "Welcome!",
//	        }},
//	        {Key: "done", Type: workflow.NodeTerminal},
//	    },
//	    Edges: []workflow.DraftEdge{{From: "send", To: "done"}},
//	})
//	err = svc.Activate(ctx, g.Workflow.ID)
//
// Activation re-runs graph validation; an invalid graph is never activated.
package workflow
