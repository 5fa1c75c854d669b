package middleware

import (
	"context"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/workflow"
)

// Step describes the node attempt a middleware chain wraps.
type Step struct {
	InstanceID id.InstanceID
	WorkflowID id.WorkflowID
	NodeID     id.NodeID
	NodeKey    string
	NodeType   workflow.NodeType
	// Attempt is 1-based.
	Attempt int
}

// Handler is the terminal function that executes the node.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It must call next to
// continue the chain unless it short-circuits with an error.
type Middleware func(ctx context.Context, s *Step, next Handler) error

// Chain composes middleware so the first in the list is the outermost:
//
//	Chain(recover, tracing, timeout) runs recover → tracing → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, s *Step, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, s, prev)
			}
		}
		return h(ctx)
	}
}
