package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/condition"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

type deliveryOutput struct {
	MessageID string `json:"message_id"`
	Channel   string `json:"channel"`
	To        string `json:"to"`
}

func (e *Executor) runEmail(ctx context.Context, inst *trigger.Instance, node *workflow.Node, priorJSON json.RawMessage, attempt int) (*result, error) {
	var cfg workflow.EmailConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, courier.Permanent(err)
	}
	vars := condition.Vars{Payload: inst.Payload, Context: priorJSON, Attempt: attempt}
	rendered, err := renderAll(vars, cfg.To, cfg.Subject, cfg.Body)
	if err != nil {
		return nil, courier.Permanent(fmt.Errorf("node %q: %w", node.Key, err))
	}
	return e.send(ctx, inst, node, delivery.ChannelEmail, rendered[0], delivery.Content{
		Subject: rendered[1],
		Body:    rendered[2],
	})
}

func (e *Executor) runSMS(ctx context.Context, inst *trigger.Instance, node *workflow.Node, priorJSON json.RawMessage, attempt int) (*result, error) {
	var cfg workflow.SMSConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, courier.Permanent(err)
	}
	vars := condition.Vars{Payload: inst.Payload, Context: priorJSON, Attempt: attempt}
	rendered, err := renderAll(vars, cfg.To, cfg.Body)
	if err != nil {
		return nil, courier.Permanent(fmt.Errorf("node %q: %w", node.Key, err))
	}
	return e.send(ctx, inst, node, delivery.ChannelSMS, rendered[0], delivery.Content{Body: rendered[1]})
}

func (e *Executor) send(ctx context.Context, inst *trigger.Instance, node *workflow.Node, ch delivery.Channel, to string, content delivery.Content) (*result, error) {
	if to == "" {
		return nil, courier.Permanent(fmt.Errorf("node %q: recipient rendered empty", node.Key))
	}
	// Resolve the successor first so a lookup failure never follows a
	// delivered message.
	nextID, err := e.follow(ctx, inst, node)
	if err != nil {
		return nil, err
	}
	msgID, err := e.provider.Send(ctx, ch, to, content)
	if err != nil {
		return nil, fmt.Errorf("deliver %s to %s: %w", ch, to, err)
	}
	return &result{
		output:     deliveryOutput{MessageID: msgID, Channel: string(ch), To: to},
		messageIDs: []string{msgID},
		next:       nextID,
	}, nil
}

func (e *Executor) runDelay(ctx context.Context, inst *trigger.Instance, node *workflow.Node) (*result, error) {
	var cfg workflow.DelayConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, courier.Permanent(err)
	}
	now := e.now()

	if inst.DelayUntil == nil {
		until := now.Add(time.Duration(cfg.Seconds) * time.Second)
		return &result{waitUntil: &until}, nil
	}
	if now.Before(*inst.DelayUntil) {
		until := *inst.DelayUntil
		return &result{waitUntil: &until}, nil
	}

	nextID, err := e.follow(ctx, inst, node)
	if err != nil {
		return nil, err
	}
	return &result{
		output: map[string]int{"waited_seconds": cfg.Seconds},
		next:   nextID,
	}, nil
}

func (e *Executor) runBranch(ctx context.Context, inst *trigger.Instance, node *workflow.Node, priorJSON json.RawMessage, attempt int) (*result, error) {
	edges, err := e.workflows.GetOutgoingEdges(ctx, inst.WorkflowID, node.ID)
	if err != nil {
		return nil, fmt.Errorf("load edges of %q: %w", node.Key, err)
	}
	vars := condition.Vars{Payload: inst.Payload, Context: priorJSON, Attempt: attempt}

	for _, edge := range edges {
		cond, err := condition.Parse(edge.Condition)
		if err != nil {
			return nil, courier.Permanent(err)
		}
		ok, err := cond.Eval(vars)
		if err != nil {
			return nil, courier.Permanent(fmt.Errorf("node %q edge %s: %w", node.Key, edge.ID, err))
		}
		if ok {
			return &result{
				output: map[string]string{"edge_id": edge.ID.String(), "condition": edge.Condition},
				next:   edge.ToNodeID,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: node %q", courier.ErrNoBranchMatched, node.Key)
}

func renderAll(vars condition.Vars, fields ...string) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		s, err := condition.Render(f, vars)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
