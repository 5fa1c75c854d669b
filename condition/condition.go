// Package condition evaluates branch edge guards and renders delivery
// templates.
//
// Conditions are HCL native-syntax expressions evaluated against three
// variables: payload (the trigger payload), context (outputs of prior steps
// keyed by node key) and attempt (the 1-based attempt number). A condition
// must evaluate to a known boolean.
//
//	payload.tier == "gold" && payload.amount > 100
//	try(context.send.message_id, "") != ""
//	contains(payload.tags, "vip")
package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/tryfunc"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Variable roots available to conditions and templates.
const (
	RootPayload = "payload"
	RootContext = "context"
	RootAttempt = "attempt"
)

// ErrNotBool is returned when a condition does not evaluate to a boolean.
var ErrNotBool = errors.New("condition: result is not a boolean")

// Vars is the data a condition or template is evaluated against.
type Vars struct {
	Payload json.RawMessage
	Context json.RawMessage
	Attempt int
}

var functions = map[string]function.Function{
	"coalesce": stdlib.CoalesceFunc,
	"contains": stdlib.ContainsFunc,
	"keys":     stdlib.KeysFunc,
	"length":   stdlib.LengthFunc,
	"lookup":   stdlib.LookupFunc,
	"lower":    stdlib.LowerFunc,
	"strlen":   stdlib.StrlenFunc,
	"upper":    stdlib.UpperFunc,
	"try":      tryfunc.TryFunc,
	"can":      tryfunc.CanFunc,
}

// Condition is a parsed branch guard.
type Condition struct {
	src  string
	expr hclsyntax.Expression
}

// Parse parses a condition expression. The empty string parses to a
// condition that always matches.
func Parse(src string) (*Condition, error) {
	c := &Condition{src: src}
	if src == "" {
		return c, nil
	}
	expr, diags := hclsyntax.ParseExpression([]byte(src), "condition", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("condition: parse %q: %w", src, diags)
	}
	c.expr = expr
	return c, nil
}

// String returns the source text of the condition.
func (c *Condition) String() string { return c.src }

// Always reports whether the condition is empty and always matches.
func (c *Condition) Always() bool { return c.expr == nil }

// Roots returns the sorted, distinct variable names the condition refers to.
func (c *Condition) Roots() []string {
	if c.expr == nil {
		return nil
	}
	return roots(c.expr.Variables())
}

// Functions returns the sorted, distinct function names the condition calls.
func (c *Condition) Functions() []string {
	if c.expr == nil {
		return nil
	}
	seen := map[string]struct{}{}
	_ = hclsyntax.VisitAll(c.expr, func(n hclsyntax.Node) hcl.Diagnostics {
		if call, ok := n.(*hclsyntax.FunctionCallExpr); ok {
			seen[call.Name] = struct{}{}
		}
		return nil
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Eval evaluates the condition against vars.
func (c *Condition) Eval(vars Vars) (bool, error) {
	if c.expr == nil {
		return true, nil
	}
	ectx, err := evalContext(vars)
	if err != nil {
		return false, err
	}
	val, diags := c.expr.Value(ectx)
	if diags.HasErrors() {
		return false, fmt.Errorf("condition: eval %q: %w", c.src, diags)
	}
	if !val.IsWhollyKnown() || val.IsNull() {
		return false, fmt.Errorf("%w: %q evaluated to null", ErrNotBool, c.src)
	}
	if val.Type() != cty.Bool {
		return false, fmt.Errorf("%w: %q evaluated to %s", ErrNotBool, c.src, val.Type().FriendlyName())
	}
	return val.True(), nil
}

// Known reports whether name is a function available to expressions.
func Known(name string) bool {
	_, ok := functions[name]
	return ok
}

func evalContext(vars Vars) (*hcl.EvalContext, error) {
	payload, err := jsonValue(vars.Payload)
	if err != nil {
		return nil, fmt.Errorf("condition: payload: %w", err)
	}
	prior, err := jsonValue(vars.Context)
	if err != nil {
		return nil, fmt.Errorf("condition: context: %w", err)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			RootPayload: payload,
			RootContext: prior,
			RootAttempt: cty.NumberIntVal(int64(vars.Attempt)),
		},
		Functions: functions,
	}, nil
}

func jsonValue(b json.RawMessage) (cty.Value, error) {
	if len(b) == 0 || string(b) == "null" {
		return cty.EmptyObjectVal, nil
	}
	t, err := ctyjson.ImpliedType(b)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(b, t)
}

func roots(traversals []hcl.Traversal) []string {
	seen := map[string]struct{}{}
	for _, t := range traversals {
		seen[t.RootName()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
