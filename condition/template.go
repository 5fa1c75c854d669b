package condition

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Template is a parsed delivery template such as "Hello ${payload.name}".
type Template struct {
	src  string
	expr hclsyntax.Expression
}

// ParseTemplate parses a template string. Text without interpolation
// sequences renders unchanged.
func ParseTemplate(src string) (*Template, error) {
	t := &Template{src: src}
	if !strings.Contains(src, "${") && !strings.Contains(src, "%{") {
		return t, nil
	}
	expr, diags := hclsyntax.ParseTemplate([]byte(src), "template", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("condition: parse template %q: %w", src, diags)
	}
	t.expr = expr
	return t, nil
}

// Roots returns the sorted, distinct variable names the template refers to.
func (t *Template) Roots() []string {
	if t.expr == nil {
		return nil
	}
	return roots(t.expr.Variables())
}

// Render evaluates the template against vars.
func (t *Template) Render(vars Vars) (string, error) {
	if t.expr == nil {
		return t.src, nil
	}
	ectx, err := evalContext(vars)
	if err != nil {
		return "", err
	}
	val, diags := t.expr.Value(ectx)
	if diags.HasErrors() {
		return "", fmt.Errorf("condition: render %q: %w", t.src, diags)
	}
	if val.IsNull() || !val.IsWhollyKnown() {
		return "", fmt.Errorf("condition: render %q: result is null", t.src)
	}
	s, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("condition: render %q: %w", t.src, err)
	}
	return s.AsString(), nil
}

// Render parses and renders src in one call.
func Render(src string, vars Vars) (string, error) {
	t, err := ParseTemplate(src)
	if err != nil {
		return "", err
	}
	return t.Render(vars)
}
