package condition_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier/condition"
)

func vars(payload, ctx string, attempt int) condition.Vars {
	return condition.Vars{
		Payload: json.RawMessage(payload),
		Context: json.RawMessage(ctx),
		Attempt: attempt,
	}
}

func TestEval(t *testing.T) {
	payload := `{"tier":"gold","amount":250,"tags":["vip","beta"],"email":"x@example.com"}`
	prior := `{"send":{"message_id":"m-1"}}`

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"empty always matches", "", true},
		{"string equality", `payload.tier == "gold"`, true},
		{"numeric comparison", `payload.amount > 100`, true},
		{"conjunction", `payload.tier == "gold" && payload.amount > 1000`, false},
		{"contains", `contains(payload.tags, "vip")`, true},
		{"lower", `lower("GOLD") == payload.tier`, true},
		{"context lookup", `context.send.message_id == "m-1"`, true},
		{"try missing attribute", `try(payload.missing, "none") == "none"`, true},
		{"can missing attribute", `can(payload.missing)`, false},
		{"attempt", `attempt >= 2`, true},
		{"literal false", `false`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := condition.Parse(tt.src)
			require.NoError(t, err)
			got, err := c.Eval(vars(payload, prior, 2))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	t.Run("non bool result", func(t *testing.T) {
		c, err := condition.Parse(`payload.tier`)
		require.NoError(t, err)
		_, err = c.Eval(vars(`{"tier":"gold"}`, "", 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, condition.ErrNotBool))
	})

	t.Run("null result", func(t *testing.T) {
		c, err := condition.Parse(`payload.flag`)
		require.NoError(t, err)
		_, err = c.Eval(vars(`{"flag":null}`, "", 1))
		assert.ErrorIs(t, err, condition.ErrNotBool)
	})

	t.Run("unknown attribute", func(t *testing.T) {
		c, err := condition.Parse(`payload.nope == 1`)
		require.NoError(t, err)
		_, err = c.Eval(vars(`{}`, "", 1))
		assert.Error(t, err)
	})
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{`payload.tier ==`, `(`, `a b`} {
		_, err := condition.Parse(src)
		assert.Error(t, err, "source %q", src)
	}
}

func TestRootsAndFunctions(t *testing.T) {
	c, err := condition.Parse(`lower(payload.tier) == "gold" || context.a.ok && attempt > 1`)
	require.NoError(t, err)
	assert.Equal(t, []string{"attempt", "context", "payload"}, c.Roots())
	assert.Equal(t, []string{"lower"}, c.Functions())
	assert.True(t, condition.Known("lower"))
	assert.False(t, condition.Known("exec"))

	empty, err := condition.Parse("")
	require.NoError(t, err)
	assert.True(t, empty.Always())
	assert.Nil(t, empty.Roots())
}

func TestRender(t *testing.T) {
	v := vars(`{"name":"Ada","email":"ada@example.com","count":3}`, `{"send":{"message_id":"m-9"}}`, 1)

	tests := []struct {
		src  string
		want string
	}{
		{"plain text", "plain text"},
		{"Hello ${payload.name}", "Hello Ada"},
		{"${payload.email}", "ada@example.com"},
		{"${payload.count} new", "3 new"},
		{"ref ${context.send.message_id}", "ref m-9"},
		{"${upper(payload.name)}", "ADA"},
	}
	for _, tt := range tests {
		got, err := condition.Render(tt.src, v)
		require.NoError(t, err, tt.src)
		assert.Equal(t, tt.want, got, tt.src)
	}

	_, err := condition.Render("Hi ${payload.missing}", v)
	assert.Error(t, err)
}

func TestTemplateRoots(t *testing.T) {
	tpl, err := condition.ParseTemplate("${payload.a} and ${context.b.c}")
	require.NoError(t, err)
	assert.Equal(t, []string{"context", "payload"}, tpl.Roots())
}
