// Package authz is the authorization boundary of administrative
// operations. Callers are identified explicitly and every operation names
// the Action it needs; an Authorizer decides.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/courier"
)

// Action is a permission an operation requires.
type Action string

const (
	ActionWorkflowRead   Action = "workflow:read"
	ActionWorkflowWrite  Action = "workflow:write"
	ActionInstanceRead   Action = "instance:read"
	ActionInstanceWrite  Action = "instance:write"
	ActionInstanceCancel Action = "instance:cancel"
	ActionDLQRead        Action = "dlq:read"
	ActionDLQWrite       Action = "dlq:write"
	ActionCronWrite      Action = "cron:write"

	// ActionAll grants every action.
	ActionAll Action = "*"
)

// Caller is the authenticated identity performing an operation.
type Caller struct {
	// Subject is the authenticated user or service ID.
	Subject string `json:"subject" mapstructure:"subject"`

	// Scopes lists the actions the caller may perform.
	// Examples: "workflow:write", "instance:read", "*"
	Scopes []Action `json:"scopes,omitempty" mapstructure:"scopes"`
}

// HasScope returns true if the caller holds the action or the wildcard.
func (c Caller) HasScope(a Action) bool {
	for _, s := range c.Scopes {
		if s == ActionAll || s == a {
			return true
		}
	}
	return false
}

// Authorizer decides whether caller may perform action. A denial wraps
// courier.ErrForbidden.
type Authorizer interface {
	Authorize(ctx context.Context, caller Caller, action Action) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, caller Caller, action Action) error

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, caller Caller, action Action) error {
	return f(ctx, caller, action)
}

// ScopeAuthorizer grants an action when the caller holds its scope.
type ScopeAuthorizer struct{}

// Authorize implements Authorizer.
func (ScopeAuthorizer) Authorize(_ context.Context, caller Caller, action Action) error {
	if caller.Subject == "" {
		return fmt.Errorf("%w: anonymous caller", courier.ErrForbidden)
	}
	if !caller.HasScope(action) {
		return fmt.Errorf("%w: %s lacks %s", courier.ErrForbidden, caller.Subject, action)
	}
	return nil
}

// AllowAll grants every action. Use for development only.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, Caller, Action) error { return nil }

// ── API key authenticator ───────────────────────────

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = errors.New("authz: unauthorized")

// APIKey maps a token to a caller.
type APIKey struct {
	Token  string `mapstructure:"token"`
	Caller Caller `mapstructure:",squash"`
}

// APIKeyAuthenticator resolves callers from a static list of API keys.
type APIKeyAuthenticator struct {
	keys map[string]Caller
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(keys ...APIKey) *APIKeyAuthenticator {
	m := make(map[string]Caller, len(keys))
	for _, k := range keys {
		m[k.Token] = k.Caller
	}
	return &APIKeyAuthenticator{keys: m}
}

// Authenticate returns the caller the token belongs to.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, token string) (Caller, error) {
	c, ok := a.keys[token]
	if !ok || token == "" {
		return Caller{}, ErrUnauthorized
	}
	return c, nil
}
