package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/courier"
	"github.com/xraph/courier/authz"
)

func TestCallerHasScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		scopes   []authz.Action
		check    authz.Action
		expected bool
	}{
		{"exact match", []authz.Action{authz.ActionInstanceRead}, authz.ActionInstanceRead, true},
		{"no match", []authz.Action{authz.ActionInstanceRead}, authz.ActionInstanceCancel, false},
		{"wildcard", []authz.Action{authz.ActionAll}, authz.ActionDLQWrite, true},
		{"empty", nil, authz.ActionWorkflowRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := authz.Caller{Subject: "ops", Scopes: tt.scopes}
			if got := c.HasScope(tt.check); got != tt.expected {
				t.Errorf("HasScope(%q) = %v, want %v", tt.check, got, tt.expected)
			}
		})
	}
}

func TestScopeAuthorizer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var a authz.ScopeAuthorizer

	reader := authz.Caller{Subject: "viewer", Scopes: []authz.Action{authz.ActionInstanceRead}}
	if err := a.Authorize(ctx, reader, authz.ActionInstanceRead); err != nil {
		t.Errorf("granted action denied: %v", err)
	}
	if err := a.Authorize(ctx, reader, authz.ActionInstanceCancel); !errors.Is(err, courier.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}

	anon := authz.Caller{Scopes: []authz.Action{authz.ActionAll}}
	if err := a.Authorize(ctx, anon, authz.ActionInstanceRead); !errors.Is(err, courier.ErrForbidden) {
		t.Errorf("anonymous caller err = %v, want ErrForbidden", err)
	}
}

func TestAllowAll(t *testing.T) {
	t.Parallel()
	if err := (authz.AllowAll{}).Authorize(context.Background(), authz.Caller{}, authz.ActionDLQWrite); err != nil {
		t.Fatalf("AllowAll denied: %v", err)
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	t.Parallel()

	auth := authz.NewAPIKeyAuthenticator(
		authz.APIKey{Token: "ck_ops_123", Caller: authz.Caller{
			Subject: "ops",
			Scopes:  []authz.Action{authz.ActionInstanceRead, authz.ActionInstanceCancel},
		}},
		authz.APIKey{Token: "ck_admin_456", Caller: authz.Caller{
			Subject: "admin",
			Scopes:  []authz.Action{authz.ActionAll},
		}},
	)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		c, err := auth.Authenticate(ctx, "ck_ops_123")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if c.Subject != "ops" {
			t.Errorf("Subject = %q, want %q", c.Subject, "ops")
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		if _, err := auth.Authenticate(ctx, "nope"); !errors.Is(err, authz.ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if _, err := auth.Authenticate(ctx, ""); err == nil {
			t.Error("expected error for empty token")
		}
	})
}
