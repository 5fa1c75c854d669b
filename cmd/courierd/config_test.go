package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/courier/authz"
)

const sampleConfig = `
log_level: debug
courier:
  concurrency: 4
  poll_interval: 250ms
  max_attempts: 3
store:
  driver: redis
  redis_addr: redis:6379
  redis_prefix: "{courier}:"
source:
  stream: courier:triggers
  consumers: 2
limits:
  - channel: sms
    rate_limit: 5
    rate_burst: 10
api_keys:
  - token: secret
    subject: ops
    scopes: ["instance:read", "workflow:write"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courier.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig(viper.New(), writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Courier.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Courier.Concurrency)
	}
	if cfg.Courier.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.Courier.PollInterval)
	}
	if cfg.Courier.BackoffCap != 5*time.Minute {
		t.Errorf("BackoffCap = %v, want default 5m", cfg.Courier.BackoffCap)
	}
	if cfg.Store.Driver != driverRedis || cfg.Store.RedisPrefix != "{courier}:" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.sourceAddr() != "redis:6379" {
		t.Errorf("sourceAddr = %q, want store address", cfg.sourceAddr())
	}
	if cfg.Source.Group != "courier" || cfg.Source.Consumers != 2 {
		t.Errorf("Source = %+v", cfg.Source)
	}

	if len(cfg.Limits) != 1 {
		t.Fatalf("Limits = %d, want 1", len(cfg.Limits))
	}
	l := cfg.Limits[0].limit()
	if l.Channel != "sms" || l.RateLimit != 5 || l.RateBurst != 10 {
		t.Errorf("limit = %+v", l)
	}

	if len(cfg.APIKeys) != 1 {
		t.Fatalf("APIKeys = %d, want 1", len(cfg.APIKeys))
	}
	k := cfg.APIKeys[0]
	if k.Token != "secret" || k.Caller.Subject != "ops" {
		t.Errorf("APIKey = %+v", k)
	}
	if !k.Caller.HasScope(authz.ActionWorkflowWrite) || k.Caller.HasScope(authz.ActionDLQWrite) {
		t.Errorf("scopes = %v", k.Caller.Scopes)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("COURIER_STORE_DRIVER", "postgres")
	t.Setenv("COURIER_COURIER_MAX_ATTEMPTS", "9")

	cfg, err := LoadConfig(viper.New(), path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Store.Driver != driverPostgres {
		t.Errorf("Driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Courier.MaxAttempts != 9 {
		t.Errorf("MaxAttempts = %d, want 9", cfg.Courier.MaxAttempts)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Store.Driver != driverPostgres {
		t.Errorf("Driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Courier.Concurrency != 10 {
		t.Errorf("Concurrency = %d, want 10", cfg.Courier.Concurrency)
	}
	if cfg.Source.Stream != "" {
		t.Errorf("Stream = %q, want disabled", cfg.Source.Stream)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: mongo\n"},
		{"limit without channel", "limits:\n  - rate_limit: 1\n"},
		{"empty token", "api_keys:\n  - subject: ops\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(viper.New(), writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		if _, err := LoadConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("warn"); err != nil {
		t.Errorf("warn: %v", err)
	}
	if _, err := newLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
