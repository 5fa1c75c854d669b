package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/admin"
	audithook "github.com/xraph/courier/audit_hook"
	"github.com/xraph/courier/authz"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/source/redisstream"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/postgres"
	redisstore "github.com/xraph/courier/store/redis"
)

// app is a fully wired engine plus the resources it owns.
type app struct {
	cfg    *Config
	logger *slog.Logger
	store  store.Store
	engine *engine.Engine
	admin  *admin.Service
	auth   *authz.APIKeyAuthenticator

	redis *goredis.Client
}

func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store.Store, *goredis.Client, error) {
	switch cfg.Store.Driver {
	case driverRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Store.RedisAddr})
		s := redisstore.New(client,
			redisstore.WithLogger(logger),
			redisstore.WithPrefix(cfg.Store.RedisPrefix),
		)
		return s, client, nil
	default:
		s, err := postgres.New(ctx, cfg.Store.PostgresURL, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

func newApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*app, error) {
	s, client, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	a := &app{cfg: cfg, logger: logger, store: s, redis: client}

	if err := s.Ping(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.Store.Driver, err)
	}
	if cfg.Store.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	c, err := courier.New(
		courier.WithConfig(cfg.Courier),
		courier.WithLogger(logger),
		courier.WithStore(s),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	opts := []engine.Option{engine.WithProvider(delivery.NewLogProvider(logger))}
	for _, l := range cfg.Limits {
		opts = append(opts, engine.WithDeliveryLimits(l.limit()))
	}
	if cfg.Audit {
		opts = append(opts, engine.WithExtension(audithook.New(logRecorder(logger))))
	}

	eng, err := engine.Build(c, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = eng

	// Without configured keys every local caller is trusted.
	var authorizer authz.Authorizer = authz.ScopeAuthorizer{}
	if len(cfg.APIKeys) == 0 {
		authorizer = authz.AllowAll{}
	}
	a.admin = admin.New(eng, authorizer, logger)
	a.auth = authz.NewAPIKeyAuthenticator(cfg.APIKeys...)
	return a, nil
}

// caller resolves the token given on the command line. With no API keys
// configured it returns an anonymous operator.
func (a *app) caller(ctx context.Context, token string) (authz.Caller, error) {
	if len(a.cfg.APIKeys) == 0 {
		return authz.Caller{Subject: "operator", Scopes: []authz.Action{authz.ActionAll}}, nil
	}
	return a.auth.Authenticate(ctx, token)
}

// source builds the Redis stream source, or returns nil when none is
// configured. It shares the store client when the addresses match.
func (a *app) source() (*redisstream.Source, *goredis.Client) {
	if a.cfg.Source.Stream == "" {
		return nil, nil
	}
	client := a.redis
	owned := false
	if client == nil || a.cfg.sourceAddr() != a.cfg.Store.RedisAddr {
		client = goredis.NewClient(&goredis.Options{Addr: a.cfg.sourceAddr()})
		owned = true
	}
	src := redisstream.New(client, a.cfg.Source.Stream, a.engine,
		redisstream.WithGroup(a.cfg.Source.Group),
		redisstream.WithConsumers(a.cfg.Source.Consumers),
		redisstream.WithLogger(a.logger),
	)
	if owned {
		return src, client
	}
	return src, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", slog.String("error", err.Error()))
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func logRecorder(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
			slog.String("reason", evt.Reason),
		)
		return nil
	})
}
