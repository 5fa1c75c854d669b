package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/xraph/courier"
	"github.com/xraph/courier/authz"
	"github.com/xraph/courier/delivery"
)

// Config is the courierd configuration. It is read from a YAML file and
// overridden by COURIER_* environment variables and command-line flags.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Courier  courier.Config `mapstructure:"courier"`
	Store    StoreConfig    `mapstructure:"store"`
	Source   SourceConfig   `mapstructure:"source"`
	Limits   []LimitConfig  `mapstructure:"limits"`
	Audit    bool           `mapstructure:"audit"`
	APIKeys  []authz.APIKey `mapstructure:"api_keys"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresURL string `mapstructure:"postgres_url"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// SourceConfig enables the Redis stream trigger source. An empty Stream
// disables it.
type SourceConfig struct {
	Stream    string `mapstructure:"stream"`
	Group     string `mapstructure:"group"`
	Consumers int    `mapstructure:"consumers"`
	RedisAddr string `mapstructure:"redis_addr"`
}

// LimitConfig throttles one delivery channel.
type LimitConfig struct {
	Channel        string  `mapstructure:"channel"`
	MaxConcurrency int     `mapstructure:"max_concurrency"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst"`
}

func (l LimitConfig) limit() delivery.Limit {
	return delivery.Limit{
		Channel:        delivery.Channel(l.Channel),
		MaxConcurrency: l.MaxConcurrency,
		RateLimit:      l.RateLimit,
		RateBurst:      l.RateBurst,
	}
}

const (
	driverPostgres = "postgres"
	driverRedis    = "redis"
)

func setDefaults(v *viper.Viper) {
	def := courier.DefaultConfig()
	v.SetDefault("log_level", "info")
	v.SetDefault("courier.concurrency", def.Concurrency)
	v.SetDefault("courier.poll_interval", def.PollInterval)
	v.SetDefault("courier.shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("courier.heartbeat_interval", def.HeartbeatInterval)
	v.SetDefault("courier.stale_threshold", def.StaleThreshold)
	v.SetDefault("courier.max_attempts", def.MaxAttempts)
	v.SetDefault("courier.backoff_base", def.BackoffBase)
	v.SetDefault("courier.backoff_cap", def.BackoffCap)
	v.SetDefault("courier.delivery_timeout", def.DeliveryTimeout)
	v.SetDefault("store.driver", driverPostgres)
	v.SetDefault("store.postgres_url", "postgres://localhost:5432/courier?sslmode=disable")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_prefix", "courier:")
	v.SetDefault("store.auto_migrate", false)
	v.SetDefault("source.stream", "")
	v.SetDefault("source.group", "courier")
	v.SetDefault("source.consumers", 1)
	v.SetDefault("source.redis_addr", "")
	v.SetDefault("audit", false)
}

// LoadConfig reads the config file, if any, and the environment into a
// Config. An explicit path that does not exist is an error; the default
// courier.yaml lookup is optional.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("courier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/courier")
	}

	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case driverPostgres, driverRedis:
	default:
		return fmt.Errorf("unknown store driver %q (want %s or %s)", c.Store.Driver, driverPostgres, driverRedis)
	}
	for _, l := range c.Limits {
		if l.Channel == "" {
			return errors.New("delivery limit without channel")
		}
	}
	for _, k := range c.APIKeys {
		if k.Token == "" {
			return fmt.Errorf("api key for %q has an empty token", k.Caller.Subject)
		}
	}
	return nil
}

func (c *Config) sourceAddr() string {
	if c.Source.RedisAddr != "" {
		return c.Source.RedisAddr
	}
	return c.Store.RedisAddr
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
