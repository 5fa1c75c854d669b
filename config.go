package courier

import "time"

// Config holds configuration for the engine and its worker pool.
type Config struct {
	// Concurrency is the number of worker goroutines claiming instances.
	Concurrency int `mapstructure:"concurrency"`

	// PollInterval is how long an idle worker waits before claiming again.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// HeartbeatInterval is how often claimed instances are heartbeated.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// StaleThreshold is how long a processing instance may go without a
	// heartbeat before it is released back to the scheduler.
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`

	// MaxAttempts is the number of attempts a node gets before the
	// instance fails with ErrRetryBudgetExhausted.
	MaxAttempts int `mapstructure:"max_attempts"`

	// BackoffBase and BackoffCap bound the exponential retry delay.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`

	// DeliveryTimeout bounds every delivery provider call.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleThreshold:    1 * time.Minute,
		MaxAttempts:       5,
		BackoffBase:       1 * time.Second,
		BackoffCap:        5 * time.Minute,
		DeliveryTimeout:   30 * time.Second,
	}
}
