package courier

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Courier.
type Option func(*Courier) error

// Storer is the minimal store interface held by the Courier.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used by the engine package, which sits above the
// subsystem packages and therefore avoids import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Courier holds configuration, logger and store shared by every subsystem.
//
// Create one with New and functional options, then pass it to engine.Build
// which wires the validator, ingestor, executor and worker pool together.
type Courier struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Courier with the given options.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the courier logger.
func (c *Courier) Logger() *slog.Logger { return c.logger }

// Store returns the courier store.
func (c *Courier) Store() Storer { return c.store }

// Config returns a copy of the courier configuration.
func (c *Courier) Config() Config { return c.config }

// SetPool sets the worker pool (called by the engine package).
func (c *Courier) SetPool(p poolRunner) { c.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Courier) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start begins instance processing.
func (c *Courier) Start(ctx context.Context) error {
	if c.pool == nil {
		return ErrNoStore
	}
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the worker pool, notifies extensions and
// closes the store.
func (c *Courier) Stop(ctx context.Context) error {
	if c.pool != nil && c.started {
		if err := c.pool.Stop(ctx); err != nil {
			c.logger.Error("pool stop error", "error", err)
		}
		c.started = false
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration, e.g. one loaded from a file.
// Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Courier) error {
		def := DefaultConfig()
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = def.Concurrency
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.ShutdownTimeout <= 0 {
			cfg.ShutdownTimeout = def.ShutdownTimeout
		}
		if cfg.MaxAttempts <= 0 {
			cfg.MaxAttempts = def.MaxAttempts
		}
		if cfg.BackoffBase <= 0 {
			cfg.BackoffBase = def.BackoffBase
		}
		if cfg.BackoffCap <= 0 {
			cfg.BackoffCap = def.BackoffCap
		}
		if cfg.DeliveryTimeout <= 0 {
			cfg.DeliveryTimeout = def.DeliveryTimeout
		}
		c.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) Option {
	return func(c *Courier) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how long idle workers wait between claims.
func WithPollInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithMaxAttempts sets the per-node attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Courier) error {
		c.config.MaxAttempts = n
		return nil
	}
}

// WithDeliveryTimeout bounds each delivery provider call.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.DeliveryTimeout = d
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement
// Storer at minimum; engine.Build additionally requires the subsystem
// store interfaces, which every backend under store/ satisfies.
func WithStore(s Storer) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}
