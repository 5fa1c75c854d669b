// Package redisstream is a trigger source that consumes trigger events from
// a Redis stream through a consumer group and ingests them.
//
// Each stream entry carries three fields:
//
//	workflow_id  the target workflow version
//	key          the idempotency key
//	payload      a JSON object (optional)
//
// An entry is acknowledged once its ingestion is settled: ingested,
// deduplicated, or rejected as malformed. Entries that fail for transient
// reasons stay pending and are redelivered to the consumer on its next
// start.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/trigger"
)

// Stream entry field names.
const (
	FieldWorkflowID = "workflow_id"
	FieldKey        = "key"
	FieldPayload    = "payload"
)

// ErrMalformedEvent is returned by ParseEvent for entries that can never be
// ingested.
var ErrMalformedEvent = errors.New("redisstream: malformed event")

// Ingester creates instances. engine.Engine satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, workflowID id.WorkflowID, key string, payload json.RawMessage) (*trigger.Instance, bool, error)
}

// Event is a decoded stream entry.
type Event struct {
	WorkflowID id.WorkflowID
	Key        string
	Payload    json.RawMessage
}

// ParseEvent decodes the fields of a stream entry.
func ParseEvent(values map[string]any) (*Event, error) {
	str := func(name string) string {
		v, _ := values[name].(string)
		return v
	}
	raw := str(FieldWorkflowID)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedEvent, FieldWorkflowID)
	}
	wfID, err := id.ParseWorkflowID(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, FieldWorkflowID, err)
	}
	key := str(FieldKey)
	if key == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedEvent, FieldKey)
	}
	var payload json.RawMessage
	if p := str(FieldPayload); p != "" {
		if !json.Valid([]byte(p)) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedEvent)
		}
		payload = json.RawMessage(p)
	}
	return &Event{WorkflowID: wfID, Key: key, Payload: payload}, nil
}

// Option configures a Source.
type Option func(*Source)

// WithGroup sets the consumer group name. Defaults to "courier".
func WithGroup(name string) Option {
	return func(s *Source) { s.group = name }
}

// WithConsumer sets the consumer name prefix. Defaults to the hostname.
func WithConsumer(name string) Option {
	return func(s *Source) { s.consumer = name }
}

// WithConsumers sets how many consumers read concurrently.
func WithConsumers(n int) Option {
	return func(s *Source) { s.consumers = n }
}

// WithBlock sets how long a read blocks waiting for entries.
func WithBlock(d time.Duration) Option {
	return func(s *Source) { s.block = d }
}

// WithBatchSize sets the maximum entries returned by one read.
func WithBatchSize(n int64) Option {
	return func(s *Source) { s.count = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// Source consumes trigger events from a Redis stream.
type Source struct {
	client    goredis.Cmdable
	ingester  Ingester
	stream    string
	group     string
	consumer  string
	consumers int
	block     time.Duration
	count     int64
	logger    *slog.Logger
}

// New creates a Source reading stream. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, stream string, ingester Ingester, opts ...Option) *Source {
	host, err := os.Hostname()
	if err != nil {
		host = "courier"
	}
	s := &Source{
		client:    client,
		ingester:  ingester,
		stream:    stream,
		group:     "courier",
		consumer:  host,
		consumers: 1,
		block:     2 * time.Second,
		count:     16,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.consumers < 1 {
		s.consumers = 1
	}
	return s
}

// Publish appends a trigger event to the stream and returns its entry ID.
func (s *Source) Publish(ctx context.Context, workflowID id.WorkflowID, key string, payload json.RawMessage) (string, error) {
	values := map[string]any{
		FieldWorkflowID: workflowID.String(),
		FieldKey:        key,
	}
	if len(payload) > 0 {
		values[FieldPayload] = string(payload)
	}
	entryID, err := s.client.XAdd(ctx, &goredis.XAddArgs{Stream: s.stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("courier/redisstream: publish: %w", err)
	}
	return entryID, nil
}

// EnsureGroup creates the consumer group and the stream if either is
// missing.
func (s *Source) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("courier/redisstream: create group %q: %w", s.group, err)
	}
	return nil
}

// Run consumes the stream until ctx is cancelled. It returns nil on
// cancellation and the first consumer error otherwise.
func (s *Source) Run(ctx context.Context) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}

	s.logger.Info("redis stream source started",
		slog.String("stream", s.stream),
		slog.String("group", s.group),
		slog.Int("consumers", s.consumers),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range s.consumers {
		name := fmt.Sprintf("%s-%d", s.consumer, i)
		g.Go(func() error { return s.consume(gctx, name) })
	}
	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// consume first drains the consumer's pending entries, then reads new ones.
func (s *Source) consume(ctx context.Context, consumer string) error {
	start := "0"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := s.Poll(ctx, consumer, start)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("redis stream read error",
				slog.String("consumer", consumer),
				slog.String("error", err.Error()),
			)
			sleepCtx(ctx, s.block)
			continue
		}
		if start == "0" && n == 0 {
			start = ">"
		}
	}
}

// Poll reads one batch for consumer starting at start ("0" for the
// consumer's pending entries, ">" for new ones), handles every entry and
// returns how many were read.
func (s *Source) Poll(ctx context.Context, consumer, start string) (int, error) {
	block := s.block
	if start != ">" {
		block = -1
	}
	res, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.stream, start},
		Count:    s.count,
		Block:    block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := 0
	for _, st := range res {
		for _, msg := range st.Messages {
			n++
			if s.handle(ctx, msg) {
				if ackErr := s.client.XAck(ctx, s.stream, s.group, msg.ID).Err(); ackErr != nil {
					s.logger.Warn("redis stream ack failed",
						slog.String("entry_id", msg.ID),
						slog.String("error", ackErr.Error()),
					)
				}
			}
		}
	}
	return n, nil
}

// handle ingests one entry and reports whether it is settled and may be
// acknowledged.
func (s *Source) handle(ctx context.Context, msg goredis.XMessage) bool {
	evt, err := ParseEvent(msg.Values)
	if err != nil {
		s.logger.Warn("dropping malformed trigger event",
			slog.String("entry_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return true
	}

	inst, created, err := s.ingester.Ingest(ctx, evt.WorkflowID, evt.Key, evt.Payload)
	switch {
	case err == nil:
		s.logger.Debug("trigger event ingested",
			slog.String("entry_id", msg.ID),
			slog.String("instance_id", inst.ID.String()),
			slog.Bool("created", created),
		)
		return true
	case rejected(err):
		s.logger.Warn("trigger event rejected",
			slog.String("entry_id", msg.ID),
			slog.String("workflow_id", evt.WorkflowID.String()),
			slog.String("key", evt.Key),
			slog.String("error", err.Error()),
		)
		return true
	default:
		s.logger.Error("trigger event ingestion failed, leaving pending",
			slog.String("entry_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
}

// rejected reports whether retrying the ingestion can never succeed.
func rejected(err error) bool {
	return errors.Is(err, courier.ErrWorkflowNotFound) ||
		errors.Is(err, courier.ErrWorkflowNotActive) ||
		errors.Is(err, courier.ErrInvalidIdempotencyKey) ||
		errors.Is(err, courier.ErrInvalidPayload)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
