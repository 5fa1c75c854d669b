//go:build integration

package redisstream_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/source/redisstream"
	"github.com/xraph/courier/trigger"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// recordingIngester accepts one workflow and rejects everything else.
type recordingIngester struct {
	mu       sync.Mutex
	accepted id.WorkflowID
	keys     []string
}

func (r *recordingIngester) Ingest(_ context.Context, workflowID id.WorkflowID, key string, _ json.RawMessage) (*trigger.Instance, bool, error) {
	if workflowID != r.accepted {
		return nil, false, courier.ErrWorkflowNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return &trigger.Instance{ID: id.NewInstanceID(), WorkflowID: workflowID, IdempotencyKey: key}, true, nil
}

func (r *recordingIngester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func TestSource_IngestsAndAcks(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	ing := &recordingIngester{accepted: id.NewWorkflowID()}
	src := redisstream.New(client, "courier:triggers", ing,
		redisstream.WithConsumer("test"),
		redisstream.WithBlock(100*time.Millisecond),
	)
	if err := src.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	// Creating the group twice is fine.
	if err := src.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup again: %v", err)
	}

	for i := range 5 {
		if _, err := src.Publish(ctx, ing.accepted, fmt.Sprintf("k-%d", i), json.RawMessage(`{"n":1}`)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	// Rejected and malformed entries are acknowledged too.
	_, _ = src.Publish(ctx, id.NewWorkflowID(), "unknown-workflow", nil)
	_ = client.XAdd(ctx, &goredis.XAddArgs{Stream: "courier:triggers", Values: map[string]any{"key": "no-workflow"}}).Err()

	n, err := src.Poll(ctx, "test-0", ">")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 7 {
		t.Fatalf("read %d entries, want 7", n)
	}
	if ing.count() != 5 {
		t.Fatalf("ingested %d, want 5", ing.count())
	}

	pending, err := client.XPending(ctx, "courier:triggers", "courier").Result()
	if err != nil {
		t.Fatalf("XPending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("pending = %d, want 0", pending.Count)
	}
}

func TestSource_RunStopsOnCancel(t *testing.T) {
	client := setupRedis(t)
	ing := &recordingIngester{accepted: id.NewWorkflowID()}
	src := redisstream.New(client, "courier:run", ing,
		redisstream.WithConsumers(2),
		redisstream.WithBlock(50*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	if _, err := src.Publish(context.Background(), ing.accepted, "live", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for ing.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if ing.count() != 1 {
		t.Fatalf("ingested %d, want 1", ing.count())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
