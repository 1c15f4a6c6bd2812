package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// MemoryBroker is an in-process TaskBroker with the same envelope and
// result semantics as the Redis implementation. It backs tests and
// single-process deployments that run the scrape worker in the same binary.
type MemoryBroker struct {
	mu      sync.Mutex
	queues  map[string]chan []byte
	results map[string]chan []byte
	closed  bool
}

// NewMemoryBroker creates an in-process task broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:  make(map[string]chan []byte),
		results: make(map[string]chan []byte),
	}
}

func (b *MemoryBroker) queue(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queues[name] == nil {
		b.queues[name] = make(chan []byte, 256)
	}
	return b.queues[name]
}

func (b *MemoryBroker) resultChan(taskID string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.results[taskID] == nil {
		b.results[taskID] = make(chan []byte, 1)
	}
	return b.results[taskID]
}

// Enqueue wraps payload in a new envelope and pushes it onto the queue
func (b *MemoryBroker) Enqueue(ctx context.Context, queue, name string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode task payload: %w", err)
	}
	env := &models.TaskEnvelope{
		ID:         common.NewTaskID(),
		Name:       name,
		EnqueuedAt: time.Now().UTC(),
		Payload:    raw,
	}
	if err := b.EnqueueEnvelope(ctx, queue, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// EnqueueEnvelope pushes a prepared envelope, preserving id and retry count
func (b *MemoryBroker) EnqueueEnvelope(ctx context.Context, queue string, env *models.TaskEnvelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode task envelope: %w", err)
	}
	select {
	case b.queue(queue) <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next task on the queue
func (b *MemoryBroker) Receive(ctx context.Context, queue string) (*models.TaskEnvelope, interfaces.AckFunc, error) {
	select {
	case raw := <-b.queue(queue):
		var env models.TaskEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, nil, fmt.Errorf("malformed task envelope: %w", err)
		}
		return &env, func() error { return nil }, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// StoreResult publishes a task's result for AwaitResult callers
func (b *MemoryBroker) StoreResult(ctx context.Context, taskID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode task result: %w", err)
	}
	select {
	case b.resultChan(taskID) <- raw:
	default:
	}
	return nil
}

// AwaitResult blocks until the task's result arrives or timeout elapses
func (b *MemoryBroker) AwaitResult(ctx context.Context, taskID string, timeout time.Duration) (json.RawMessage, error) {
	select {
	case raw := <-b.resultChan(taskID):
		return json.RawMessage(raw), nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out waiting for result of task %s", taskID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the broker closed
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
