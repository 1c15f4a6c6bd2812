package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// AckFunc acknowledges a delivered task, removing it from the in-flight
// set. Unacked tasks are redelivered after a broker restart.
type AckFunc func() error

// TaskBroker moves task envelopes between producers and workers over named
// queues, and carries results back to callers by task id.
type TaskBroker interface {
	// Enqueue wraps payload in a new envelope, pushes it onto queue and
	// returns the generated task id.
	Enqueue(ctx context.Context, queue, name string, payload any) (string, error)

	// EnqueueEnvelope pushes a prepared envelope, preserving its id and
	// retry count. Used for retry re-submission.
	EnqueueEnvelope(ctx context.Context, queue string, env *models.TaskEnvelope) error

	// Receive blocks for the next task on queue. The returned AckFunc
	// must be called once the task has been fully handled.
	Receive(ctx context.Context, queue string) (*models.TaskEnvelope, AckFunc, error)

	// StoreResult publishes a task's result for AwaitResult callers.
	StoreResult(ctx context.Context, taskID string, result any) error

	// AwaitResult blocks until the task's result arrives or timeout
	// elapses.
	AwaitResult(ctx context.Context, taskID string, timeout time.Duration) (json.RawMessage, error)

	Close() error
}
