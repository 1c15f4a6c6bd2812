package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// How long stored task results survive before Redis reaps them.
const resultTTL = time.Hour

// blockInterval bounds each blocking Redis call so context cancellation is
// honored between polls.
const blockInterval = 2 * time.Second

// RedisBroker implements the TaskBroker interface on Redis lists using the
// reliable-queue pattern: tasks move atomically from the queue list to a
// per-queue processing list, and acking removes them from processing. Tasks
// left in processing after a crash can be re-queued by an operator.
type RedisBroker struct {
	client *redis.Client
	logger arbor.ILogger
	prefix string
}

// NewRedisBroker creates a task broker on a dedicated Redis connection pool
func NewRedisBroker(redisConfig *common.RedisConfig, logger arbor.ILogger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisConfig.Addr,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", redisConfig.Addr, err)
	}

	prefix := redisConfig.KeyPrefix
	if prefix == "" {
		prefix = "deepship"
	}

	logger.Debug().
		Str("addr", redisConfig.Addr).
		Str("prefix", prefix).
		Msg("Task broker connected to Redis")

	return &RedisBroker{client: client, logger: logger, prefix: prefix}, nil
}

func (b *RedisBroker) queueKey(queue string) string {
	return b.prefix + ":queue:" + queue
}

func (b *RedisBroker) processingKey(queue string) string {
	return b.prefix + ":processing:" + queue
}

func (b *RedisBroker) resultKey(taskID string) string {
	return b.prefix + ":result:" + taskID
}

// Enqueue wraps payload in a new envelope and pushes it onto the queue
func (b *RedisBroker) Enqueue(ctx context.Context, queue, name string, payload any) (string, error) {
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
func (b *RedisBroker) EnqueueEnvelope(ctx context.Context, queue string, env *models.TaskEnvelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode task envelope: %w", err)
	}

	if err := b.client.LPush(ctx, b.queueKey(queue), raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task on %s: %w", queue, err)
	}

	b.logger.Debug().
		Str("queue", queue).
		Str("task_id", env.ID).
		Str("name", env.Name).
		Int("retries", env.Retries).
		Msg("Task enqueued")

	return nil
}

// Receive blocks for the next task on the queue. The task is moved to the
// queue's processing list until the returned AckFunc is called.
func (b *RedisBroker) Receive(ctx context.Context, queue string) (*models.TaskEnvelope, interfaces.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		raw, err := b.client.BLMove(ctx, b.queueKey(queue), b.processingKey(queue), "RIGHT", "LEFT", blockInterval).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("failed to receive from %s: %w", queue, err)
		}

		var env models.TaskEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// Poison entry: drop it from processing so it cannot wedge the queue.
			b.logger.Error().
				Err(err).
				Str("queue", queue).
				Msg("Dropping malformed task envelope")
			b.client.LRem(context.Background(), b.processingKey(queue), 1, raw)
			continue
		}

		ack := func() error {
			return b.client.LRem(context.Background(), b.processingKey(queue), 1, raw).Err()
		}
		return &env, ack, nil
	}
}

// StoreResult publishes a task's result for AwaitResult callers
func (b *RedisBroker) StoreResult(ctx context.Context, taskID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode task result: %w", err)
	}

	key := b.resultKey(taskID)
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store result for task %s: %w", taskID, err)
	}
	return nil
}

// AwaitResult blocks until the task's result arrives or timeout elapses
func (b *RedisBroker) AwaitResult(ctx context.Context, taskID string, timeout time.Duration) (json.RawMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timed out waiting for result of task %s", taskID)
		}
		block := blockInterval
		if remaining < block {
			block = remaining
		}

		values, err := b.client.BLPop(ctx, block, b.resultKey(taskID)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to await result for task %s: %w", taskID, err)
		}
		// BLPop returns [key, value]
		if len(values) < 2 {
			continue
		}
		return json.RawMessage(values[1]), nil
	}
}

// Close releases the Redis connection pool
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
