package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// RedisBus broadcasts progress events over Redis pub/sub, one channel per
// job. Publishing is fire-and-forget: a job with zero subscribers still
// publishes every event, and delivery failures are logged, never returned.
type RedisBus struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewRedisBus creates a progress bus on a dedicated Redis connection pool
func NewRedisBus(redisConfig *common.RedisConfig, logger arbor.ILogger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisConfig.Addr,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", redisConfig.Addr, err)
	}

	logger.Debug().
		Str("addr", redisConfig.Addr).
		Msg("Progress bus connected to Redis")

	return &RedisBus{client: client, logger: logger}, nil
}

// ChannelName returns the pub/sub channel for a job
func ChannelName(jobID string) string {
	return "job:" + jobID
}

// Publish emits one event on the job's channel
func (b *RedisBus) Publish(ctx context.Context, jobID string, event models.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("job_id", jobID).
			Str("type", string(event.Type)).
			Msg("Failed to encode progress event")
		return
	}

	if err := b.client.Publish(ctx, ChannelName(jobID), payload).Err(); err != nil {
		b.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("type", string(event.Type)).
			Msg("Failed to publish progress event")
	}
}

// Subscribe returns a channel of events for the job. Events published
// before the subscription are not replayed. The returned cancel function
// releases the subscription and closes the channel.
func (b *RedisBus) Subscribe(ctx context.Context, jobID string) (<-chan models.ProgressEvent, func(), error) {
	pubsub := b.client.Subscribe(ctx, ChannelName(jobID))

	// Force the SUBSCRIBE round-trip so a dead connection fails here
	// rather than silently dropping events.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to job channel: %w", err)
	}

	out := make(chan models.ProgressEvent, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event models.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn().
					Err(err).
					Str("job_id", jobID).
					Msg("Dropping malformed progress event")
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		pubsub.Close()
	}
	return out, cancel, nil
}

// Close releases the Redis connection pool
func (b *RedisBus) Close() error {
	return b.client.Close()
}
