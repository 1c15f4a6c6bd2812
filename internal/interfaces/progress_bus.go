package interfaces

import (
	"context"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// ProgressPublisher emits progress events onto a job's channel. Publishing
// is fire-and-forget: delivery failures are logged, never returned, and a
// job with zero subscribers still publishes every event.
type ProgressPublisher interface {
	Publish(ctx context.Context, jobID string, event models.ProgressEvent)
}

// ProgressBus adds subscription to the publisher side. Subscribers joining
// mid-job receive only events published after they join.
type ProgressBus interface {
	ProgressPublisher

	// Subscribe returns a channel of events for the job and a cancel
	// function that must be called to release the subscription.
	Subscribe(ctx context.Context, jobID string) (<-chan models.ProgressEvent, func(), error)

	Close() error
}
