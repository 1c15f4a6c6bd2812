package interfaces

import (
	"context"
	"time"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// JobStore persists search jobs across their lifecycle.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.SearchJob) error
	GetJob(ctx context.Context, id string) (*models.SearchJob, error)
	UpdateStatus(ctx context.Context, id string, status models.JobStatus) error
	SetTaskID(ctx context.Context, id, taskID string) error
	SetResult(ctx context.Context, id string, result string) error
	SetError(ctx context.Context, id string, errMsg string) error

	// FailStale marks processing jobs older than olderThan as failed and
	// returns how many were transitioned.
	FailStale(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}
