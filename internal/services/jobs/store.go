package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// ErrJobNotFound is returned when a job id has no stored record
var ErrJobNotFound = errors.New("job not found")

// Store persists search jobs in BadgerDB via badgerhold.
type Store struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewStore opens the job database
func NewStore(badgerConfig *common.BadgerConfig, logger arbor.ILogger) (*Store, error) {
	if badgerConfig.ResetOnStartup {
		if err := os.RemoveAll(badgerConfig.Path); err != nil {
			return nil, fmt.Errorf("failed to reset job database at %s: %w", badgerConfig.Path, err)
		}
	}

	options := badgerhold.DefaultOptions
	options.Dir = badgerConfig.Path
	options.ValueDir = badgerConfig.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open job database at %s: %w", badgerConfig.Path, err)
	}

	logger.Debug().
		Str("path", badgerConfig.Path).
		Msg("Job store opened")

	return &Store{store: store, logger: logger}, nil
}

// CreateJob stores a new job in pending status
func (s *Store) CreateJob(ctx context.Context, job *models.SearchJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	if err := s.store.Insert(job.ID, job); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob fetches one job by id
func (s *Store) GetJob(ctx context.Context, id string) (*models.SearchJob, error) {
	var job models.SearchJob
	if err := s.store.Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateStatus transitions a job's lifecycle status
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.JobStatus) error {
	return s.mutate(id, func(job *models.SearchJob) {
		job.Status = status
		if job.Status.IsTerminal() && job.CompletedAt == nil {
			now := time.Now().UTC()
			job.CompletedAt = &now
		}
	})
}

// SetTaskID records the broker task id driving this job
func (s *Store) SetTaskID(ctx context.Context, id, taskID string) error {
	return s.mutate(id, func(job *models.SearchJob) {
		job.TaskID = taskID
	})
}

// SetResult stores the final content and marks the job completed
func (s *Store) SetResult(ctx context.Context, id string, result string) error {
	return s.mutate(id, func(job *models.SearchJob) {
		job.Result = result
		job.Status = models.JobStatusCompleted
		now := time.Now().UTC()
		job.CompletedAt = &now
	})
}

// SetError stores the failure reason and marks the job failed
func (s *Store) SetError(ctx context.Context, id string, errMsg string) error {
	return s.mutate(id, func(job *models.SearchJob) {
		job.Error = errMsg
		job.Status = models.JobStatusFailed
		now := time.Now().UTC()
		job.CompletedAt = &now
	})
}

// FailStale marks processing jobs older than olderThan as failed and
// returns how many were transitioned.
func (s *Store) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var stale []models.SearchJob
	query := badgerhold.Where("Status").Eq(models.JobStatusProcessing).And("UpdatedAt").Lt(cutoff)
	if err := s.store.Find(&stale, query); err != nil {
		return 0, fmt.Errorf("failed to query stale jobs: %w", err)
	}

	failed := 0
	for i := range stale {
		job := &stale[i]
		err := s.mutate(job.ID, func(j *models.SearchJob) {
			j.Status = models.JobStatusFailed
			j.Error = "job abandoned: no progress within the stale window"
			now := time.Now().UTC()
			j.CompletedAt = &now
		})
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to fail stale job")
			continue
		}
		failed++
	}
	return failed, nil
}

// Close closes the job database
func (s *Store) Close() error {
	return s.store.Close()
}

func (s *Store) mutate(id string, fn func(*models.SearchJob)) error {
	var job models.SearchJob
	if err := s.store.Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to load job %s: %w", id, err)
	}

	fn(&job)
	job.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(id, &job); err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return nil
}
