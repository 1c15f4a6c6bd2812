package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// handleDeepSearch runs the research pipeline for one job. The job record
// tracks the attempt: processing on pickup, completed with the final
// payload on success, failed with the reason once retries are exhausted.
func (w *Worker) handleDeepSearch(ctx context.Context, env *models.TaskEnvelope) error {
	var task models.DeepSearchTask
	if err := decodePayload(env, &task); err != nil {
		return err
	}
	if err := task.Validate(); err != nil {
		return unrecoverable(err)
	}

	if err := w.store.UpdateStatus(ctx, task.JobID, models.JobStatusProcessing); err != nil {
		w.logger.Warn().
			Err(err).
			Str("job_id", task.JobID).
			Msg("Failed to mark job processing")
	}

	runCtx, cancel := context.WithTimeout(ctx, w.hardLimit)
	defer cancel()

	final, err := w.executor.Run(runCtx, &task)
	if err != nil {
		// Only the last attempt writes the terminal failure; earlier
		// attempts leave the job processing for the retry.
		if env.Retries >= w.deepSearchRetry.maxRetries {
			reason := fmt.Sprintf("research failed after %d attempts: %v", env.Retries+1, err)
			if storeErr := w.store.SetError(ctx, task.JobID, reason); storeErr != nil {
				w.logger.Warn().
					Err(storeErr).
					Str("job_id", task.JobID).
					Msg("Failed to record job failure")
			}
			if resErr := w.broker.StoreResult(ctx, env.ID, errorResult{OK: false, Error: reason}); resErr != nil {
				w.logger.Warn().
					Err(resErr).
					Str("task_id", env.ID).
					Msg("Failed to store failure result")
			}
		}
		return fmt.Errorf("deep_search for job %s: %w", task.JobID, err)
	}

	encoded, err := json.Marshal(final)
	if err != nil {
		return unrecoverable(fmt.Errorf("failed to encode final payload for job %s: %w", task.JobID, err))
	}
	if err := w.store.SetResult(ctx, task.JobID, string(encoded)); err != nil {
		w.logger.Warn().
			Err(err).
			Str("job_id", task.JobID).
			Msg("Failed to persist job result")
	}
	if err := w.broker.StoreResult(ctx, env.ID, final); err != nil {
		w.logger.Warn().
			Err(err).
			Str("task_id", env.ID).
			Msg("Failed to store task result")
	}

	return nil
}

// handleScrapeContent serves scrape_content tasks for deployments running
// the scrape RPC behind the broker instead of direct HTTP. The envelope
// stored on the result backend is what QueueScraper unwraps.
func (w *Worker) handleScrapeContent(ctx context.Context, env *models.TaskEnvelope) error {
	var task models.ScrapeContentTask
	if err := decodePayload(env, &task); err != nil {
		return err
	}
	if err := task.Validate(); err != nil {
		return unrecoverable(err)
	}

	query := task.PrimaryQuery
	if query == "" {
		query = task.OriginalQuery
	}

	envelope, err := w.scraper.ScrapeURLs(ctx, task.URLs, query)
	if err != nil {
		// The last attempt still answers the waiting caller, with every
		// URL marked failed.
		if env.Retries >= w.scrapeRetry.maxRetries {
			failed := models.FailedEnvelope(task.URLs, err.Error())
			if resErr := w.broker.StoreResult(ctx, env.ID, failed); resErr != nil {
				w.logger.Warn().
					Err(resErr).
					Str("task_id", env.ID).
					Msg("Failed to store scrape failure result")
			}
		}
		return fmt.Errorf("scrape_content for job %s: %w", task.JobID, err)
	}

	if err := w.broker.StoreResult(ctx, env.ID, envelope); err != nil {
		return fmt.Errorf("failed to store scrape result for task %s: %w", env.ID, err)
	}

	w.logger.Info().
		Str("job_id", task.JobID).
		Str("task_id", env.ID).
		Int("urls", len(task.URLs)).
		Int("successful", len(models.SuccessfulScrapes(envelope.Results))).
		Msg("Scrape task completed")

	return nil
}

// handleHealthCheck probes the LLM provider and stores the verdict
func (w *Worker) handleHealthCheck(ctx context.Context, env *models.TaskEnvelope) error {
	if err := w.llm.HealthCheck(ctx); err != nil {
		if resErr := w.broker.StoreResult(ctx, env.ID, errorResult{OK: false, Error: err.Error()}); resErr != nil {
			w.logger.Warn().
				Err(resErr).
				Str("task_id", env.ID).
				Msg("Failed to store health check result")
		}
		return fmt.Errorf("health check failed: %w", err)
	}
	return w.broker.StoreResult(ctx, env.ID, map[string]bool{"ok": true})
}
