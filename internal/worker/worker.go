package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/pipeline"
)

// Worker consumes task queues and dispatches envelopes to their handlers.
// One Worker owns one or more queues; each queue gets its own receive loop.
type Worker struct {
	broker   interfaces.TaskBroker
	store    interfaces.JobStore
	executor *pipeline.Executor
	scraper  interfaces.ScrapeClient
	llm      interfaces.LLMService
	logger   arbor.ILogger

	queues      []string
	concurrency int
	hardLimit   time.Duration

	deepSearchRetry retryPolicy
	scrapeRetry     retryPolicy

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type retryPolicy struct {
	maxRetries int
	delay      time.Duration
}

// New creates a worker from configuration
func New(
	cfg *common.Config,
	broker interfaces.TaskBroker,
	store interfaces.JobStore,
	executor *pipeline.Executor,
	scraper interfaces.ScrapeClient,
	llm interfaces.LLMService,
	logger arbor.ILogger,
) *Worker {
	queues := cfg.Worker.Queues
	if len(queues) == 0 {
		queues = []string{models.QueueLLM}
	}
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		broker:      broker,
		store:       store,
		executor:    executor,
		scraper:     scraper,
		llm:         llm,
		logger:      logger,
		queues:      queues,
		concurrency: concurrency,
		hardLimit:   common.ParseDurationOr(cfg.Pipeline.HardTimeLimit, 960*time.Second),
		deepSearchRetry: retryPolicy{
			maxRetries: cfg.Worker.DeepSearchMaxRetries,
			delay:      common.ParseDurationOr(cfg.Worker.DeepSearchRetryDelay, 10*time.Second),
		},
		scrapeRetry: retryPolicy{
			maxRetries: cfg.Worker.ScrapeMaxRetries,
			delay:      common.ParseDurationOr(cfg.Worker.ScrapeRetryDelay, 5*time.Second),
		},
	}
}

// Start launches the receive loops. It returns immediately; Stop blocks
// until in-flight tasks finish.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for _, queue := range w.queues {
		for i := 0; i < w.concurrency; i++ {
			w.wg.Add(1)
			go w.receiveLoop(ctx, queue)
		}
	}

	w.logger.Info().
		Strs("queues", w.queues).
		Int("concurrency", w.concurrency).
		Msg("Worker started")
}

// Stop cancels the receive loops and waits for in-flight tasks
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info().Msg("Worker stopped")
}

func (w *Worker) receiveLoop(ctx context.Context, queue string) {
	defer w.wg.Done()

	for {
		env, ack, err := w.broker.Receive(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().
				Err(err).
				Str("queue", queue).
				Msg("Task receive failed, backing off")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		w.handle(ctx, queue, env)

		if err := ack(); err != nil {
			w.logger.Warn().
				Err(err).
				Str("queue", queue).
				Str("task_id", env.ID).
				Msg("Task ack failed")
		}
	}
}

// handle dispatches one envelope. Handler errors are resolved here: either
// the task is re-enqueued under its retry policy or its failure is final.
func (w *Worker) handle(ctx context.Context, queue string, env *models.TaskEnvelope) {
	w.logger.Info().
		Str("queue", queue).
		Str("task_id", env.ID).
		Str("name", env.Name).
		Int("retries", env.Retries).
		Msg("Task received")

	var err error
	var policy retryPolicy
	switch env.Name {
	case models.TaskDeepSearch:
		policy = w.deepSearchRetry
		err = w.handleDeepSearch(ctx, env)
	case models.TaskScrapeContent:
		policy = w.scrapeRetry
		err = w.handleScrapeContent(ctx, env)
	case models.TaskHealthCheck:
		err = w.handleHealthCheck(ctx, env)
	default:
		w.logger.Warn().
			Str("task_id", env.ID).
			Str("name", env.Name).
			Msg("Dropping task with unknown name")
		return
	}

	if err == nil {
		return
	}

	var unrecoverable *unrecoverableError
	if !errors.As(err, &unrecoverable) && env.Retries < policy.maxRetries && ctx.Err() == nil {
		w.retry(ctx, queue, env, policy, err)
		return
	}

	w.logger.Error().
		Err(err).
		Str("task_id", env.ID).
		Str("name", env.Name).
		Int("retries", env.Retries).
		Msg("Task failed permanently")
}

func (w *Worker) retry(ctx context.Context, queue string, env *models.TaskEnvelope, policy retryPolicy, cause error) {
	w.logger.Warn().
		Err(cause).
		Str("task_id", env.ID).
		Str("name", env.Name).
		Int("retry", env.Retries+1).
		Dur("delay", policy.delay).
		Msg("Task failed, scheduling retry")

	select {
	case <-time.After(policy.delay):
	case <-ctx.Done():
		return
	}

	env.Retries++
	if err := w.broker.EnqueueEnvelope(ctx, queue, env); err != nil {
		w.logger.Error().
			Err(err).
			Str("task_id", env.ID).
			Msg("Failed to re-enqueue task for retry")
	}
}

// unrecoverableError marks failures that must not be retried, such as a
// malformed payload.
type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

func unrecoverable(err error) error {
	return &unrecoverableError{err: err}
}

// errorResult is the result-backend payload stored for failed tasks
type errorResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func decodePayload(env *models.TaskEnvelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return unrecoverable(fmt.Errorf("malformed %s payload: %w", env.Name, err))
	}
	return nil
}
