package scraper

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// DirectScraper implements the Scraper interface by calling the scrape
// worker's HTTP endpoint in-line.
type DirectScraper struct {
	client interfaces.ScrapeClient
	logger arbor.ILogger
}

// NewDirectScraper creates a scraper that talks to the scrape worker over HTTP
func NewDirectScraper(client interfaces.ScrapeClient, logger arbor.ILogger) *DirectScraper {
	return &DirectScraper{client: client, logger: logger}
}

// Scrape fetches evidence for the batch. Failures are absorbed: a dead
// backend yields an empty slice and the pipeline continues on snippets.
func (s *DirectScraper) Scrape(ctx context.Context, jobID string, urls []string, primaryQuery, originalQuery string) []models.ScrapeResult {
	if len(urls) == 0 {
		return nil
	}

	query := primaryQuery
	if query == "" {
		query = originalQuery
	}

	envelope, err := s.client.ScrapeURLs(ctx, urls, query)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Int("urls", len(urls)).
			Msg("Scrape batch failed, continuing without scraped content")
		return nil
	}

	if !envelope.OK && len(models.SuccessfulScrapes(envelope.Results)) == 0 {
		s.logger.Warn().
			Str("job_id", jobID).
			Str("error", envelope.Error).
			Msg("Scrape batch returned no usable content")
	}

	return envelope.Results
}

// QueueScraper implements the Scraper interface by round-tripping a
// scrape_content task through the broker's scraper queue, for deployments
// where the scrape worker is a separate consumer process.
type QueueScraper struct {
	broker  interfaces.TaskBroker
	config  *common.ScraperConfig
	logger  arbor.ILogger
	timeout time.Duration
}

// NewQueueScraper creates a scraper backed by the scraper task queue
func NewQueueScraper(broker interfaces.TaskBroker, scraperConfig *common.ScraperConfig, logger arbor.ILogger) *QueueScraper {
	return &QueueScraper{
		broker:  broker,
		config:  scraperConfig,
		logger:  logger,
		timeout: common.ParseDurationOr(scraperConfig.Timeout, 600*time.Second),
	}
}

// Scrape enqueues a scrape_content task and blocks for its result. Failures
// are absorbed into an empty slice.
func (s *QueueScraper) Scrape(ctx context.Context, jobID string, urls []string, primaryQuery, originalQuery string) []models.ScrapeResult {
	if len(urls) == 0 {
		return nil
	}

	task := &models.ScrapeContentTask{
		JobID:         jobID,
		URLs:          urls,
		PrimaryQuery:  primaryQuery,
		OriginalQuery: originalQuery,
		ChunkSize:     s.config.ChunkSize,
		Concurrency:   s.config.Concurrency,
	}

	taskID, err := s.broker.Enqueue(ctx, models.QueueScraper, models.TaskScrapeContent, task)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Msg("Failed to enqueue scrape task, continuing without scraped content")
		return nil
	}

	raw, err := s.broker.AwaitResult(ctx, taskID, s.timeout)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("task_id", taskID).
			Msg("Scrape task result not received, continuing without scraped content")
		return nil
	}

	envelope, err := ParseEnvelope(raw)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("task_id", taskID).
			Msg("Malformed scrape task result, continuing without scraped content")
		return nil
	}

	return envelope.Results
}
