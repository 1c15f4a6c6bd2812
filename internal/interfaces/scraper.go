package interfaces

import (
	"context"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// ScrapeClient talks to the scraping backend for one batch of URLs.
type ScrapeClient interface {
	ScrapeURLs(ctx context.Context, urls []string, query string) (*models.ScrapeEnvelope, error)
}

// Scraper is the pipeline-facing scrape step. Failures are absorbed: a
// dead backend or malformed response yields an empty slice, never an
// error, and the pipeline continues on search snippets alone.
type Scraper interface {
	Scrape(ctx context.Context, jobID string, urls []string, primaryQuery, originalQuery string) []models.ScrapeResult
}
