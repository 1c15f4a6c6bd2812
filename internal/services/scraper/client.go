package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// HTTPClient implements the ScrapeClient interface against the scrape
// worker's HTTP endpoint.
type HTTPClient struct {
	config *common.ScraperConfig
	logger arbor.ILogger
	client *http.Client
}

// scrapeRequest is the wire request sent to the scrape worker. ChunkSize
// and Concurrency are advisory.
type scrapeRequest struct {
	URLs        []string `json:"urls"`
	Query       string   `json:"query"`
	ChunkSize   int      `json:"chunk_size,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// NewHTTPClient creates a new scrape worker HTTP client
func NewHTTPClient(scraperConfig *common.ScraperConfig, logger arbor.ILogger) *HTTPClient {
	timeout := common.ParseDurationOr(scraperConfig.Timeout, 600*time.Second)

	return &HTTPClient{
		config: scraperConfig,
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// ScrapeURLs sends one batch of URLs to the scrape worker and returns the
// normalized envelope. The worker may respond with the full envelope, a
// bare result list, or a url-keyed map; all three are accepted.
func (c *HTTPClient) ScrapeURLs(ctx context.Context, urls []string, query string) (*models.ScrapeEnvelope, error) {
	if len(urls) == 0 {
		return &models.ScrapeEnvelope{OK: true, Results: []models.ScrapeResult{}}, nil
	}

	payload, err := json.Marshal(scrapeRequest{
		URLs:        urls,
		Query:       query,
		ChunkSize:   c.config.ChunkSize,
		Concurrency: c.config.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read scrape response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape worker returned status %d", resp.StatusCode)
	}

	envelope, err := ParseEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scrape response: %w", err)
	}

	c.logger.Debug().
		Int("urls", len(urls)).
		Int("results", len(envelope.Results)).
		Dur("duration", time.Since(startTime)).
		Msg("Scrape batch completed")

	return envelope, nil
}
