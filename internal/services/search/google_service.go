package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// GoogleService implements the SearchService interface against the Google
// Programmable Search (Custom Search JSON) API. Search never returns an
// error: failures are logged and yield an empty result set, so one dead
// query cannot sink a multi-query fan-out.
type GoogleService struct {
	config *common.SearchConfig
	logger arbor.ILogger
	client *http.Client
}

// googleSearchResponse is the subset of the Custom Search JSON response
// this service consumes.
type googleSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewGoogleService creates a new Google search service instance
func NewGoogleService(searchConfig *common.SearchConfig, logger arbor.ILogger) *GoogleService {
	timeout := common.ParseDurationOr(searchConfig.Timeout, 15*time.Second)

	return &GoogleService{
		config: searchConfig,
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// Search runs one query and returns up to numResults hits. Hits missing a
// URL are dropped; provider errors yield an empty slice.
func (s *GoogleService) Search(ctx context.Context, query string, numResults int) []models.SearchHit {
	if query == "" {
		return nil
	}
	if numResults <= 0 {
		numResults = 5
	}
	// The API caps num at 10 per request
	if numResults > 10 {
		numResults = 10
	}

	startTime := time.Now()

	hits, err := s.doSearch(ctx, query, numResults)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("query", query).
			Msg("Web search failed, continuing with empty results")
		return nil
	}

	s.logger.Debug().
		Str("query", query).
		Int("hits", len(hits)).
		Dur("duration", time.Since(startTime)).
		Msg("Web search completed")

	return hits
}

func (s *GoogleService) doSearch(ctx context.Context, query string, numResults int) ([]models.SearchHit, error) {
	if s.config.APIKey == "" || s.config.EngineID == "" {
		return nil, fmt.Errorf("search API key and engine ID are required")
	}

	params := url.Values{}
	params.Set("key", s.config.APIKey)
	params.Set("cx", s.config.EngineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(numResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var parsed googleSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("search API error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	hits := make([]models.SearchHit, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Link == "" {
			continue
		}
		hits = append(hits, models.SearchHit{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		})
	}

	return hits, nil
}
