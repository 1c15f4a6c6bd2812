package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// Context excerpts are capped so one oversized page cannot starve the
// extraction prompt.
const (
	maxChunkChars = 2000
	maxTableChars = 1000
)

// Service synthesizes a structured data bag from search and scrape
// evidence. Extraction is best-effort: any failure, including the deadline,
// yields an empty bag and the pipeline moves on.
type Service struct {
	llm     interfaces.LLMService
	logger  arbor.ILogger
	timeout time.Duration
}

// NewService creates a new data extraction service
func NewService(llm interfaces.LLMService, pipelineConfig *common.PipelineConfig, logger arbor.ILogger) *Service {
	return &Service{
		llm:     llm,
		logger:  logger,
		timeout: common.ParseDurationOr(pipelineConfig.ExtractionTimeout, 90*time.Second),
	}
}

// Extract builds the data bag for the requested data types. An empty
// evidence set or any model failure returns an empty bag, never an error.
func (s *Service) Extract(ctx context.Context, userQuery string, dataTypes []string, queries []string, searchResults models.SearchResults, scrapes []models.ScrapeResult) models.DataBag {
	evidence := buildEvidence(queries, searchResults, scrapes)
	if evidence == "" {
		s.logger.Debug().Msg("No evidence available for data extraction")
		return models.DataBag{}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	response, err := s.llm.Chat(timeoutCtx, []interfaces.Message{
		{Role: "user", Content: buildPrompt(userQuery, dataTypes, evidence)},
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Msg("Data extraction failed, continuing with empty data bag")
		return models.DataBag{}
	}

	bag, err := parseBag(response)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Int("response_length", len(response)).
			Msg("Data extraction response unparseable, continuing with empty data bag")
		return models.DataBag{}
	}

	s.logger.Debug().
		Strs("keys", bag.Keys()).
		Dur("duration", time.Since(startTime)).
		Msg("Data extraction completed")

	return bag
}

func buildPrompt(userQuery string, dataTypes []string, evidence string) string {
	types := "any concrete facts, figures, and statistics"
	if len(dataTypes) > 0 {
		types = strings.Join(dataTypes, ", ")
	}

	return fmt.Sprintf(`Extract structured data relevant to this request: %s

Focus on these data categories: %s

Source material:
%s

Respond with ONLY a JSON object. Use descriptive top-level keys for each data category you found. Values may be numbers, strings, arrays, or nested objects. Include only data actually present in the source material; do not invent figures. If nothing relevant is present, respond with {}.`, userQuery, types, evidence)
}

// buildEvidence assembles the prompt's source material: search snippets in
// executed query order, then the best chunk and tables of each successful
// scrape.
func buildEvidence(queries []string, searchResults models.SearchResults, scrapes []models.ScrapeResult) string {
	var b strings.Builder

	for _, query := range searchResults.OrderedQueries(queries) {
		for _, hit := range searchResults[query] {
			if hit.Snippet == "" {
				continue
			}
			fmt.Fprintf(&b, "Search result for %q (%s): %s\n", query, hit.URL, hit.Snippet)
		}
	}

	for _, scrape := range models.SuccessfulScrapes(scrapes) {
		chunk := scrape.BestChunk
		if len(chunk) > maxChunkChars {
			chunk = chunk[:maxChunkChars]
		}
		fmt.Fprintf(&b, "\nContent from %s:\n%s\n", scrape.URL, chunk)

		for _, table := range scrape.Tables {
			encoded := string(table)
			if len(encoded) > maxTableChars {
				encoded = encoded[:maxTableChars]
			}
			fmt.Fprintf(&b, "Table from %s: %s\n", scrape.URL, encoded)
		}
	}

	return strings.TrimSpace(b.String())
}

func parseBag(response string) (models.DataBag, error) {
	cleaned := common.StripCodeFences(response)

	var bag models.DataBag
	if err := json.Unmarshal([]byte(cleaned), &bag); err == nil {
		return bag, nil
	}

	coerced := common.CoercePythonLiterals(cleaned)
	if err := json.Unmarshal([]byte(coerced), &bag); err == nil {
		return bag, nil
	}

	if extracted := common.ExtractJSONObject(coerced); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), &bag); err == nil {
			return bag, nil
		}
	}

	return nil, fmt.Errorf("no valid data object in response")
}
