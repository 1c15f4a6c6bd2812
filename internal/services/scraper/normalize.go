package scraper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// ParseEnvelope decodes a scrape worker response in any of its historical
// shapes:
//
//  1. the full envelope: {"ok": true, "results": [...], ...}
//  2. a data-wrapped envelope: {"data": {"results": [...]}}
//  3. a bare result list: [{...}, {...}]
//  4. a url-keyed map: {"https://a": {...}, "https://b": {...}}
//
// Shapes 2-4 are unwrapped into a synthetic envelope.
func ParseEnvelope(raw []byte) (*models.ScrapeEnvelope, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("empty scrape response")
	}

	if strings.HasPrefix(trimmed, "[") {
		var results []models.ScrapeResult
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, fmt.Errorf("invalid scrape result list: %w", err)
		}
		return &models.ScrapeEnvelope{OK: true, Results: results}, nil
	}

	// Probe for the envelope shape first: it is distinguished by its
	// "results" key.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("invalid scrape response: %w", err)
	}

	if _, ok := probe["results"]; ok {
		var envelope models.ScrapeEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("invalid scrape envelope: %w", err)
		}
		return &envelope, nil
	}

	// Older workers wrapped the envelope under a "data" key.
	if inner, ok := probe["data"]; ok {
		return ParseEnvelope(inner)
	}

	// url-keyed map shape: every value must itself be a result object
	results := make([]models.ScrapeResult, 0, len(probe))
	for url, value := range probe {
		var r models.ScrapeResult
		if err := json.Unmarshal(value, &r); err != nil {
			return nil, fmt.Errorf("invalid scrape result for %s: %w", url, err)
		}
		if r.URL == "" {
			r.URL = url
		}
		results = append(results, r)
	}
	return &models.ScrapeEnvelope{OK: true, Results: results}, nil
}
