package models

import "encoding/json"

// Table is a row-major table extracted by the scrape worker. It is
// preserved verbatim and treated as opaque structured data.
type Table = json.RawMessage

// ScrapeResult is the per-URL evidence returned by the scrape worker.
type ScrapeResult struct {
	URL         string  `json:"url"`
	BestChunk   string  `json:"best_chunk"`
	Score       float64 `json:"score"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	WordCount   int     `json:"word_count"`
	Tables      []Table `json:"tables"`
	TablesCount int     `json:"tables_count"`
	Error       string  `json:"error,omitempty"`
}

// Successful reports whether the scrape produced usable content.
func (r *ScrapeResult) Successful() bool {
	return r.Error == "" && r.BestChunk != ""
}

// SuccessfulScrapes filters a batch down to its usable results.
func SuccessfulScrapes(results []ScrapeResult) []ScrapeResult {
	out := make([]ScrapeResult, 0, len(results))
	for _, r := range results {
		if r.Successful() {
			out = append(out, r)
		}
	}
	return out
}

// ScrapeTiming breaks the batch duration into its phases.
type ScrapeTiming struct {
	ScrapeSeconds     float64 `json:"scrape_seconds"`
	ProcessingSeconds float64 `json:"processing_seconds"`
}

// ScrapeStatistics summarizes a scrape batch.
type ScrapeStatistics struct {
	URLsRequested         int     `json:"urls_requested"`
	SuccessfulScrapes     int     `json:"successful_scrapes"`
	FailedScrapes         int     `json:"failed_scrapes"`
	AverageRelevanceScore float64 `json:"average_relevance_score"`
	TotalTablesFound      int     `json:"total_tables_found"`
}

// ScrapeEnvelope is the full wire envelope returned by the scrape worker.
// Consumers must also accept the legacy data-wrapped, bare-list and
// url-keyed shapes; see scraper.ParseEnvelope.
type ScrapeEnvelope struct {
	OK                   bool             `json:"ok"`
	Query                string           `json:"query,omitempty"`
	Error                string           `json:"error,omitempty"`
	TotalDurationSeconds float64          `json:"total_duration_seconds,omitempty"`
	Timing               ScrapeTiming     `json:"timing,omitzero"`
	Statistics           ScrapeStatistics `json:"statistics,omitzero"`
	Results              []ScrapeResult   `json:"results"`
}

// FailedEnvelope builds an envelope marking every requested URL as failed
// with the given reason. Used when the whole batch errors out.
func FailedEnvelope(urls []string, reason string) *ScrapeEnvelope {
	results := make([]ScrapeResult, 0, len(urls))
	for _, u := range urls {
		results = append(results, ScrapeResult{
			URL:        u,
			ChunkIndex: -1,
			Tables:     []Table{},
			Error:      reason,
		})
	}
	return &ScrapeEnvelope{
		OK:      false,
		Error:   reason,
		Results: results,
		Statistics: ScrapeStatistics{
			URLsRequested: len(urls),
			FailedScrapes: len(urls),
		},
	}
}
