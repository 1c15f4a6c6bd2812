package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

type stubLLM struct {
	response string
	err      error
	prompt   string
}

func (s *stubLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	if len(messages) > 0 {
		s.prompt = messages[len(messages)-1].Content
	}
	return s.response, s.err
}

func (s *stubLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *stubLLM) Close() error                          { return nil }

func newTestExtractor(llm interfaces.LLMService) *Service {
	return NewService(llm, &common.PipelineConfig{ExtractionTimeout: "90s"}, common.GetLogger())
}

func sampleEvidence() (models.SearchResults, []models.ScrapeResult) {
	searchResults := models.SearchResults{
		"ev sales europe": {
			{Title: "Report", URL: "https://example.com/r", Snippet: "EV sales grew 30% in Q1"},
		},
	}
	scrapes := []models.ScrapeResult{
		{URL: "https://example.com/r", BestChunk: "Detailed sales figures by country.", Score: 0.9,
			Tables: []models.Table{models.Table(`[["country","sales"],["DE","120k"]]`)}},
	}
	return searchResults, scrapes
}

func TestExtractBuildsBag(t *testing.T) {
	llm := &stubLLM{response: `{"sales_growth": "30%", "by_country": {"DE": "120k"}}`}
	searchResults, scrapes := sampleEvidence()

	bag := newTestExtractor(llm).Extract(context.Background(), "how are EV sales?", []string{"statistics"}, []string{"ev sales europe"}, searchResults, scrapes)
	require.Equal(t, []string{"by_country", "sales_growth"}, bag.Keys())

	assert.Contains(t, llm.prompt, "EV sales grew 30% in Q1")
	assert.Contains(t, llm.prompt, "Detailed sales figures by country.")
	assert.Contains(t, llm.prompt, `[["country","sales"]`)
	assert.Contains(t, llm.prompt, "statistics")
}

func TestExtractEmptyOnFailure(t *testing.T) {
	searchResults, scrapes := sampleEvidence()

	t.Run("model error", func(t *testing.T) {
		llm := &stubLLM{err: errors.New("timeout")}
		bag := newTestExtractor(llm).Extract(context.Background(), "q", nil, nil, searchResults, scrapes)
		assert.Empty(t, bag)
		assert.Equal(t, "{}", string(bag.JSON()))
	})

	t.Run("unparseable response", func(t *testing.T) {
		llm := &stubLLM{response: "no structured data here"}
		bag := newTestExtractor(llm).Extract(context.Background(), "q", nil, nil, searchResults, scrapes)
		assert.Empty(t, bag)
	})

	t.Run("no evidence skips the model", func(t *testing.T) {
		llm := &stubLLM{err: errors.New("should not be called")}
		bag := newTestExtractor(llm).Extract(context.Background(), "q", nil, nil, nil, nil)
		assert.Empty(t, bag)
		assert.Empty(t, llm.prompt)
	})
}

func TestExtractRecoversFencedResponse(t *testing.T) {
	llm := &stubLLM{response: "```json\n{\"prices\": [1, 2, 3]}\n```"}
	searchResults, scrapes := sampleEvidence()

	bag := newTestExtractor(llm).Extract(context.Background(), "q", nil, nil, searchResults, scrapes)
	assert.Equal(t, []string{"prices"}, bag.Keys())
}

func TestEvidenceFollowsQueryOrder(t *testing.T) {
	searchResults := models.SearchResults{
		"alpha query": {{Title: "A", URL: "https://a", Snippet: "alpha snippet"}},
		"beta query":  {{Title: "B", URL: "https://b", Snippet: "beta snippet"}},
	}

	evidence := buildEvidence([]string{"beta query", "alpha query"}, searchResults, nil)
	beta := strings.Index(evidence, "beta snippet")
	alpha := strings.Index(evidence, "alpha snippet")
	require.GreaterOrEqual(t, beta, 0)
	require.GreaterOrEqual(t, alpha, 0)
	assert.Less(t, beta, alpha, "evidence must follow the executed query order")
}

func TestEvidenceCapsOversizedInputs(t *testing.T) {
	scrapes := []models.ScrapeResult{
		{URL: "https://big", BestChunk: strings.Repeat("x", 5000), Score: 0.5,
			Tables: []models.Table{models.Table(`"` + strings.Repeat("y", 3000) + `"`)}},
	}

	evidence := buildEvidence(nil, nil, scrapes)
	assert.LessOrEqual(t, strings.Count(evidence, "x"), maxChunkChars)
	assert.LessOrEqual(t, strings.Count(evidence, "y"), maxTableChars)
}

func TestEvidenceSkipsFailedScrapes(t *testing.T) {
	scrapes := []models.ScrapeResult{
		{URL: "https://dead", Error: "timeout"},
		{URL: "https://empty", BestChunk: ""},
	}
	assert.Equal(t, "", buildEvidence(nil, nil, scrapes))
}
