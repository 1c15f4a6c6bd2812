package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/analysis"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/extractor"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/generator"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/planner"
)

// scriptedLLM returns queued responses in call order. The pipeline calls
// the model sequentially: plan, then extraction when planned, then
// generation, then analysis.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	response := s.responses[s.calls%len(s.responses)]
	s.calls++
	return response, nil
}

func (s *scriptedLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *scriptedLLM) Close() error                          { return nil }

type stubSearch struct {
	hits map[string][]models.SearchHit
}

func (s *stubSearch) Search(ctx context.Context, query string, numResults int) []models.SearchHit {
	return s.hits[query]
}

type stubScraper struct {
	results  []models.ScrapeResult
	gotURLs  []string
	gotQuery string
}

func (s *stubScraper) Scrape(ctx context.Context, jobID string, urls []string, primaryQuery, originalQuery string) []models.ScrapeResult {
	s.gotURLs = urls
	s.gotQuery = primaryQuery
	return s.results
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (p *capturePublisher) Publish(ctx context.Context, jobID string, event models.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) types() []models.ProgressEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.ProgressEventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *capturePublisher) byType(t models.ProgressEventType) []models.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.ProgressEvent
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testPipelineConfig() *common.PipelineConfig {
	return &common.PipelineConfig{
		EnableScraping:    true,
		MaxSearchQueries:  5,
		MaxURLsToScrape:   2,
		ResultsPerQuery:   5,
		ExtractionTimeout: "90s",
		ProgressThrottle:  "1ms",
		SoftTimeLimit:     "30s",
	}
}

func newExecutor(llm interfaces.LLMService, search interfaces.SearchService, scraper interfaces.Scraper, pub interfaces.ProgressPublisher) *Executor {
	return newExecutorWithConfig(llm, search, scraper, pub, testPipelineConfig())
}

func newExecutorWithConfig(llm interfaces.LLMService, search interfaces.SearchService, scraper interfaces.Scraper, pub interfaces.ProgressPublisher, pipelineCfg *common.PipelineConfig) *Executor {
	logger := common.GetLogger()
	return NewExecutor(
		planner.NewService(llm, pipelineCfg, logger),
		search,
		scraper,
		extractor.NewService(llm, pipelineCfg, logger),
		generator.NewService(llm, &common.GeneratorConfig{Mode: "markdown"}, logger),
		analysis.NewService(llm, logger),
		pub,
		pipelineCfg,
		logger,
	)
}

const planWithSearch = `{"web_search_needed": true, "search_queries": ["query one", "query two"], "data_extraction_needed": true, "data_types": ["statistics"]}`

func TestExecutorHappyPath(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		planWithSearch,
		`{"growth": "30%"}`,
		"# EV Report\n\n## Findings\n\nSales grew 30%.",
		"Strong growth confirmed across sources.",
	}}
	search := &stubSearch{hits: map[string][]models.SearchHit{
		"query one": {
			{Title: "A", URL: "https://a", Snippet: "sa"},
			{Title: "B", URL: "https://b", Snippet: "sb"},
		},
		"query two": {
			{Title: "A again", URL: "https://a", Snippet: "dup"},
			{Title: "C", URL: "https://c", Snippet: "sc"},
		},
	}}
	scraper := &stubScraper{results: []models.ScrapeResult{
		{URL: "https://a", BestChunk: "deep content", Score: 0.9},
	}}
	pub := &capturePublisher{}

	final, err := newExecutor(llm, search, scraper, pub).Run(context.Background(), &models.DeepSearchTask{
		JobID:          "job_1",
		ConversationID: "conv_1",
		UserQuery:      "how are EV sales?",
	})
	require.NoError(t, err)

	// Terminal pair closes the stream
	types := pub.types()
	require.GreaterOrEqual(t, len(types), 4)
	assert.Equal(t, models.EventStarted, types[0])
	assert.Equal(t, models.EventComplete, types[len(types)-2])
	assert.Equal(t, models.EventDone, types[len(types)-1])

	// One sources event per query, deduped across queries
	sourcesEvents := pub.byType(models.EventSources)
	require.Len(t, sourcesEvents, 2)
	first, err := sourcesEvents[0].Sources()
	require.NoError(t, err)
	assert.Equal(t, "query one", first.TransformedQuery)
	assert.Equal(t, []string{"https://a", "https://b"}, first.URLs)
	second, err := sourcesEvents[1].Sources()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://c"}, second.URLs, "duplicate url must not reappear")

	// Scrape capped at MaxURLsToScrape, primary query is the first planned one
	assert.Equal(t, []string{"https://a", "https://b"}, scraper.gotURLs)
	assert.Equal(t, "query one", scraper.gotQuery)

	// Exactly one artifact event
	assert.Len(t, pub.byType(models.EventMarkdown), 1)
	assert.Empty(t, pub.byType(models.EventHTML))

	// Final payload mirrors the complete event
	completeEvents := pub.byType(models.EventComplete)
	require.Len(t, completeEvents, 1)
	fromEvent, err := completeEvents[0].Final()
	require.NoError(t, err)
	assert.Equal(t, final.Content, fromEvent.Content)
	assert.Equal(t, final.Sources, fromEvent.Sources)

	assert.Equal(t, "conv_1", final.ConversationID)
	assert.Equal(t, "Strong growth confirmed across sources.", final.Content)
	assert.Contains(t, final.App, "# EV Report")
	assert.Equal(t, [][]string{{"https://a", "https://b"}, {"https://c"}}, final.Sources)
	assert.Len(t, final.ReasoningSteps, 6)
	assert.Contains(t, string(final.Assets), "growth")

	// Sources in the payload replay the published sources events
	for i, ev := range sourcesEvents {
		sc, err := ev.Sources()
		require.NoError(t, err)
		assert.Equal(t, final.Sources[i], sc.URLs)
	}

	// The exchange lands in the history: the user's query and a short
	// summary, never the report body
	require.Len(t, final.History, 2)
	assert.Equal(t, models.RoleUser, final.History[0].Role)
	assert.Equal(t, "how are EV sales?", final.History[0].Content)
	assert.Equal(t, models.RoleAssistant, final.History[1].Role)
	assert.NotContains(t, final.History[1].Content, "# EV Report")
}

func TestExecutorNoSearchPlan(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"web_search_needed": false, "search_queries": [], "data_extraction_needed": false, "data_types": []}`,
		"# Poem Analysis\n\ncontent",
		"A creative request needed no research.",
	}}
	scraper := &stubScraper{}
	pub := &capturePublisher{}

	final, err := newExecutor(llm, &stubSearch{}, scraper, pub).Run(context.Background(), &models.DeepSearchTask{
		JobID:     "job_2",
		UserQuery: "write a poem about rust",
	})
	require.NoError(t, err)

	assert.Empty(t, pub.byType(models.EventSources))
	assert.Nil(t, scraper.gotURLs)
	assert.Empty(t, final.Sources)
	assert.Equal(t, "{}", string(final.Assets))

	// Skipped stages still report: one reasoning step per stage
	assert.Len(t, final.ReasoningSteps, 6)
	assert.Len(t, pub.byType(models.EventReasoning), 6)
}

func TestExecutorScrapeFailureIsNonFatal(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		planWithSearch,
		`{}`,
		"# Report\n\nbuilt from snippets",
		"summary",
	}}
	search := &stubSearch{hits: map[string][]models.SearchHit{
		"query one": {{Title: "A", URL: "https://a", Snippet: "sa"}},
	}}
	scraper := &stubScraper{results: []models.ScrapeResult{
		{URL: "https://a", Error: "all fetches timed out"},
	}}
	pub := &capturePublisher{}

	_, err := newExecutor(llm, search, scraper, pub).Run(context.Background(), &models.DeepSearchTask{
		JobID:     "job_3",
		UserQuery: "q",
	})
	require.NoError(t, err)

	errorEvents := pub.byType(models.EventError)
	require.Len(t, errorEvents, 1)
	assert.False(t, errorEvents[0].Fatal)

	// The stream still terminates normally
	types := pub.types()
	assert.Equal(t, models.EventDone, types[len(types)-1])
}

func TestExecutorCancellation(t *testing.T) {
	llm := &scriptedLLM{responses: []string{planWithSearch}}
	pub := &capturePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newExecutor(llm, &stubSearch{}, &stubScraper{}, pub).Run(ctx, &models.DeepSearchTask{
		JobID:     "job_4",
		UserQuery: "q",
	})
	require.ErrorIs(t, err, context.Canceled)

	// A cancelled run truncates the stream: no error event, no complete
	assert.Empty(t, pub.byType(models.EventError))
	assert.Empty(t, pub.byType(models.EventComplete))
}

func TestExecutorDeadlinePublishesFatalError(t *testing.T) {
	llm := &scriptedLLM{responses: []string{planWithSearch}}
	pub := &capturePublisher{}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := newExecutor(llm, &stubSearch{}, &stubScraper{}, pub).Run(ctx, &models.DeepSearchTask{
		JobID:     "job_5",
		UserQuery: "q",
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	errorEvents := pub.byType(models.EventError)
	require.NotEmpty(t, errorEvents)
	assert.True(t, errorEvents[len(errorEvents)-1].Fatal)
	assert.Empty(t, pub.byType(models.EventComplete))
}

func TestExecutorScrapingDisabled(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		planWithSearch,
		`{}`,
		"# Report\n\nbuilt from snippets",
		"summary",
	}}
	search := &stubSearch{hits: map[string][]models.SearchHit{
		"query one": {{Title: "A", URL: "https://a", Snippet: "sa"}},
	}}
	scraper := &stubScraper{results: []models.ScrapeResult{
		{URL: "https://a", BestChunk: "never read", Score: 0.9},
	}}
	pub := &capturePublisher{}

	cfg := testPipelineConfig()
	cfg.EnableScraping = false

	final, err := newExecutorWithConfig(llm, search, scraper, pub, cfg).Run(context.Background(), &models.DeepSearchTask{
		JobID:     "job_6",
		UserQuery: "q",
	})
	require.NoError(t, err)

	assert.Nil(t, scraper.gotURLs, "scraper must not be called when scraping is disabled")
	assert.Contains(t, final.App, "# Report")
	assert.Len(t, final.ReasoningSteps, 6)
}

// timedSearch records when each query is dispatched.
type timedSearch struct {
	mu    sync.Mutex
	times []time.Time
}

func (s *timedSearch) Search(ctx context.Context, query string, numResults int) []models.SearchHit {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times = append(s.times, time.Now())
	return nil
}

func TestExecutorSearchFanOutIsThrottled(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"web_search_needed": true, "search_queries": ["q1", "q2", "q3"], "data_extraction_needed": false, "data_types": []}`,
		"# Report\n\ncontent",
		"summary",
	}}
	search := &timedSearch{}
	pub := &capturePublisher{}

	cfg := testPipelineConfig()
	cfg.ProgressThrottle = "20ms"

	_, err := newExecutorWithConfig(llm, search, &stubScraper{}, pub, cfg).Run(context.Background(), &models.DeepSearchTask{
		JobID:     "job_7",
		UserQuery: "q",
	})
	require.NoError(t, err)

	require.Len(t, search.times, 3)
	sort.Slice(search.times, func(i, j int) bool { return search.times[i].Before(search.times[j]) })
	span := search.times[2].Sub(search.times[0])
	assert.GreaterOrEqual(t, span, 40*time.Millisecond, "three dispatches must span at least two throttle intervals")
}
