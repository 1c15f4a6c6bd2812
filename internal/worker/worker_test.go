package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/analysis"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/broker"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/extractor"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/generator"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/pipeline"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/planner"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/progress"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.SearchJob
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.SearchJob)}
}

func (s *memStore) CreateJob(ctx context.Context, job *models.SearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memStore) GetJob(ctx context.Context, id string) (*models.SearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	copied := *job
	return &copied, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
	}
	return nil
}

func (s *memStore) SetTaskID(ctx context.Context, id, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.TaskID = taskID
	}
	return nil
}

func (s *memStore) SetResult(ctx context.Context, id string, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Result = result
		job.Status = models.JobStatusCompleted
	}
	return nil
}

func (s *memStore) SetError(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Error = errMsg
		job.Status = models.JobStatusFailed
	}
	return nil
}

func (s *memStore) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func (s *memStore) Close() error { return nil }

type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if len(s.errs) > 0 && s.errs[i%len(s.errs)] != nil {
		return "", s.errs[i%len(s.errs)]
	}
	return s.responses[i%len(s.responses)], nil
}

func (s *scriptedLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *scriptedLLM) Close() error                          { return nil }

type stubSearch struct{}

func (stubSearch) Search(ctx context.Context, query string, numResults int) []models.SearchHit {
	return []models.SearchHit{{Title: "T", URL: "https://a", Snippet: "snippet"}}
}

type stubScrapeClient struct {
	envelope *models.ScrapeEnvelope
	err      error
	calls    int
	mu       sync.Mutex
}

func (s *stubScrapeClient) ScrapeURLs(ctx context.Context, urls []string, query string) (*models.ScrapeEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.envelope, nil
}

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Pipeline.ProgressThrottle = "1ms"
	cfg.Pipeline.SoftTimeLimit = "30s"
	cfg.Pipeline.HardTimeLimit = "35s"
	cfg.Worker.DeepSearchRetryDelay = "10ms"
	cfg.Worker.ScrapeRetryDelay = "10ms"
	return cfg
}

func newTestWorker(t *testing.T, cfg *common.Config, llm interfaces.LLMService, scrapeClient interfaces.ScrapeClient) (*Worker, *broker.MemoryBroker, *memStore) {
	t.Helper()
	logger := common.GetLogger()
	b := broker.NewMemoryBroker()
	store := newMemStore()
	bus := progress.NewMemoryBus()
	t.Cleanup(func() { bus.Close(); b.Close() })

	scraperStub := &directStub{client: scrapeClient}
	executor := pipeline.NewExecutor(
		planner.NewService(llm, &cfg.Pipeline, logger),
		stubSearch{},
		scraperStub,
		extractor.NewService(llm, &cfg.Pipeline, logger),
		generator.NewService(llm, &cfg.Generator, logger),
		analysis.NewService(llm, logger),
		bus,
		&cfg.Pipeline,
		logger,
	)

	return New(cfg, b, store, executor, scrapeClient, llm, logger), b, store
}

// directStub adapts a ScrapeClient into the pipeline's Scraper for tests
type directStub struct {
	client interfaces.ScrapeClient
}

func (d *directStub) Scrape(ctx context.Context, jobID string, urls []string, primaryQuery, originalQuery string) []models.ScrapeResult {
	env, err := d.client.ScrapeURLs(ctx, urls, primaryQuery)
	if err != nil {
		return nil
	}
	return env.Results
}

const happyPlan = `{"web_search_needed": true, "search_queries": ["q1"], "data_extraction_needed": false, "data_types": []}`

func TestWorkerDeepSearchSuccess(t *testing.T) {
	cfg := testConfig()
	llm := &scriptedLLM{responses: []string{
		happyPlan,
		"# Report\n\ncontent",
		"summary",
	}}
	scrapeClient := &stubScrapeClient{envelope: &models.ScrapeEnvelope{
		OK:      true,
		Results: []models.ScrapeResult{{URL: "https://a", BestChunk: "deep", Score: 0.8}},
	}}

	w, b, store := newTestWorker(t, cfg, llm, scrapeClient)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, &models.SearchJob{ID: "job_1", Query: "q", Status: models.JobStatusPending}))

	taskID, err := b.Enqueue(ctx, models.QueueLLM, models.TaskDeepSearch, &models.DeepSearchTask{
		JobID: "job_1", UserQuery: "how are EV sales?",
	})
	require.NoError(t, err)

	env, ack, err := b.Receive(ctx, models.QueueLLM)
	require.NoError(t, err)
	w.handle(ctx, models.QueueLLM, env)
	require.NoError(t, ack())

	// Result backend answers the caller
	raw, err := b.AwaitResult(ctx, taskID, time.Second)
	require.NoError(t, err)
	var final models.FinalPayload
	require.NoError(t, json.Unmarshal(raw, &final))
	assert.Equal(t, "summary", final.Content)
	assert.Contains(t, final.App, "# Report")

	// Job record is completed with the same payload
	job, err := store.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Contains(t, job.Result, "# Report")
}

func TestWorkerDeepSearchRetriesThenFails(t *testing.T) {
	cfg := testConfig()
	cfg.Worker.DeepSearchMaxRetries = 1

	// Plan parses but generation always errors, so every attempt fails
	llm := &scriptedLLM{
		responses: []string{happyPlan},
		errs:      []error{nil, errors.New("model down"), nil, errors.New("model down")},
	}
	// Force generation failure by erroring every second call: plan ok,
	// generate fails. Scrape returns nothing so extract is skipped.
	scrapeClient := &stubScrapeClient{envelope: &models.ScrapeEnvelope{OK: true}}

	w, b, store := newTestWorker(t, cfg, llm, scrapeClient)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, &models.SearchJob{ID: "job_2", Query: "q", Status: models.JobStatusPending}))

	taskID, err := b.Enqueue(ctx, models.QueueLLM, models.TaskDeepSearch, &models.DeepSearchTask{
		JobID: "job_2", UserQuery: "q",
	})
	require.NoError(t, err)

	// First attempt fails and re-enqueues
	env, _, err := b.Receive(ctx, models.QueueLLM)
	require.NoError(t, err)
	w.handle(ctx, models.QueueLLM, env)

	// Retry envelope carries the same task id and an incremented count
	env2, _, err := b.Receive(ctx, models.QueueLLM)
	require.NoError(t, err)
	assert.Equal(t, taskID, env2.ID)
	assert.Equal(t, 1, env2.Retries)

	// Second attempt exhausts the policy and records the failure
	w.handle(ctx, models.QueueLLM, env2)

	job, err := store.GetJob(ctx, "job_2")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)

	raw, err := b.AwaitResult(ctx, taskID, time.Second)
	require.NoError(t, err)
	var result map[string]any
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, false, result["ok"])
}

func TestWorkerMalformedPayloadNotRetried(t *testing.T) {
	cfg := testConfig()
	cfg.Worker.DeepSearchMaxRetries = 1
	llm := &scriptedLLM{responses: []string{happyPlan}}

	w, b, _ := newTestWorker(t, cfg, llm, &stubScrapeClient{})
	ctx := context.Background()

	env := &models.TaskEnvelope{
		ID:      "bad-1",
		Name:    models.TaskDeepSearch,
		Payload: json.RawMessage(`{"job_id": 42}`),
	}
	w.handle(ctx, models.QueueLLM, env)

	recvCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, _, err := b.Receive(recvCtx, models.QueueLLM)
	assert.Error(t, err, "malformed task must not be re-enqueued")
}

func TestWorkerScrapeContent(t *testing.T) {
	cfg := testConfig()
	scrapeClient := &stubScrapeClient{envelope: &models.ScrapeEnvelope{
		OK:      true,
		Results: []models.ScrapeResult{{URL: "https://a", BestChunk: "text", Score: 0.6}},
	}}
	w, b, _ := newTestWorker(t, cfg, &scriptedLLM{responses: []string{happyPlan}}, scrapeClient)
	ctx := context.Background()

	taskID, err := b.Enqueue(ctx, models.QueueScraper, models.TaskScrapeContent, &models.ScrapeContentTask{
		JobID: "job_3", URLs: []string{"https://a"}, PrimaryQuery: "q",
	})
	require.NoError(t, err)

	env, _, err := b.Receive(ctx, models.QueueScraper)
	require.NoError(t, err)
	w.handle(ctx, models.QueueScraper, env)

	raw, err := b.AwaitResult(ctx, taskID, time.Second)
	require.NoError(t, err)
	var envelope models.ScrapeEnvelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.Len(t, envelope.Results, 1)
	assert.Equal(t, "text", envelope.Results[0].BestChunk)
}

func TestWorkerScrapeContentRetriesThenAnswersFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Worker.ScrapeMaxRetries = 2
	scrapeClient := &stubScrapeClient{err: errors.New("backend down")}
	w, b, _ := newTestWorker(t, cfg, &scriptedLLM{responses: []string{happyPlan}}, scrapeClient)
	ctx := context.Background()

	taskID, err := b.Enqueue(ctx, models.QueueScraper, models.TaskScrapeContent, &models.ScrapeContentTask{
		JobID: "job_4", URLs: []string{"https://a", "https://b"}, PrimaryQuery: "q",
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		env, _, err := b.Receive(ctx, models.QueueScraper)
		require.NoError(t, err)
		w.handle(ctx, models.QueueScraper, env)
	}
	assert.Equal(t, 3, scrapeClient.calls)

	raw, err := b.AwaitResult(ctx, taskID, time.Second)
	require.NoError(t, err)
	var envelope models.ScrapeEnvelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.False(t, envelope.OK)
	require.Len(t, envelope.Results, 2)
	assert.Equal(t, "backend down", envelope.Results[0].Error)
}

func TestWorkerHealthCheck(t *testing.T) {
	cfg := testConfig()
	w, b, _ := newTestWorker(t, cfg, &scriptedLLM{responses: []string{"pong"}}, &stubScrapeClient{})
	ctx := context.Background()

	taskID, err := b.Enqueue(ctx, models.QueueLLM, models.TaskHealthCheck, struct{}{})
	require.NoError(t, err)

	env, _, err := b.Receive(ctx, models.QueueLLM)
	require.NoError(t, err)
	w.handle(ctx, models.QueueLLM, env)

	raw, err := b.AwaitResult(ctx, taskID, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
}
