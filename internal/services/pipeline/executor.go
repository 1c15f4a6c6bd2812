package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/analysis"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/extractor"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/generator"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/planner"
)

// Executor runs the research pipeline for one deep_search task: plan,
// search, scrape, extract, generate, analyze. It is the sole publisher on
// the job's progress channel; every stage reports through it and the
// terminal complete/done pair always closes the stream on success.
type Executor struct {
	planner   *planner.Service
	search    interfaces.SearchService
	scraper   interfaces.Scraper
	extractor *extractor.Service
	generator *generator.Service
	analysis  *analysis.Service
	publisher interfaces.ProgressPublisher
	logger    arbor.ILogger

	enableScraping  bool
	maxURLsToScrape int
	resultsPerQuery int
	softLimit       time.Duration
	throttle        time.Duration
}

// NewExecutor wires the pipeline stages together
func NewExecutor(
	plannerSvc *planner.Service,
	searchSvc interfaces.SearchService,
	scraperSvc interfaces.Scraper,
	extractorSvc *extractor.Service,
	generatorSvc *generator.Service,
	analysisSvc *analysis.Service,
	publisher interfaces.ProgressPublisher,
	pipelineConfig *common.PipelineConfig,
	logger arbor.ILogger,
) *Executor {
	maxURLs := pipelineConfig.MaxURLsToScrape
	if maxURLs <= 0 {
		maxURLs = 5
	}
	resultsPerQuery := pipelineConfig.ResultsPerQuery
	if resultsPerQuery <= 0 {
		resultsPerQuery = 5
	}

	return &Executor{
		planner:         plannerSvc,
		search:          searchSvc,
		scraper:         scraperSvc,
		extractor:       extractorSvc,
		generator:       generatorSvc,
		analysis:        analysisSvc,
		publisher:       publisher,
		logger:          logger,
		enableScraping:  pipelineConfig.EnableScraping,
		maxURLsToScrape: maxURLs,
		resultsPerQuery: resultsPerQuery,
		softLimit:       common.ParseDurationOr(pipelineConfig.SoftTimeLimit, 900*time.Second),
		throttle:        common.ParseDurationOr(pipelineConfig.ProgressThrottle, 300*time.Millisecond),
	}
}

// run-scoped state: the executor itself is shared between jobs, so
// everything mutable lives here.
type run struct {
	jobID     string
	limiter   *rate.Limiter
	reasoning []string
}

// Run executes the pipeline for one task. The returned FinalPayload is the
// same value carried by the terminal complete event.
func (e *Executor) Run(ctx context.Context, task *models.DeepSearchTask) (*models.FinalPayload, error) {
	if e.softLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.softLimit)
		defer cancel()
	}

	r := &run{
		jobID:   task.JobID,
		limiter: rate.NewLimiter(rate.Every(e.throttle), 1),
	}

	startTime := time.Now()
	e.logger.Info().
		Str("job_id", task.JobID).
		Str("query", task.UserQuery).
		Bool("lab_mode", task.LabMode).
		Msg("Starting research pipeline")

	e.publish(ctx, r, models.NewStartedEvent("Research started"))

	history := task.History.Compact()

	// Stage 1: plan
	e.reason(ctx, r, "Planning the research approach")
	plan := e.planner.Plan(ctx, task.UserQuery, history)
	if err := ctx.Err(); err != nil {
		return nil, e.abort(ctx, r, err)
	}

	// Stage 2: search
	searchResults := models.SearchResults{}
	var sources [][]string
	var scrapeURLs []string
	if plan.NeedsSearch() {
		e.reason(ctx, r, fmt.Sprintf("Searching the web across %d queries", len(plan.SearchQueries)))
		searchResults = e.fanOutSearch(ctx, plan.SearchQueries)
		sources, scrapeURLs = e.publishSources(ctx, r, plan.SearchQueries, searchResults)
	} else {
		e.reason(ctx, r, "No web search needed for this request")
	}
	if err := ctx.Err(); err != nil {
		return nil, e.abort(ctx, r, err)
	}

	// Stage 3: scrape
	var scrapes []models.ScrapeResult
	switch {
	case !e.enableScraping:
		e.reason(ctx, r, "Working from search snippets")
	case len(scrapeURLs) == 0:
		e.reason(ctx, r, "No sources to read in depth")
	default:
		e.reason(ctx, r, fmt.Sprintf("Reading %d sources in depth", len(scrapeURLs)))
		scrapes = e.scraper.Scrape(ctx, task.JobID, scrapeURLs, plan.SearchQueries[0], task.UserQuery)
		if len(models.SuccessfulScrapes(scrapes)) == 0 && len(scrapes) > 0 {
			e.publish(ctx, r, models.NewErrorEvent("Source pages could not be read; continuing with search snippets", false))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, e.abort(ctx, r, err)
	}

	// Stage 4: extract
	data := models.DataBag{}
	if plan.DataExtractionNeeded {
		e.reason(ctx, r, "Extracting structured data from the sources")
		data = e.extractor.Extract(ctx, task.UserQuery, plan.DataTypes, plan.SearchQueries, searchResults, scrapes)
	} else {
		e.reason(ctx, r, "No structured data extraction needed")
	}
	if err := ctx.Err(); err != nil {
		return nil, e.abort(ctx, r, err)
	}

	// Stage 5: generate
	e.reason(ctx, r, "Composing the report")
	genReq := &generator.Request{
		UserQuery:     task.UserQuery,
		History:       history,
		Queries:       plan.SearchQueries,
		SearchResults: searchResults,
		Scrapes:       scrapes,
		Data:          data,
		LabMode:       task.LabMode,
	}
	artifact, err := e.generator.Generate(ctx, genReq)
	if err != nil {
		return nil, e.abort(ctx, r, fmt.Errorf("report generation failed: %w", err))
	}
	e.publish(ctx, r, models.NewArtifactEvent(artifact))

	// Stage 6: analyze
	e.reason(ctx, r, "Analyzing the findings")
	summary := e.analysis.Summarize(ctx, task.UserQuery, artifact, scrapes, data)
	e.publish(ctx, r, models.NewAnalysisSummaryEvent(summary))

	final := &models.FinalPayload{
		ConversationID: task.ConversationID,
		Content:        summary,
		Sources:        sources,
		ReasoningSteps: r.reasoning,
		Assets:         data.JSON(),
		App:            artifact.Body,
		LabMode:        task.LabMode,
		History:        genReq.History,
	}

	e.publish(ctx, r, models.NewCompleteEvent(final))
	e.publish(ctx, r, models.NewDoneEvent())

	e.logger.Info().
		Str("job_id", task.JobID).
		Int("sources", len(sources)).
		Int("content_length", len(final.Content)).
		Dur("duration", time.Since(startTime)).
		Msg("Research pipeline completed")

	return final, nil
}

// fanOutSearch runs every planned query concurrently, paced so successive
// dispatches stay at least one throttle interval apart. Individual queries
// absorb their own failures, so the fan-out never partially fails.
func (e *Executor) fanOutSearch(ctx context.Context, queries []string) models.SearchResults {
	results := make([]([]models.SearchHit), len(queries))
	limiter := rate.NewLimiter(rate.Every(e.throttle), 1)

	var wg sync.WaitGroup
	for i, query := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			results[i] = e.search.Search(ctx, query, e.resultsPerQuery)
		}(i, query)
	}
	wg.Wait()

	out := models.SearchResults{}
	for i, query := range queries {
		out[query] = results[i]
	}
	return out
}

// publishSources emits one sources event per planned query carrying the
// URLs that query surfaced first, and selects the scrape targets. A URL
// belongs to the earliest query that returned it. The returned sources hold
// one url list per query, mirroring the published events.
func (e *Executor) publishSources(ctx context.Context, r *run, queries []string, searchResults models.SearchResults) ([][]string, []string) {
	seen := make(map[string]bool)
	var sources [][]string
	var scrapeURLs []string

	for _, query := range queries {
		var fresh []string
		for _, hit := range searchResults[query] {
			if seen[hit.URL] {
				continue
			}
			seen[hit.URL] = true
			fresh = append(fresh, hit.URL)
			if len(scrapeURLs) < e.maxURLsToScrape {
				scrapeURLs = append(scrapeURLs, hit.URL)
			}
		}
		if len(fresh) > 0 {
			sources = append(sources, fresh)
			e.publish(ctx, r, models.NewSourcesEvent(query, fresh))
		}
	}
	return sources, scrapeURLs
}

// reason publishes a reasoning event and records it for the final payload
func (e *Executor) reason(ctx context.Context, r *run, step string) {
	r.reasoning = append(r.reasoning, step)
	e.publish(ctx, r, models.NewReasoningEvent(step))
}

// abort terminates the run. Deliberate cancellation ends the stream
// silently, with the events published so far left as the record; deadlines
// and real failures publish the fatal error that closes the stream.
func (e *Executor) abort(ctx context.Context, r *run, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		e.logger.Info().
			Str("job_id", r.jobID).
			Msg("Research pipeline cancelled")
		return err
	}

	msg := "The research run failed"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = "The research run ran out of time"
	}

	// Publish on a fresh context: the run context is typically dead here.
	pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.publisher.Publish(pubCtx, r.jobID, models.NewErrorEvent(msg, true))

	e.logger.Error().
		Err(err).
		Str("job_id", r.jobID).
		Msg("Research pipeline aborted")

	return err
}

// publish throttles and emits one event. The throttle keeps subscribers
// from being flooded; terminal events still pass once the limiter clears.
func (e *Executor) publish(ctx context.Context, r *run, event models.ProgressEvent) {
	if err := r.limiter.Wait(ctx); err != nil && ctx.Err() == nil {
		return
	}
	e.publisher.Publish(ctx, r.jobID, event)
}
