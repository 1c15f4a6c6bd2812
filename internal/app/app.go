package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/analysis"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/broker"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/extractor"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/generator"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/jobs"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/llm"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/pipeline"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/planner"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/progress"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/scraper"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/search"
	"github.com/umeshrajanna/deepship-llm-worker/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Persistence and messaging
	JobStore interfaces.JobStore
	Broker   interfaces.TaskBroker
	Bus      interfaces.ProgressBus

	// Providers
	LLMService    interfaces.LLMService
	SearchService interfaces.SearchService
	ScrapeClient  interfaces.ScrapeClient
	Scraper       interfaces.Scraper

	// Pipeline stages
	Planner   *planner.Service
	Extractor *extractor.Service
	Generator *generator.Service
	Analysis  *analysis.Service
	Executor  *pipeline.Executor

	// Background components
	Worker  *worker.Worker
	Janitor *jobs.Janitor
}

// New wires the full service graph from configuration. Components are
// created in dependency order; a failure tears down whatever was already
// opened.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, err := jobs.NewStore(&cfg.Storage.Badger, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	a.JobStore = store

	taskBroker, err := broker.NewRedisBroker(&cfg.Redis, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect task broker: %w", err)
	}
	a.Broker = taskBroker

	bus, err := progress.NewRedisBus(&cfg.Redis, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect progress bus: %w", err)
	}
	a.Bus = bus

	llmService, err := llm.NewLLMService(cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	a.LLMService = llmService

	a.SearchService = search.NewGoogleService(&cfg.Search, logger)

	a.ScrapeClient = scraper.NewHTTPClient(&cfg.Scraper, logger)
	switch cfg.Scraper.Mode {
	case "queue":
		a.Scraper = scraper.NewQueueScraper(a.Broker, &cfg.Scraper, logger)
	default:
		a.Scraper = scraper.NewDirectScraper(a.ScrapeClient, logger)
	}

	a.Planner = planner.NewService(a.LLMService, &cfg.Pipeline, logger)
	a.Extractor = extractor.NewService(a.LLMService, &cfg.Pipeline, logger)
	a.Generator = generator.NewService(a.LLMService, &cfg.Generator, logger)
	a.Analysis = analysis.NewService(a.LLMService, logger)

	a.Executor = pipeline.NewExecutor(
		a.Planner,
		a.SearchService,
		a.Scraper,
		a.Extractor,
		a.Generator,
		a.Analysis,
		a.Bus,
		&cfg.Pipeline,
		logger,
	)

	a.Worker = worker.New(cfg, a.Broker, a.JobStore, a.Executor, a.ScrapeClient, a.LLMService, logger)
	a.Janitor = jobs.NewJanitor(a.JobStore, &cfg.Jobs, logger)

	logger.Info().
		Str("llm_provider", string(cfg.LLM.DefaultProvider)).
		Str("scraper_mode", cfg.Scraper.Mode).
		Str("generator_mode", cfg.Generator.Mode).
		Msg("Application initialized")

	return a, nil
}

// Close releases all resources in reverse dependency order. Safe to call
// on a partially constructed App.
func (a *App) Close() {
	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM provider")
		}
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close progress bus")
		}
	}
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close task broker")
		}
	}
	if a.JobStore != nil {
		if err := a.JobStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close job store")
		}
	}
}
