package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Redis       RedisConfig     `toml:"redis"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
	LLM         LLMConfig       `toml:"llm"`
	Search      SearchConfig    `toml:"search"`
	Scraper     ScraperConfig   `toml:"scraper"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Generator   GeneratorConfig `toml:"generator"`
	Jobs        JobsConfig      `toml:"jobs"`
	Worker      WorkerConfig    `toml:"worker"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

// RedisConfig covers both the task broker queues and the progress pub/sub
// channels; they share one connection pool.
type RedisConfig struct {
	Addr      string `toml:"addr" validate:"required"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"` // Prefix for queue, processing and result keys
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key (ANTHROPIC_API_KEY or config)
	Model       string  `toml:"model"`       // Model for pipeline operations
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Per-call timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for pipeline operations
	Timeout     string  `toml:"timeout"`     // Per-call timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
)

// LLMConfig selects which provider backs the pipeline's chat calls
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider" validate:"oneof=claude gemini"`
}

// SearchConfig contains Google Programmable Search configuration
type SearchConfig struct {
	APIKey   string `toml:"api_key"`   // Google Custom Search API key
	EngineID string `toml:"engine_id"` // Programmable Search Engine ID (cx)
	Endpoint string `toml:"endpoint"`  // Override for tests; default is the public API
	Timeout  string `toml:"timeout"`   // Per-query HTTP timeout (default: "15s")
}

// ScraperConfig contains scraping backend configuration
type ScraperConfig struct {
	Mode        string `toml:"mode" validate:"oneof=direct queue"` // "direct" (HTTP RPC) or "queue" (scraper queue round-trip)
	Endpoint    string `toml:"endpoint"`                           // Scrape service URL for direct mode
	ChunkSize   int    `toml:"chunk_size"`                         // Advisory words per chunk (default: 400)
	Concurrency int    `toml:"concurrency"`                        // Advisory per-batch fetch concurrency (default: 10)
	Timeout     string `toml:"timeout"`                            // Whole-batch deadline (default: "600s")
}

// PipelineConfig bounds the research pipeline's fan-out and timing
type PipelineConfig struct {
	EnableScraping    bool   `toml:"enable_scraping"`                      // Run the scrape stage (default: true)
	MaxSearchQueries  int    `toml:"max_search_queries" validate:"min=1"`  // Cap on planned queries (default: 5)
	MaxURLsToScrape   int    `toml:"max_urls_to_scrape" validate:"min=1"`  // Cap on scraped URLs (default: 5)
	ResultsPerQuery   int    `toml:"results_per_query" validate:"min=1"`   // Hits requested per search query (default: 5)
	ExtractionTimeout string `toml:"extraction_timeout"`                   // Data extraction deadline (default: "90s")
	ProgressThrottle  string `toml:"progress_throttle"`                    // Minimum gap between progress events (default: "300ms")
	SoftTimeLimit     string `toml:"soft_time_limit"`                      // Pipeline soft deadline (default: "900s")
	HardTimeLimit     string `toml:"hard_time_limit"`                      // Task hard kill deadline (default: "960s")
}

// GeneratorConfig selects the artifact flavor
type GeneratorConfig struct {
	Mode           string `toml:"mode" validate:"oneof=markdown html"` // Artifact kind for completed runs
	RetryOnInvalid bool   `toml:"retry_on_invalid"`                    // One regeneration attempt on structural failure
}

// JobsConfig contains job store maintenance configuration
type JobsConfig struct {
	JanitorSchedule string `toml:"janitor_schedule"` // Cron spec for the stale-job sweep (default: "@every 2m")
	StaleAfter      string `toml:"stale_after"`      // Processing age before a job is failed (default: "20m")
}

// WorkerConfig contains task worker configuration
type WorkerConfig struct {
	Queues               []string `toml:"queues"`                  // Queues this process consumes (default: ["llm"])
	Concurrency          int      `toml:"concurrency"`             // Concurrent tasks per queue (default: 1)
	DeepSearchMaxRetries int      `toml:"deep_search_max_retries"` // Retries for deep_search (default: 1)
	DeepSearchRetryDelay string   `toml:"deep_search_retry_delay"` // Backoff before deep_search retry (default: "10s")
	ScrapeMaxRetries     int      `toml:"scrape_max_retries"`      // Retries for scrape_content (default: 2)
	ScrapeRetryDelay     string   `toml:"scrape_retry_delay"`      // Backoff before scrape_content retry (default: "5s")
	ResultTimeout        string   `toml:"result_timeout"`          // Max wait for a queued scrape result (default: "600s")
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in deepship.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			KeyPrefix: "deepship",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Claude: ClaudeConfig{
			APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Timeout:     "5m",
			Temperature: 0.7,
		},
		Gemini: GeminiConfig{
			APIKey:      "",
			Model:       "gemini-2.5-flash",
			Timeout:     "5m",
			Temperature: 0.7,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderClaude,
		},
		Search: SearchConfig{
			APIKey:   "",
			EngineID: "",
			Endpoint: "https://www.googleapis.com/customsearch/v1",
			Timeout:  "15s",
		},
		Scraper: ScraperConfig{
			Mode:        "direct",
			Endpoint:    "http://localhost:8081/scrape",
			ChunkSize:   400,
			Concurrency: 10,
			Timeout:     "600s",
		},
		Pipeline: PipelineConfig{
			EnableScraping:    true,
			MaxSearchQueries:  5,
			MaxURLsToScrape:   5,
			ResultsPerQuery:   5,
			ExtractionTimeout: "90s",
			ProgressThrottle:  "300ms",
			SoftTimeLimit:     "900s",
			HardTimeLimit:     "960s",
		},
		Generator: GeneratorConfig{
			Mode:           "markdown",
			RetryOnInvalid: true,
		},
		Jobs: JobsConfig{
			JanitorSchedule: "@every 2m",
			StaleAfter:      "20m",
		},
		Worker: WorkerConfig{
			Queues:               []string{"llm"},
			Concurrency:          1,
			DeepSearchMaxRetries: 1,
			DeepSearchRetryDelay: "10s",
			ScrapeMaxRetries:     2,
			ScrapeRetryDelay:     "5s",
			ResultTimeout:        "600s",
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// An empty path skips the file layer.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its struct constraints
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.PipelineSoftLimit(); err != nil {
		return fmt.Errorf("invalid pipeline.soft_time_limit: %w", err)
	}
	if _, err := c.PipelineHardLimit(); err != nil {
		return fmt.Errorf("invalid pipeline.hard_time_limit: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DEEPSHIP_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("DEEPSHIP_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DEEPSHIP_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Redis configuration
	if addr := os.Getenv("DEEPSHIP_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("DEEPSHIP_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("DEEPSHIP_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = d
		}
	}

	// Storage configuration
	if path := os.Getenv("DEEPSHIP_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Logging configuration
	if level := os.Getenv("DEEPSHIP_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Provider credentials
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = key
	}
	if provider := os.Getenv("DEEPSHIP_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}

	// Search configuration
	if key := os.Getenv("GOOGLE_SEARCH_API_KEY"); key != "" && config.Search.APIKey == "" {
		config.Search.APIKey = key
	}
	if cx := os.Getenv("GOOGLE_SEARCH_ENGINE_ID"); cx != "" && config.Search.EngineID == "" {
		config.Search.EngineID = cx
	}

	// Scraper configuration
	if endpoint := os.Getenv("DEEPSHIP_SCRAPER_ENDPOINT"); endpoint != "" {
		config.Scraper.Endpoint = endpoint
	}
	if mode := os.Getenv("DEEPSHIP_SCRAPER_MODE"); mode != "" {
		config.Scraper.Mode = mode
	}

	// Generator configuration
	if mode := os.Getenv("DEEPSHIP_GENERATOR_MODE"); mode != "" {
		config.Generator.Mode = mode
	}
}

// ParseDurationOr parses a duration string, falling back when empty or invalid
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// PipelineSoftLimit returns the pipeline soft deadline as a duration
func (c *Config) PipelineSoftLimit() (time.Duration, error) {
	return time.ParseDuration(c.Pipeline.SoftTimeLimit)
}

// PipelineHardLimit returns the task hard kill deadline as a duration
func (c *Config) PipelineHardLimit() (time.Duration, error) {
	return time.ParseDuration(c.Pipeline.HardTimeLimit)
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
