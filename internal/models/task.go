package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Queue names on the task broker.
const (
	QueueLLM     = "llm"
	QueueScraper = "scraper"
)

// Task names routed on the queues.
const (
	TaskDeepSearch    = "deep_search"
	TaskScrapeContent = "scrape_content"
	TaskHealthCheck   = "health_check"
)

// ErrNoTask is returned when a queue has no task to deliver.
var ErrNoTask = errors.New("no tasks in queue")

// TaskEnvelope is the wire structure carried on broker queues. Arguments
// are plain JSON values; no references cross the queue boundary.
type TaskEnvelope struct {
	ID         string          `json:"task_id"`
	Name       string          `json:"name"`
	Retries    int             `json:"retries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// DeepSearchTask is the payload of a deep_search task on queue llm.
type DeepSearchTask struct {
	JobID          string              `json:"job_id"`
	ConversationID string              `json:"conversation_id"`
	UserQuery      string              `json:"user_query"`
	History        ConversationHistory `json:"history,omitempty"`
	Files          []string            `json:"files,omitempty"`
	LabMode        bool                `json:"lab_mode"`
}

// Validate checks the fields a worker needs before running the pipeline.
func (t *DeepSearchTask) Validate() error {
	if t.JobID == "" {
		return errors.New("deep_search task requires a job_id")
	}
	if t.UserQuery == "" {
		return errors.New("deep_search task requires a user_query")
	}
	return nil
}

// ScrapeContentTask is the payload of a scrape_content task on queue
// scraper. ChunkSize and Concurrency are advisory; the scrape worker owns
// its own pool sizing.
type ScrapeContentTask struct {
	JobID         string   `json:"job_id"`
	URLs          []string `json:"urls"`
	PrimaryQuery  string   `json:"primary_query"`
	OriginalQuery string   `json:"original_query"`
	ChunkSize     int      `json:"chunk_size,omitempty"`
	Concurrency   int      `json:"concurrency,omitempty"`
}

// Validate checks the fields the scrape worker needs.
func (t *ScrapeContentTask) Validate() error {
	if t.JobID == "" {
		return errors.New("scrape_content task requires a job_id")
	}
	if len(t.URLs) == 0 {
		return errors.New("scrape_content task requires at least one url")
	}
	return nil
}
