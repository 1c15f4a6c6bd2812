package models

import "time"

// JobStatus represents the lifecycle state of a search job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// SearchJob is the persisted status record for one research run.
// The API tier creates it in pending state; the worker owns all
// subsequent transitions. The result column is an opaque JSON string.
type SearchJob struct {
	ID          string     `json:"id" badgerhold:"key"`
	Query       string     `json:"query"`
	Status      JobStatus  `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	TaskID      string     `json:"task_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job has reached a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
