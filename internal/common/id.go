package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique search job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewTaskID generates a unique broker task ID
func NewTaskID() string {
	return uuid.New().String()
}
