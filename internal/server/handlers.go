package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
	"github.com/umeshrajanna/deepship-llm-worker/internal/services/jobs"
)

type createJobRequest struct {
	Query          string                     `json:"query"`
	ConversationID string                     `json:"conversation_id"`
	History        models.ConversationHistory `json:"history,omitempty"`
	LabMode        bool                       `json:"lab_mode"`
}

type createJobResponse struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
}

// handleCreateJob creates a pending job record and enqueues its
// deep_search task.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx := r.Context()
	job := &models.SearchJob{
		ID:     common.NewJobID(),
		Query:  req.Query,
		Status: models.JobStatusPending,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Msg("Failed to create job")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	taskID, err := s.broker.Enqueue(ctx, models.QueueLLM, models.TaskDeepSearch, &models.DeepSearchTask{
		JobID:          job.ID,
		ConversationID: req.ConversationID,
		UserQuery:      req.Query,
		History:        req.History,
		LabMode:        req.LabMode,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue research task")
		if storeErr := s.store.SetError(ctx, job.ID, "failed to enqueue research task"); storeErr != nil {
			s.logger.Warn().Err(storeErr).Str("job_id", job.ID).Msg("Failed to record enqueue failure")
		}
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue research task")
		return
	}

	if err := s.store.SetTaskID(ctx, job.ID, taskID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record task id")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("task_id", taskID).
		Msg("Research job created")

	writeJSON(w, http.StatusAccepted, createJobResponse{JobID: job.ID, TaskID: taskID})
}

// handleGetJob returns the stored job record
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to load job")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": common.GetVersion()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
