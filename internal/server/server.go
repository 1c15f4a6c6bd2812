package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
)

// Server exposes the job API and the WebSocket progress relay.
type Server struct {
	config *common.Config
	logger arbor.ILogger
	store  interfaces.JobStore
	broker interfaces.TaskBroker
	bus    interfaces.ProgressBus
	server *http.Server
}

// New creates a new HTTP server
func New(cfg *common.Config, store interfaces.JobStore, broker interfaces.TaskBroker, bus interfaces.ProgressBus, logger arbor.ILogger) *Server {
	s := &Server{
		config: cfg,
		logger: logger,
		store:  store,
		broker: broker,
		bus:    bus,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /ws/jobs/{id}", s.handleJobSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start starts the HTTP server and blocks until shutdown
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
