// Package httpserver provides the HTTP REST API for the paper processing
// service: paper submission, status and history queries, dead-letter
// management, and server-sent event streams of lifecycle changes.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-processing-service/internal/bus"
	"github.com/helixir/paper-processing-service/internal/config"
	"github.com/helixir/paper-processing-service/internal/database"
	"github.com/helixir/paper-processing-service/internal/lifecycle"
	"github.com/helixir/paper-processing-service/internal/pipeline"
	"github.com/helixir/paper-processing-service/internal/repository"
	"github.com/helixir/paper-processing-service/internal/retry"
)

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server

	engine      *pipeline.Engine
	machine     *lifecycle.Machine
	retries     *retry.Manager
	events      *bus.Bus
	historyRepo repository.StateHistoryRepository
	db          *database.DB
	eventsCfg   config.EventsConfig
	logger      zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies. db may be nil in
// deployments backed by the in-memory repositories; health checks then report
// the database as disabled.
func NewServer(
	cfg Config,
	eventsCfg config.EventsConfig,
	engine *pipeline.Engine,
	machine *lifecycle.Machine,
	retries *retry.Manager,
	events *bus.Bus,
	historyRepo repository.StateHistoryRepository,
	db *database.DB,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		engine:      engine,
		machine:     machine,
		retries:     retries,
		events:      events,
		historyRepo: historyRepo,
		db:          db,
		eventsCfg:   eventsCfg,
		logger:      logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// SSE endpoints set their own content type.
		r.Get("/events", s.streamGlobalEvents)
		r.Get("/papers/{paperID}/events", s.streamPaperEvents)

		r.Group(func(r chi.Router) {
			r.Use(jsonContentTypeMiddleware)

			r.Post("/papers", s.submitPaper)
			r.Get("/papers", s.listPapers)
			r.Get("/papers/{paperID}/status", s.getPaperStatus)
			r.Get("/papers/{paperID}/history", s.getPaperHistory)

			r.Get("/dead-letters", s.listDeadLetters)
			r.Get("/dead-letters/{taskID}", s.getDeadLetter)
			r.Post("/dead-letters/{taskID}/replay", s.replayDeadLetter)
			r.Delete("/dead-letters/{taskID}", s.deleteDeadLetter)
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "disabled"})
		return
	}

	health := s.db.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status including queue depths.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		health := s.db.Health(r.Context())
		if health.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "not_ready",
				"database": health.Status,
				"error":    health.Error,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"queues": s.engine.QueueDepths(),
	})
}
