// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/config"
	"github.com/jeranaias/taskchat/internal/generate"
	"github.com/jeranaias/taskchat/internal/jobs"
	"github.com/jeranaias/taskchat/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxMessageLength bounds a single user message.
	MaxMessageLength = 100000

	// MaxRequestBodySize bounds every JSON request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// KeepAliveInterval is how often an idle event stream gets a comment.
	KeepAliveInterval = 15 * time.Second

	// Version is the server version.
	Version = "0.3.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Server serves the chat API over a store, a job registry and a generator.
type Server struct {
	cfg         config.ServerConfig
	errorMarker string

	store   *storage.Store
	jobs    *jobs.Registry
	gen     generate.Generator
	limiter *RateLimiter
	logger  zerolog.Logger

	router  *mux.Router
	handler http.Handler
	server  *http.Server

	// base bounds generation jobs; it outlives individual requests.
	base   context.Context
	cancel context.CancelFunc

	mu sync.Mutex
}

// New creates a server. The store is owned by the caller.
func New(cfg *config.Config, store *storage.Store, gen generate.Generator, logger zerolog.Logger) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         cfg.Server,
		errorMarker: cfg.Stream.ErrorMarker,
		store:       store,
		gen:         gen,
		logger:      logger,
		base:        base,
		cancel:      cancel,
	}
	s.jobs = jobs.NewRegistry(cfg.Server.JobRetention, s.persist, logger.With().Str("component", "jobs").Logger())
	if cfg.Server.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	s.router = s.routes()
	s.handler = Chain(
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(logger),
		RateLimitMiddleware(s.limiter, logger),
		AuthMiddleware(cfg.Server.AuthToken, logger),
	)(s.router)
	return s
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Jobs returns the generation registry.
func (s *Server) Jobs() *jobs.Registry {
	return s.jobs
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	chat := r.PathPrefix("/api/chat").Subrouter()
	chat.HandleFunc("/messages", s.handleMessages).Methods(http.MethodGet)
	chat.HandleFunc("/stream", s.handleStream).Methods(http.MethodPost)
	chat.HandleFunc("/stream/active", s.handleActive).Methods(http.MethodGet)
	chat.HandleFunc("/stream/abort", s.handleAbort).Methods(http.MethodPost)
	chat.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	chat.HandleFunc("/ask", s.handleAsk).Methods(http.MethodPost)
	chat.HandleFunc("/mark-as-read", s.handleMarkAsRead).Methods(http.MethodPost)
	chat.HandleFunc("/mark-all-as-read", s.handleMarkAllAsRead).Methods(http.MethodPost)
	chat.HandleFunc("/unread-count", s.handleUnreadCount).Methods(http.MethodGet)

	chat.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	chat.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	chat.HandleFunc("/sessions/create", s.handleCreateSession).Methods(http.MethodPost)
	chat.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	chat.HandleFunc("/session/by-id/{id}", s.handleSessionByID).Methods(http.MethodGet)
	chat.HandleFunc("/get-task-id/{id}", s.handleTaskID).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Generator       string `json:"generator"`
	GeneratorStatus string `json:"generator_status"`
	Jobs            int    `json:"jobs"`
}

// checker is implemented by generators with a reachable backend.
type checker interface {
	Check(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:          "ok",
		Version:         Version,
		Generator:       s.gen.Name(),
		GeneratorStatus: "ok",
		Jobs:            s.jobs.Len(),
	}

	if c, ok := s.gen.(checker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := c.Check(ctx); err != nil {
			health.GeneratorStatus = "unavailable"
			health.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// JOB PERSISTENCE
// ============================================================================

// persist writes a finished job's text to its assistant message.
func (s *Server) persist(j *jobs.Job) {
	content := s.jobContent(j)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.SetContent(ctx, j.MessageID, content)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error().Err(err).Str("message_id", j.MessageID).Msg("JOB_PERSIST_FAILED")
	}
}

// jobContent is the text a job's message shows: what it generated, or the
// error marker when it failed before producing anything.
func (s *Server) jobContent(j *jobs.Job) string {
	content, _ := j.Snapshot()
	if j.Status() == jobs.StatusFailed && content == "" {
		content = fmt.Sprintf(s.errorMarker, j.Err())
	}
	return content
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln and starts the job pruner.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.jobs.StartPruner(s.cfg.PruneInterval); err != nil {
		ln.Close()
		return err
	}

	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Str("version", Version).Str("generator", s.gen.Name()).Msg("SERVER_START")
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, cancels running jobs and waits for
// them to be persisted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("SERVER_SHUTDOWN")

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.cancel()
	if cerr := s.jobs.Close(); err == nil {
		err = cerr
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.Envelope{Success: false, Error: message})
}

func ok() api.Envelope {
	return api.Envelope{Success: true}
}

// decode reads a bounded JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodySize))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request format")
		return false
	}
	return true
}

// storeError maps storage errors to responses.
func (s *Server) storeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrSessionExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Str("op", op).Msg("STORE_ERROR")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
