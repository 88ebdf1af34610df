// Package server provides the HTTP API for kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Server is the HTTP server for the retrieval API.
type Server struct {
	engine  *search.Engine
	storage storage.Storage
	config  *config.Config
	metrics *metrics.RetrievalMetrics
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. store and m may be nil.
func NewServer(
	engine *search.Engine,
	store storage.Storage,
	cfg *config.Config,
	m *metrics.RetrievalMetrics,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:  engine,
		storage: store,
		config:  cfg,
		metrics: m,
		logger:  utils.OrNop(logger),
	}
}

// Router returns the API routes with their middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(s.metrics.Middleware)

	r.Post("/api/v1/retrieve", s.handleRetrieve)
	r.Post("/api/v1/evaluate", s.handleEvaluate)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
