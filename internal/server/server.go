// Package server provides the HTTP API for Yomu.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hondana/yomu/internal/chat"
	"github.com/hondana/yomu/internal/config"
	"github.com/hondana/yomu/internal/library"
	"github.com/hondana/yomu/internal/search"
	"github.com/hondana/yomu/internal/storage"
)

// Server is the HTTP server for the Yomu API.
type Server struct {
	lib          *library.Library
	orchestrator *chat.Orchestrator
	index        *search.Index
	storage      storage.Storage
	config       *config.Config
	logger       *zap.Logger
	server       *http.Server
}

// NewServer creates a server with the given dependencies. index may be nil
// when search is disabled.
func NewServer(
	lib *library.Library,
	orchestrator *chat.Orchestrator,
	index *search.Index,
	store storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		lib:          lib,
		orchestrator: orchestrator,
		index:        index,
		storage:      store,
		config:       cfg,
		logger:       logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/books", s.handleUploadBook)
		r.Get("/books", s.handleListBooks)
		r.Get("/books/{bookID}", s.handleGetBook)
		r.Delete("/books/{bookID}", s.handleDeleteBook)
		r.Get("/books/{bookID}/toc", s.handleGetTOC)
		r.Get("/books/{bookID}/chapters", s.handleListChapters)
		r.Get("/books/{bookID}/chapters/{chapterID}", s.handleGetChapter)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Post("/sessions/{sessionID}/navigate", s.handleNavigate)
		r.Post("/sessions/{sessionID}/chat", s.handleChat)

		r.Post("/search", s.handleSearch)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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
