// Package server provides the HTTP API for Kaiwa.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/files"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/store"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// Asker streams an answer to a question. Satisfied by chat.Pipeline.
type Asker interface {
	Ask(ctx context.Context, question string, history []models.ChatMessage, scope []string) <-chan models.Event
}

// Ingestor processes and removes documents. Satisfied by ingest.Manager.
type Ingestor interface {
	Ingest(ctx context.Context, docID, handle, filename string) (*models.Document, error)
	Remove(ctx context.Context, docID string) error
}

// Server is the HTTP server for the Kaiwa API.
type Server struct {
	asker    Asker
	ingestor Ingestor
	store    store.Store
	files    files.Storage
	index    vector.Index
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	asker Asker,
	ingestor Ingestor,
	st store.Store,
	fileStore files.Storage,
	index vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		asker:    asker,
		ingestor: ingestor,
		store:    st,
		files:    fileStore,
		index:    index,
		config:   cfg,
		logger:   logger,
	}
}

// Routes builds the router. The ask endpoint streams for as long as
// generation runs, so it stays outside the request timeout middleware.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/api/v1/documents", s.handleUpload)
		r.Get("/api/v1/documents", s.handleListDocuments)
		r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/health", s.handleHealth)
	})
	r.Post("/api/v1/ask", s.handleAsk)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
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
