// Package api is the HTTP surface that triggers pipeline cycles and serves
// read-only listing lookups.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"realty_tracker/internal/matching"
	"realty_tracker/internal/model"
	"realty_tracker/internal/scraper"
)

// Service is what the HTTP handlers drive.
type Service interface {
	Crawl(ctx context.Context, opts scraper.CrawlOptions) (scraper.CrawlReport, error)
	Match(ctx context.Context) (matching.Report, error)
	Cleanup(ctx context.Context) (int64, error)
	SetStopSignal(stop bool)
	Entity(ctx context.Context, id string) (*model.Entity, error)
	EntityRefs(ctx context.Context) ([]model.EntityRef, error)
}

// Server is the HTTP trigger server.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// NewRouter builds the route table.
func NewRouter(svc Service, log *slog.Logger) http.Handler {
	h := &handlers{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(LoggerMiddleware(log))
	r.Use(middleware.Recoverer)

	r.Post("/crawl", h.crawl)
	r.Post("/match", h.match)
	r.Post("/cleanup", h.cleanup)
	r.Post("/stop-signal", h.stopSignal)
	r.Get("/entities/{id}", h.entity)
	r.Get("/entity-ids", h.entityIDs)

	return r
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, svc Service, log *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(svc, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
