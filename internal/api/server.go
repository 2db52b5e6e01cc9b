package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dhofer/chargesync/internal/push"
	"github.com/dhofer/chargesync/internal/store"
)

// Server exposes the admin HTTP API: local inventory CRUD, queue
// statistics, and manual flush triggers. Every mutation goes through the
// push adapter in enqueue mode, so the admin API observes the same
// coalescing behavior as any other caller.
type Server struct {
	router  *chi.Mux
	adapter *push.Adapter
	db      *store.DB
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates an admin API server backed by the given adapter and
// store.
func NewServer(adapter *push.Adapter, db *store.DB, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		adapter: adapter,
		db:      db,
		logger:  logger,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Post("/flush", s.handleFlush)
		r.Get("/stations", s.handleListStations)
		r.Get("/stations/{id}", s.handleGetStation)
		r.Post("/stations", s.handleUpsertStations)
		r.Delete("/stations/{id}", s.handleDeleteStation)
		r.Post("/status", s.handleStatus)
		r.Post("/records", s.handleRecords)
	})

	return s
}

// Handler returns the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving on the given address. Blocks until the listener
// fails or Stop is called.
func (s *Server) Start(address string, port int) error {
	addr := fmt.Sprintf("%s:%d", address, port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("admin API listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
