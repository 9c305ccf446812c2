// Package server exposes the engine's public HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meshflow/meshflow/pkg/config"
	"github.com/meshflow/meshflow/pkg/execution"
	"github.com/meshflow/meshflow/pkg/executor"
	"github.com/meshflow/meshflow/pkg/observability"
	"github.com/meshflow/meshflow/pkg/templates"
	"github.com/meshflow/meshflow/pkg/workflow"
)

// sweepInterval paces the terminal-record janitor.
const sweepInterval = 5 * time.Minute

// Options wires the server's collaborators.
type Options struct {
	Config     *config.Config
	Engine     *executor.Engine
	Executions *execution.Registry
	Templates  *templates.Library
	Conditions *workflow.ConditionRegistry
	Version    string
}

// Server is the HTTP front of the engine.
type Server struct {
	opts    Options
	router  chi.Router
	httpSrv *http.Server
	started time.Time

	sweepStop chan struct{}
}

func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		opts:      opts,
		sweepStop: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Post("/from-template", s.handleFromTemplate)
		r.Get("/templates", s.handleListTemplates)
	})
	r.Route("/executions", func(r chi.Router) {
		r.Get("/", s.handleListExecutions)
		r.Get("/{id}", s.handleGetExecution)
		r.Post("/{id}/cancel", s.handleCancelExecution)
		r.Get("/{id}/trace", s.handleGetTrace)
	})
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	s.router = r
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves until Stop. Blocks.
func (s *Server) Start() error {
	addr := s.opts.Config.ListenAddr()
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.Config.Server.ReadTimeout,
		WriteTimeout: s.opts.Config.Server.WriteTimeout,
	}
	s.started = time.Now()

	go s.sweepLoop()

	slog.Info("Server listening", "addr", addr, "version", s.opts.Version)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the execution registry down.
func (s *Server) Stop(ctx context.Context) error {
	close(s.sweepStop)

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.opts.Executions != nil {
		if err := s.opts.Executions.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	slog.Info("Server stopped")
	return firstErr
}

func (s *Server) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			if removed := s.opts.Executions.Sweep(); removed > 0 {
				slog.Debug("Swept terminal execution records", "removed", removed)
			}
		}
	}
}
