// Package api provides HTTP handlers and the main API server logic for NewsPipe.
//
// It exposes RESTful operator endpoints for inspecting the pipeline stages,
// running or clearing individual queues, pausing processing, and resyncing
// news items. The API integrates with the pipeline, ratelimit, and store
// modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressfeed/newspipe/internal/pipeline"
	"github.com/pressfeed/newspipe/internal/ratelimit"
	"github.com/pressfeed/newspipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

const shutdownTimeout = 10 * time.Second

// Opts holds configuration options for API server construction.
type Opts struct {
	Addr string
}

// Option configures API server construction.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the operator endpoints to the pipeline controller.
type Server struct {
	ctrl *pipeline.Controller
	gate *ratelimit.Gate
	st   store.Store
	addr string

	httpSrv *http.Server
}

// NewServer creates the operator API server.
func NewServer(ctrl *pipeline.Controller, gate *ratelimit.Gate, st store.Store, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	return &Server{ctrl: ctrl, gate: gate, st: st, addr: o.Addr}
}

// Handler builds the route table. Exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.statusHandler)
	mux.HandleFunc("GET /api/queues", s.queuesHandler)
	mux.HandleFunc("POST /api/queues/{name}/run", s.runQueueHandler)
	mux.HandleFunc("POST /api/queues/{name}/clear", s.clearQueueHandler)
	mux.HandleFunc("POST /api/queues/{name}/pause", s.pauseQueueHandler)
	mux.HandleFunc("POST /api/queues/{name}/resume", s.resumeQueueHandler)
	mux.HandleFunc("GET /api/news", s.listNewsHandler)
	mux.HandleFunc("GET /api/news/{id}", s.getNewsHandler)
	mux.HandleFunc("POST /api/resync/{id}", s.resyncHandler)
	return mux
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: NewsPipe API listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down API server")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
