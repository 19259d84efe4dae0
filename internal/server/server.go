// Package server exposes the daemon's HTTP surface: status, semantic
// search, metadata enrichment, and the reindex operations.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/karmaniverous/jeeves-watcher/internal/embed"
	"github.com/karmaniverous/jeeves-watcher/internal/processor"
	"github.com/karmaniverous/jeeves-watcher/internal/queue"
	"github.com/karmaniverous/jeeves-watcher/internal/sidecar"
	"github.com/karmaniverous/jeeves-watcher/internal/vector"
)

// Deps are the collaborators the HTTP surface drives. Scan enumerates
// the current corpus (watch globs minus ignores); WatcherType and
// Dropped report watcher health for /status and may be nil.
type Deps struct {
	Embedder    embed.Embedder
	Store       vector.Store
	Processor   *processor.Processor
	Queue       *queue.Queue
	Sidecars    *sidecar.Store
	Scan        func(fn func(path string)) error
	WatcherType func() string
	Dropped     func() uint64
	Collection  string
	Log         *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps    Deps
	httpSrv *http.Server
	started time.Time
	log     *slog.Logger
}

// New builds the server for addr.
func New(addr string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	s := &Server{
		deps:    deps,
		started: time.Now(),
		log:     deps.Log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /metadata", s.handleMetadata)
	mux.HandleFunc("POST /reindex", s.handleReindex)
	mux.HandleFunc("POST /config-reindex", s.handleConfigReindex)
	mux.HandleFunc("POST /rebuild-metadata", s.handleRebuildMetadata)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the wrapped mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start begins serving in the background. Listen failures surface on
// the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("http server listening", "addr", s.httpSrv.Addr)
	return errCh
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
