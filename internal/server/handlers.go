package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/karmaniverous/jeeves-watcher/internal/processor"
	"github.com/karmaniverous/jeeves-watcher/internal/vector"
)

const (
	defaultSearchLimit = 10
	scrollPageSize     = 256
)

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Store.CollectionInfo(r.Context())
	if err != nil {
		s.log.Error("collection info failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	stats := s.deps.Queue.Stats()
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"collection": map[string]any{
			"name":       s.deps.Collection,
			"pointCount": info.Points,
			"dimensions": info.Dimensions,
		},
		"payloadFields": info.Schema,
		"queue": map[string]any{
			"pending": stats.Pending,
			"active":  stats.Active,
		},
	}
	if s.deps.WatcherType != nil {
		watcher := map[string]any{"type": s.deps.WatcherType()}
		if s.deps.Dropped != nil {
			watcher["droppedEvents"] = s.deps.Dropped()
		}
		resp["watcher"] = watcher
	}

	writeJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	Query  string            `json:"query"`
	Limit  int               `json:"limit,omitempty"`
	Filter map[string]string `json:"filter,omitempty"`
}

type searchHit struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// POST /search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}

	queryVector, err := s.deps.Embedder.Embed(r.Context(), req.Query)
	if err != nil {
		s.log.Error("query embedding failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var filter *vector.Filter
	if len(req.Filter) > 0 {
		filter = &vector.Filter{Must: req.Filter}
	}

	results, err := s.deps.Store.Search(r.Context(), queryVector, req.Limit, filter)
	if err != nil {
		s.log.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	hits := make([]searchHit, len(results))
	for i, res := range results {
		hits[i] = searchHit{ID: res.ID, Score: res.Score, Payload: res.Payload}
	}
	writeJSON(w, http.StatusOK, hits)
}

type metadataRequest struct {
	Path     string         `json:"path"`
	Metadata map[string]any `json:"metadata"`
}

// POST /metadata
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	if _, _, err := s.deps.Processor.ProcessMetadataUpdate(r.Context(), req.Path, req.Metadata); err != nil {
		s.log.Error("metadata update failed", "path", req.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// POST /reindex
//
// Legacy synchronous reindex: walks the corpus and runs each file
// through the pipeline one at a time. Content-hash short-circuiting
// keeps unchanged files cheap.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	paths, err := s.corpus()
	if err != nil {
		s.log.Error("corpus scan failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(1)
	var indexed atomic.Int64
	for _, path := range paths {
		g.Go(func() error {
			if err := s.deps.Processor.ProcessFile(ctx, path); err != nil {
				s.log.Warn("reindex failed for file", "path", path, "error", err)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"filesIndexed": indexed.Load(),
	})
}

type configReindexRequest struct {
	Scope string `json:"scope,omitempty"`
}

// POST /config-reindex
//
// Runs asynchronously. scope=rules (the default) reapplies inference
// rules to every indexed file without re-embedding; scope=full walks
// the corpus through the whole pipeline.
func (s *Server) handleConfigReindex(w http.ResponseWriter, r *http.Request) {
	var req configReindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Scope == "" {
		req.Scope = "rules"
	}

	switch req.Scope {
	case "rules":
		go s.reindexRules()
	case "full":
		go s.reindexFull()
	default:
		writeError(w, http.StatusNotImplemented, "unknown scope: "+req.Scope)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "started",
		"scope":  req.Scope,
	})
}

// POST /rebuild-metadata
//
// Rewrites every sidecar from the store's payloads with the system
// keys stripped, recovering enrichment after sidecar loss.
func (s *Server) handleRebuildMetadata(w http.ResponseWriter, r *http.Request) {
	rebuilt := map[string]bool{}
	err := s.deps.Store.Scroll(r.Context(), nil, scrollPageSize, func(item vector.ScrollItem) error {
		path, _ := item.Payload["file_path"].(string)
		if path == "" || rebuilt[path] {
			return nil
		}
		rebuilt[path] = true
		return s.deps.Sidecars.Write(path, processor.StripReserved(item.Payload))
	})
	if err != nil {
		s.log.Error("rebuild metadata failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// reindexRules reapplies the rule table to every indexed file.
func (s *Server) reindexRules() {
	ctx := context.Background()
	seen := map[string]bool{}
	err := s.deps.Store.Scroll(ctx, nil, scrollPageSize, func(item vector.ScrollItem) error {
		path, _ := item.Payload["file_path"].(string)
		if path == "" || seen[path] {
			return nil
		}
		seen[path] = true
		if _, err := s.deps.Processor.ProcessRulesUpdate(ctx, path); err != nil {
			s.log.Warn("rules reindex failed for file", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error("rules reindex scroll failed", "error", err)
		return
	}
	s.log.Info("rules reindex finished", "files", len(seen))
}

// reindexFull runs the whole pipeline over the corpus.
func (s *Server) reindexFull() {
	ctx := context.Background()
	paths, err := s.corpus()
	if err != nil {
		s.log.Error("full reindex scan failed", "error", err)
		return
	}
	for _, path := range paths {
		if err := s.deps.Processor.ProcessFile(ctx, path); err != nil {
			s.log.Warn("full reindex failed for file", "path", path, "error", err)
		}
	}
	s.log.Info("full reindex finished", "files", len(paths))
}

func (s *Server) corpus() ([]string, error) {
	var paths []string
	if s.deps.Scan == nil {
		return paths, nil
	}
	if err := s.deps.Scan(func(path string) { paths = append(paths, path) }); err != nil {
		return nil, err
	}
	return paths, nil
}
