// Package processor orchestrates the per-file indexing pipeline:
// extract, infer metadata, merge enrichment, hash-skip, chunk, embed,
// upsert, and clean up orphaned chunks. It also serves the two
// non-content mutation modes (metadata-only and rules-only updates).
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/karmaniverous/jeeves-watcher/internal/embed"
	werrors "github.com/karmaniverous/jeeves-watcher/internal/errors"
	"github.com/karmaniverous/jeeves-watcher/internal/extract"
	"github.com/karmaniverous/jeeves-watcher/internal/identity"
	"github.com/karmaniverous/jeeves-watcher/internal/rules"
	"github.com/karmaniverous/jeeves-watcher/internal/sidecar"
	"github.com/karmaniverous/jeeves-watcher/internal/vector"
)

// Reserved payload keys are owned by the pipeline and stripped from
// enrichment before writes.
var reservedKeys = map[string]bool{
	"file_path":    true,
	"chunk_index":  true,
	"total_chunks": true,
	"content_hash": true,
	"chunk_text":   true,
}

// Config tunes the processor.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

// Processor is safe for concurrent use up to the queue's concurrency:
// distinct paths may be processed in parallel; the queue serializes
// work per path.
type Processor struct {
	chunkSize    int
	chunkOverlap int
	sidecars     *sidecar.Store
	embedder     embed.Embedder
	store        vector.Store
	engine       atomic.Pointer[rules.Engine]
	log          *slog.Logger
}

// New wires a processor. The rule engine is swappable at runtime via
// UpdateRules.
func New(cfg Config, sidecars *sidecar.Store, embedder embed.Embedder, store vector.Store, engine *rules.Engine, log *slog.Logger) *Processor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Processor{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		sidecars:     sidecars,
		embedder:     embedder,
		store:        store,
		log:          log,
	}
	p.engine.Store(engine)
	return p
}

// UpdateRules atomically swaps the rule table. In-flight operations
// keep the table they started with.
func (p *Processor) UpdateRules(engine *rules.Engine) {
	p.engine.Store(engine)
}

// ProcessFile runs the full pipeline for one file.
func (p *Processor) ProcessFile(ctx context.Context, path string) error {
	res, err := extract.Extract(ctx, path)
	if err != nil {
		return werrors.New(werrors.ErrCodeExtractFailed,
			fmt.Sprintf("extract %s", path), err)
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		p.log.Debug("skipping empty document", "path", path)
		return nil
	}

	metadata := p.buildMetadata(path, res)
	hash := identity.ContentHash(res.Text)

	// Probe the first chunk: an identical content hash means nothing
	// to do, including no sidecar writes.
	oldTotal := 0
	if payload, present := p.store.GetPayload(ctx, identity.PointID(path, 0)); present {
		if prior, _ := payload["content_hash"].(string); prior == hash {
			p.log.Debug("content unchanged", "path", path, "hash", hash)
			return nil
		}
		oldTotal = payloadInt(payload, "total_chunks", 1)
	}

	chunks := splitText(filepath.Ext(path), res.Text, p.chunkSize, p.chunkOverlap)
	if len(chunks) == 0 {
		p.log.Debug("no chunks produced", "path", path)
		return nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return werrors.New(werrors.ErrCodeEmbedFailed,
			fmt.Sprintf("embed %s", path), err)
	}
	dims := p.embedder.Dimensions()
	for i, v := range vectors {
		if len(v) != dims {
			return werrors.New(werrors.ErrCodeDimensions,
				fmt.Sprintf("chunk %d of %s: got %d dimensions, want %d", i, path, len(v), dims), nil)
		}
	}

	slashPath := filepath.ToSlash(path)
	points := make([]vector.Point, len(chunks))
	for i, chunk := range chunks {
		payload := clone(metadata)
		payload["file_path"] = slashPath
		payload["chunk_index"] = i
		payload["total_chunks"] = len(chunks)
		payload["content_hash"] = hash
		payload["chunk_text"] = chunk
		points[i] = vector.Point{
			ID:      identity.PointID(path, i),
			Vector:  vectors[i],
			Payload: payload,
		}
	}

	if err := p.store.Upsert(ctx, points); err != nil {
		return err
	}

	if oldTotal > len(chunks) {
		orphans := idRange(path, len(chunks), oldTotal)
		if err := p.store.Delete(ctx, orphans); err != nil {
			return err
		}
		p.log.Debug("removed orphaned chunks",
			"path", path, "from", len(chunks), "to", oldTotal)
	}

	p.log.Info("indexed file", "path", path, "chunks", len(chunks))
	return nil
}

// DeleteFile removes every chunk point and the sidecar for path.
func (p *Processor) DeleteFile(ctx context.Context, path string) error {
	// Default to one chunk when the probe is absent so single-chunk
	// files written by older runs still get cleaned up.
	total := 1
	if payload, present := p.store.GetPayload(ctx, identity.PointID(path, 0)); present {
		total = payloadInt(payload, "total_chunks", 1)
	}

	if err := p.store.Delete(ctx, idRange(path, 0, total)); err != nil {
		return err
	}
	if err := p.sidecars.Delete(path); err != nil {
		return werrors.Wrap(werrors.ErrCodeSidecarWrite, err)
	}

	p.log.Info("removed file from index", "path", path, "chunks", total)
	return nil
}

// ProcessMetadataUpdate merges partial enrichment into the sidecar
// and annotates all existing chunk points. Reserved keys in partial
// are stripped. The second result is false when the file has no
// indexed points yet (the sidecar is still written).
func (p *Processor) ProcessMetadataUpdate(ctx context.Context, path string, partial map[string]any) (map[string]any, bool, error) {
	partial = stripReserved(partial)

	existing, _ := p.sidecars.Read(path)
	merged := clone(existing)
	for key, value := range partial {
		merged[key] = value
	}

	if err := p.sidecars.Write(path, merged); err != nil {
		return nil, false, werrors.Wrap(werrors.ErrCodeSidecarWrite, err)
	}

	payload, present := p.store.GetPayload(ctx, identity.PointID(path, 0))
	if !present {
		return merged, false, nil
	}

	total := payloadInt(payload, "total_chunks", 1)
	if err := p.store.SetPayload(ctx, idRange(path, 0, total), merged); err != nil {
		return nil, false, err
	}
	return merged, true, nil
}

// ProcessRulesUpdate recomputes inferred-plus-enrichment metadata for
// an already-indexed file and rewrites the payload on every chunk. No
// re-embedding happens. A file with no indexed points is skipped.
func (p *Processor) ProcessRulesUpdate(ctx context.Context, path string) (map[string]any, error) {
	payload, present := p.store.GetPayload(ctx, identity.PointID(path, 0))
	if !present {
		return nil, nil
	}

	res, err := extract.Extract(ctx, path)
	if err != nil {
		return nil, werrors.New(werrors.ErrCodeExtractFailed,
			fmt.Sprintf("extract %s", path), err)
	}

	metadata := p.buildMetadata(path, res)
	total := payloadInt(payload, "total_chunks", 1)
	if err := p.store.SetPayload(ctx, idRange(path, 0, total), metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// buildMetadata computes inferred ⊕ enrichment; enrichment wins.
func (p *Processor) buildMetadata(path string, res *extract.Result) map[string]any {
	info, _ := os.Stat(path)
	attrs := rules.Attributes(path, info, res.Frontmatter, res.Data)

	metadata := map[string]any{}
	if engine := p.engine.Load(); engine != nil {
		metadata = engine.Apply(attrs)
	}
	if enrichment, ok := p.sidecars.Read(path); ok {
		for key, value := range stripReserved(enrichment) {
			metadata[key] = value
		}
	}
	return metadata
}

func idRange(path string, from, to int) []string {
	if to <= from {
		return nil
	}
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, identity.PointID(path, i))
	}
	return ids
}

// StripReserved returns a copy of m without the pipeline-owned keys.
func StripReserved(m map[string]any) map[string]any {
	return stripReserved(m)
}

func stripReserved(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if reservedKeys[key] {
			continue
		}
		out[key] = value
	}
	return out
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = value
	}
	return out
}

// payloadInt reads an integer payload field across the numeric types
// a round trip can produce.
func payloadInt(payload map[string]any, key string, fallback int) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
