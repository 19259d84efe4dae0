// Package vector defines the vector store contract the processor
// depends on, plus a Qdrant-backed implementation and an in-memory
// one for tests. Any backend with point/payload semantics can satisfy
// the contract.
package vector

import (
	"context"
)

// Point is one embedded chunk ready for upsert.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is one semantic search hit, descending by score.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// ScrollItem is one point yielded during a collection scan.
type ScrollItem struct {
	ID      string
	Payload map[string]any
}

// Filter restricts operations to points whose payload fields equal
// the given keyword values.
type Filter struct {
	Must map[string]string
}

// CollectionInfo describes the collection: point count, vector
// dimensions, and the discovered payload-field schema.
type CollectionInfo struct {
	Points     uint64            `json:"points"`
	Dimensions uint64            `json:"dimensions"`
	Schema     map[string]string `json:"schema"`
}

// Store is the client contract. Upsert and Delete wait for
// durability and are retried with exponential backoff internally.
type Store interface {
	// EnsureCollection creates the collection with the configured
	// dimensions and cosine distance if absent. Idempotent.
	EnsureCollection(ctx context.Context) error

	// Upsert writes points and waits for durability.
	Upsert(ctx context.Context, points []Point) error

	// Delete removes points by id; absent ids are not an error.
	Delete(ctx context.Context, ids []string) error

	// SetPayload merges payload fields into each existing point.
	SetPayload(ctx context.Context, ids []string, payload map[string]any) error

	// GetPayload returns the full payload, or absent on not-found.
	// Transport errors also report absent; callers use this as an
	// "unchanged?" probe, where a stale negative only costs a rerun.
	GetPayload(ctx context.Context, id string) (map[string]any, bool)

	// Search returns the top-k nearest points in descending score.
	Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]SearchResult, error)

	// Scroll lazily walks the whole collection page by page, calling
	// fn for each point. A non-nil error from fn stops the walk.
	Scroll(ctx context.Context, filter *Filter, pageSize int, fn func(ScrollItem) error) error

	// CollectionInfo reports point count, dimensions, and schema.
	CollectionInfo(ctx context.Context) (*CollectionInfo, error)

	// Close releases the underlying connection.
	Close() error
}
