// Package embed provides the embedding providers the processor uses
// to vectorize document chunks: an Ollama client, an OpenAI-compatible
// HTTP client, and a deterministic hash embedder for offline use and
// tests.
package embed

import (
	"context"
	"math"
	"time"
)

// Defaults applied by the providers.
const (
	DefaultDimensions = 768
	DefaultTimeout    = 120 * time.Second

	// HashDimensions is the vector size of the offline hash embedder.
	HashDimensions = 256
)

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	// Embed vectorizes a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch vectorizes all texts in one provider call where the
	// backend supports it. Result order matches input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the vector length every result has.
	Dimensions() int

	// ModelName identifies the underlying model.
	ModelName() string

	// Available reports whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales a vector to unit length. Zero vectors pass
// through unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
