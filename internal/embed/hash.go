package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// HashEmbedder produces deterministic embeddings from token and
// character-trigram hashes. It needs no network or model download,
// trading semantic quality for speed and reproducibility.
type HashEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*HashEmbedder)(nil)

// stopWords are high-frequency English words excluded from the token
// signal; the trigram signal still covers them.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true,
	"with": true,
}

const (
	tokenWeight   = 0.7
	trigramWeight = 0.3
	trigramSize   = 3
)

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewHashEmbedder builds an offline embedder.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, HashDimensions), nil
	}

	vector := make([]float32, HashDimensions)

	for _, token := range wordRegex.FindAllString(strings.ToLower(trimmed), -1) {
		if stopWords[token] {
			continue
		}
		vector[hashToIndex(token)] += tokenWeight
	}

	compact := compactAlnum(trimmed)
	for i := 0; i+trigramSize <= len(compact); i++ {
		vector[hashToIndex(compact[i:i+trigramSize])] += trigramWeight
	}

	return normalizeVector(vector), nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = v
	}
	return results, nil
}

func (e *HashEmbedder) Dimensions() int   { return HashDimensions }
func (e *HashEmbedder) ModelName() string { return "hash" }

func (e *HashEmbedder) Available(context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *HashEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// compactAlnum lowercases and strips everything but letters and
// digits, feeding the trigram window.
func compactAlnum(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func hashToIndex(s string) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(HashDimensions))
}
