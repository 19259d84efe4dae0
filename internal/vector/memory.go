package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process Store used by tests and by offline runs
// that have no vector server. Search is exact cosine similarity.
type Memory struct {
	mu         sync.RWMutex
	dims       uint64
	points     map[string]memPoint
	collection bool
}

type memPoint struct {
	vector  []float32
	payload map[string]any
}

var _ Store = (*Memory)(nil)

// NewMemory builds an empty in-memory store.
func NewMemory(dims uint64) *Memory {
	return &Memory{
		dims:   dims,
		points: make(map[string]memPoint),
	}
}

func (m *Memory) EnsureCollection(context.Context) error {
	m.mu.Lock()
	m.collection = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.points[p.ID] = memPoint{
			vector:  append([]float32(nil), p.Vector...),
			payload: clonePayload(p.Payload),
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

func (m *Memory) SetPayload(_ context.Context, ids []string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		p, ok := m.points[id]
		if !ok {
			continue
		}
		for key, value := range payload {
			p.payload[key] = value
		}
	}
	return nil
}

func (m *Memory) GetPayload(_ context.Context, id string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.points[id]
	if !ok {
		return nil, false
	}
	return clonePayload(p.payload), true
}

func (m *Memory) Search(_ context.Context, vector []float32, limit int, filter *Filter) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []SearchResult
	for id, p := range m.points {
		if !matchesFilter(p.payload, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:      id,
			Score:   cosine(vector, p.vector),
			Payload: clonePayload(p.payload),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *Memory) Scroll(_ context.Context, filter *Filter, _ int, fn func(ScrollItem) error) error {
	m.mu.RLock()
	items := make([]ScrollItem, 0, len(m.points))
	for id, p := range m.points {
		if !matchesFilter(p.payload, filter) {
			continue
		}
		items = append(items, ScrollItem{ID: id, Payload: clonePayload(p.payload)})
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) CollectionInfo(context.Context) (*CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	samples := make([]map[string]any, 0, schemaSampleSize)
	for _, p := range m.points {
		samples = append(samples, p.payload)
		if len(samples) >= schemaSampleSize {
			break
		}
	}
	return &CollectionInfo{
		Points:     uint64(len(m.points)),
		Dimensions: m.dims,
		Schema:     inferSchema(samples),
	}, nil
}

func (m *Memory) Close() error {
	return nil
}

func matchesFilter(payload map[string]any, filter *Filter) bool {
	if filter == nil {
		return true
	}
	for field, want := range filter.Must {
		got, ok := payload[field].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
