package vector

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		host    string
		port    int
		useTLS  bool
		wantErr bool
	}{
		{name: "http with port", url: "http://localhost:6334", host: "localhost", port: 6334},
		{name: "https", url: "https://qdrant.example.com", host: "qdrant.example.com", port: 6334, useTLS: true},
		{name: "bare host", url: "qdrant.internal:7000", host: "qdrant.internal", port: 7000},
		{name: "default port", url: "http://10.0.0.1", host: "10.0.0.1", port: 6334},
		{name: "empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseEndpoint(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.useTLS, useTLS)
		})
	}
}

func TestMemory_UpsertGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	require.NoError(t, m.EnsureCollection(ctx))

	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"file_path": "/w/a.txt"}},
	}))

	payload, ok := m.GetPayload(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "/w/a.txt", payload["file_path"])

	// Deleting absent ids alongside present ones is not an error.
	require.NoError(t, m.Delete(ctx, []string{"a", "never-existed"}))
	_, ok = m.GetPayload(ctx, "a")
	assert.False(t, ok)
}

func TestMemory_SetPayloadMergesFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"keep": "yes", "domain": "old"}},
	}))

	require.NoError(t, m.SetPayload(ctx, []string{"a"}, map[string]any{"domain": "new"}))

	payload, ok := m.GetPayload(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "yes", payload["keep"])
	assert.Equal(t, "new", payload["domain"])
}

func TestMemory_SearchRanksByCosine(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "near", Vector: []float32{1, 0}, Payload: map[string]any{"k": "near"}},
		{ID: "mid", Vector: []float32{1, 1}, Payload: map[string]any{"k": "mid"}},
		{ID: "far", Vector: []float32{0, 1}, Payload: map[string]any{"k": "far"}},
	}))

	results, err := m.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
	assert.Equal(t, "mid", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMemory_SearchFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"file_path": "/w/a"}},
		{ID: "b", Vector: []float32{1, 0}, Payload: map[string]any{"file_path": "/w/b"}},
	}))

	results, err := m.Search(ctx, []float32{1, 0}, 10, &Filter{Must: map[string]string{"file_path": "/w/b"}})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestMemory_ScrollVisitsAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"n": int64(1)}},
		{ID: "b", Vector: []float32{0, 1}, Payload: map[string]any{"n": int64(2)}},
	}))

	var seen []string
	err := m.Scroll(ctx, nil, 10, func(item ScrollItem) error {
		seen = append(seen, item.ID)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
}

func TestInferSchema(t *testing.T) {
	long := strings.Repeat("x", 300)
	samples := []map[string]any{
		{
			"count":    int64(3),
			"ratio":    1.5,
			"flag":     true,
			"name":     "short",
			"body":     long,
			"tags":     []any{"a", "b"},
			"promoted": "short",
		},
		{
			"promoted": long,
		},
	}

	schema := inferSchema(samples)

	assert.Equal(t, "integer", schema["count"])
	assert.Equal(t, "float", schema["ratio"])
	assert.Equal(t, "bool", schema["flag"])
	assert.Equal(t, "keyword", schema["name"])
	assert.Equal(t, "text", schema["body"])
	assert.Equal(t, "keyword-array", schema["tags"])
	// A keyword field is promoted to text once a long sample appears.
	assert.Equal(t, "text", schema["promoted"])
}

func TestInferSchema_JSONIntegersAsFloats(t *testing.T) {
	schema := inferSchema([]map[string]any{{"n": float64(7)}})
	assert.Equal(t, "integer", schema["n"])
}
