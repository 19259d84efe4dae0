package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteReadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	// When: an enrichment mapping is written
	in := map[string]any{"domain": "meetings", "priority": float64(2)}
	require.NoError(t, s.Write("/w/notes.md", in))

	// Then: reading it back yields the same mapping
	out, ok := s.Read("/w/notes.md")
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestStore_ReadMissingIsAbsent(t *testing.T) {
	s := NewStore(t.TempDir())

	out, ok := s.Read("/w/never-written.md")
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestStore_ReadCorruptIsAbsent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, os.WriteFile(s.PathFor("/w/bad.md"), []byte("{not json"), 0o644))

	_, ok := s.Read("/w/bad.md")
	assert.False(t, ok)
}

func TestStore_WriteCreatesParentDirs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "meta")
	s := NewStore(dir)

	require.NoError(t, s.Write("/w/a.md", map[string]any{"k": "v"}))
	_, err := os.Stat(s.PathFor("/w/a.md"))
	assert.NoError(t, err)
}

func TestStore_BodyIsPrettyJSONWithTrailingNewline(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Write("/w/a.md", map[string]any{"domain": "ops"}))

	data, err := os.ReadFile(s.PathFor("/w/a.md"))
	require.NoError(t, err)

	body := string(data)
	assert.True(t, strings.HasSuffix(body, "\n"))
	assert.Contains(t, body, "  \"domain\": \"ops\"")
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.Write("/w/a.md", map[string]any{"k": "v"}))
	require.NoError(t, s.Delete("/w/a.md"))

	_, ok := s.Read("/w/a.md")
	assert.False(t, ok)

	// Deleting again is still success.
	assert.NoError(t, s.Delete("/w/a.md"))
}

func TestStore_PathVariantsShareOneSidecar(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.Write("/w/Doc.md", map[string]any{"k": "v"}))
	out, ok := s.Read(`\w\doc.MD`)
	require.True(t, ok)
	assert.Equal(t, "v", out["k"])
}
