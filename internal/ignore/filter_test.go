package ignore

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRepo builds a fake repository: a root with a .git directory and
// the given relative-path → content files.
func newRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestFilter_RootAndNestedGitignore(t *testing.T) {
	// Given: a repo with a root .gitignore and a nested one
	root := newRepo(t, map[string]string{
		".gitignore":     "*.log\n",
		"sub/.gitignore": "*.tmp\n",
		"a.log":          "x",
		"b.tmp":          "x",
		"sub/a.log":      "x",
		"sub/b.tmp":      "x",
		"src/index.ts":   "x",
	})

	f := NewFilter([]string{root}, discardLogger())

	// Then: root patterns apply everywhere; nested only beneath sub/
	assert.True(t, f.IsIgnored(filepath.Join(root, "a.log")))
	assert.True(t, f.IsIgnored(filepath.Join(root, "sub", "a.log")))
	assert.True(t, f.IsIgnored(filepath.Join(root, "sub", "b.tmp")))
	assert.False(t, f.IsIgnored(filepath.Join(root, "b.tmp")))
	assert.False(t, f.IsIgnored(filepath.Join(root, "src", "index.ts")))
}

func TestFilter_OutsideAnyRepoNeverIgnored(t *testing.T) {
	// Given: a directory with a .gitignore but no .git
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("x"), 0o644))

	f := NewFilter([]string{dir}, discardLogger())

	assert.False(t, f.IsIgnored(filepath.Join(dir, "a.log")))
}

func TestFilter_WatchRootInsideSubdirectoryFindsRepo(t *testing.T) {
	root := newRepo(t, map[string]string{
		".gitignore":   "*.log\n",
		"sub/deep/f.log": "x",
	})

	// Watch root is a subdirectory; the repo root is found by walking up.
	f := NewFilter([]string{filepath.Join(root, "sub")}, discardLogger())

	assert.True(t, f.IsIgnored(filepath.Join(root, "sub", "deep", "f.log")))
}

func TestFilter_DirectoryOnlyPattern(t *testing.T) {
	root := newRepo(t, map[string]string{
		".gitignore":    "build/\n",
		"build/out.js":  "x",
		"src/build.txt": "x",
	})

	f := NewFilter([]string{root}, discardLogger())

	assert.True(t, f.IsIgnored(filepath.Join(root, "build", "out.js")))
	assert.False(t, f.IsIgnored(filepath.Join(root, "src", "build.txt")))
}

func TestFilter_NegationPattern(t *testing.T) {
	root := newRepo(t, map[string]string{
		".gitignore":    "*.log\n!keep.log\n",
		"drop.log":      "x",
		"keep.log":      "x",
	})

	f := NewFilter([]string{root}, discardLogger())

	assert.True(t, f.IsIgnored(filepath.Join(root, "drop.log")))
	assert.False(t, f.IsIgnored(filepath.Join(root, "keep.log")))
}

func TestFilter_InvalidateReloadsChangedFile(t *testing.T) {
	root := newRepo(t, map[string]string{
		".gitignore": "*.log\n",
		"a.log":      "x",
		"a.tmp":      "x",
	})
	f := NewFilter([]string{root}, discardLogger())

	require.True(t, f.IsIgnored(filepath.Join(root, "a.log")))
	require.False(t, f.IsIgnored(filepath.Join(root, "a.tmp")))

	// When: the .gitignore changes on disk and is invalidated
	ignorePath := filepath.Join(root, ".gitignore")
	require.NoError(t, os.WriteFile(ignorePath, []byte("*.tmp\n"), 0o644))
	f.Invalidate(ignorePath)

	// Then: the cached verdicts are dropped and the new rules apply
	assert.False(t, f.IsIgnored(filepath.Join(root, "a.log")))
	assert.True(t, f.IsIgnored(filepath.Join(root, "a.tmp")))
}

func TestFilter_InvalidateDeletedFileDropsEntry(t *testing.T) {
	root := newRepo(t, map[string]string{
		".gitignore": "*.log\n",
		"a.log":      "x",
	})
	f := NewFilter([]string{root}, discardLogger())
	require.True(t, f.IsIgnored(filepath.Join(root, "a.log")))

	ignorePath := filepath.Join(root, ".gitignore")
	require.NoError(t, os.Remove(ignorePath))
	f.Invalidate(ignorePath)

	assert.False(t, f.IsIgnored(filepath.Join(root, "a.log")))
}

func TestFilter_InvalidateDiscoversNewRepo(t *testing.T) {
	// Given: a filter built before the repo had any .gitignore, over a
	// watch root outside any repository
	plain := t.TempDir()
	f := NewFilter([]string{plain}, discardLogger())

	root := newRepo(t, map[string]string{
		".gitignore": "*.log\n",
		"a.log":      "x",
	})

	// When: a .gitignore in an unknown repo is invalidated
	f.Invalidate(filepath.Join(root, ".gitignore"))

	// Then: the repo is discovered and its rules apply
	assert.True(t, f.IsIgnored(filepath.Join(root, "a.log")))
}

func TestMatcher_NestedBeforeAncestor(t *testing.T) {
	// A nested .gitignore is consulted before the root one.
	root := newRepo(t, map[string]string{
		".gitignore":     "sub/\n",
		"sub/.gitignore": "x",
		"sub/f.txt":      "x",
	})
	f := NewFilter([]string{root}, discardLogger())

	r := f.repos[normalizeRoot(root)]
	require.NotNil(t, r)
	require.Len(t, r.entries, 2)
	assert.True(t, len(r.entries[0].dir) > len(r.entries[1].dir))
}

func normalizeRoot(path string) string {
	return normalize(path)
}
