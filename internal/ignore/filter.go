// Package ignore filters watched paths through the .gitignore files
// of the repositories that contain them. Paths outside any repository
// are never ignored.
package ignore

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const verdictCacheSize = 4096

// entry is one discovered .gitignore file: the directory it lives in
// plus its compiled matcher.
type entry struct {
	dir     string
	matcher *matcher
}

// repo is a repository root and its .gitignore entries, sorted by
// directory depth descending so nested files are consulted first.
type repo struct {
	root    string
	entries []entry
}

// Filter answers "is this path gitignored?" for a set of watch roots.
type Filter struct {
	mu    sync.RWMutex
	repos map[string]*repo
	cache *lru.Cache[string, bool]
	log   *slog.Logger
}

// NewFilter discovers the repositories containing the watch roots and
// loads every .gitignore beneath them.
func NewFilter(roots []string, log *slog.Logger) *Filter {
	if log == nil {
		log = slog.Default()
	}
	cache, _ := lru.New[string, bool](verdictCacheSize)

	f := &Filter{
		repos: make(map[string]*repo),
		cache: cache,
		log:   log,
	}

	for _, root := range roots {
		repoRoot := findRepoRoot(root)
		if repoRoot == "" {
			continue
		}
		if _, known := f.repos[repoRoot]; known {
			continue
		}
		f.repos[repoRoot] = f.discoverRepo(repoRoot)
	}

	return f
}

// IsIgnored reports whether any containing repository's .gitignore
// files ignore the path. Entries are consulted deepest-first; the
// first matching entry decides.
func (f *Filter) IsIgnored(path string) bool {
	abs := normalize(path)

	if v, ok := f.cache.Get(abs); ok {
		return v
	}

	isDir := false
	if info, err := os.Stat(path); err == nil {
		isDir = info.IsDir()
	}

	f.mu.RLock()
	ignored := false
	for _, r := range f.repos {
		if !isAncestor(r.root, abs) {
			continue
		}
		for _, e := range r.entries {
			if !isAncestor(e.dir, abs) {
				continue
			}
			rel := strings.TrimPrefix(abs, e.dir+"/")
			if e.matcher.match(rel, isDir) {
				ignored = true
				break
			}
		}
		if ignored {
			break
		}
	}
	f.mu.RUnlock()

	f.cache.Add(abs, ignored)
	return ignored
}

// Invalidate reloads one .gitignore file after it changed on disk. A
// deleted file drops its entry; a file in a repository not yet known
// brings the whole repository in.
func (f *Filter) Invalidate(ignorePath string) {
	abs := normalize(ignorePath)
	dir := abs[:strings.LastIndexByte(abs, '/')]

	f.mu.Lock()
	defer f.mu.Unlock()

	f.cache.Purge()

	r := f.repoFor(abs)
	if r == nil {
		repoRoot := findRepoRoot(filepath.FromSlash(dir))
		if repoRoot == "" {
			return
		}
		f.repos[repoRoot] = f.discoverRepo(repoRoot)
		return
	}

	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.dir != dir {
			kept = append(kept, e)
		}
	}
	r.entries = kept

	if _, err := os.Stat(ignorePath); err != nil {
		return
	}
	m, err := parseFile(ignorePath)
	if err != nil {
		f.log.Warn("failed to reparse gitignore", "path", ignorePath, "error", err)
		return
	}
	r.entries = append(r.entries, entry{dir: dir, matcher: m})
	sortDeepestFirst(r.entries)
}

func (f *Filter) repoFor(abs string) *repo {
	for _, r := range f.repos {
		if isAncestor(r.root, abs) {
			return r
		}
	}
	return nil
}

// discoverRepo loads every .gitignore under the repository root,
// skipping .git and node_modules subtrees.
func (f *Filter) discoverRepo(root string) *repo {
	r := &repo{root: normalize(root)}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "node_modules":
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" {
			return nil
		}
		m, perr := parseFile(path)
		if perr != nil {
			f.log.Warn("failed to parse gitignore", "path", path, "error", perr)
			return nil
		}
		abs := normalize(path)
		r.entries = append(r.entries, entry{
			dir:     abs[:strings.LastIndexByte(abs, '/')],
			matcher: m,
		})
		return nil
	})
	if err != nil {
		f.log.Warn("gitignore discovery failed", "root", root, "error", err)
	}

	sortDeepestFirst(r.entries)
	f.log.Debug("gitignore repository loaded", "root", root, "files", len(r.entries))
	return r
}

// findRepoRoot walks upward from start to the nearest directory that
// contains a .git subdirectory. Empty when none exists.
func findRepoRoot(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func sortDeepestFirst(entries []entry) {
	sort.Slice(entries, func(i, j int) bool {
		return len(entries[i].dir) > len(entries[j].dir)
	})
}

func normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return filepath.ToSlash(abs)
}

func isAncestor(dir, path string) bool {
	return path == dir || strings.HasPrefix(path, dir+"/")
}
