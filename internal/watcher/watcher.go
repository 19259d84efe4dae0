// Package watcher turns raw filesystem notifications into file events
// scoped by watch globs, ignore globs, and the gitignore filter. It
// prefers fsnotify and falls back to polling when the platform (or
// configuration) rules fsnotify out.
package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/karmaniverous/jeeves-watcher/internal/ignore"
)

// Op is a coalesced filesystem operation.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is one observed change to a watched file. Path is absolute.
type FileEvent struct {
	Path string
	Op   Op
}

// Options configures a Watcher.
type Options struct {
	// Globs select the files to watch, e.g. "/home/me/docs/**/*.md".
	// A glob with no meta characters is treated as a directory and
	// watched recursively.
	Globs []string

	// Ignored globs are matched against the absolute path and the
	// base name; matching paths never produce events.
	Ignored []string

	// ForcePolling skips fsnotify even when it is available.
	ForcePolling bool

	// PollInterval is the polling fallback scan period.
	PollInterval time.Duration

	// Stability delays emission until a file's size and mtime have
	// been unchanged for this window. Zero disables the gate.
	Stability time.Duration

	// EventBufferSize bounds the output channel.
	EventBufferSize int
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 1024
	}
	return o
}

// Watcher watches the glob-selected corpus and emits FileEvents.
type Watcher struct {
	opts   Options
	globs  []string // normalized watch globs, slash form
	roots  []string // watch roots derived from the globs
	filter *ignore.Filter
	log    *slog.Logger

	fsw     *fsnotify.Watcher
	poller  *poller
	usePoll bool

	events chan FileEvent
	errors chan error
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pendingChange
	stopped bool

	dropped atomic.Uint64
}

type pendingChange struct {
	size    int64
	modTime time.Time
	op      Op
	timer   *time.Timer
}

// Roots derives the watch roots for a set of globs without building a
// watcher. Callers use it to seed the gitignore filter before the
// watcher exists.
func Roots(globs []string) ([]string, error) {
	var roots []string
	for _, raw := range globs {
		_, root, err := normalizeGlob(raw)
		if err != nil {
			return nil, err
		}
		roots = appendRoot(roots, root)
	}
	sort.Strings(roots)
	return roots, nil
}

// New builds a watcher. The ignore filter may be nil when gitignore
// scoping is not wanted.
func New(opts Options, filter *ignore.Filter, log *slog.Logger) (*Watcher, error) {
	opts = opts.WithDefaults()
	if log == nil {
		log = slog.Default()
	}

	w := &Watcher{
		opts:    opts,
		filter:  filter,
		log:     log,
		events:  make(chan FileEvent, opts.EventBufferSize),
		errors:  make(chan error, 10),
		stopCh:  make(chan struct{}),
		pending: make(map[string]*pendingChange),
	}

	for _, raw := range opts.Globs {
		glob, root, err := normalizeGlob(raw)
		if err != nil {
			return nil, err
		}
		w.globs = append(w.globs, glob)
		w.roots = appendRoot(w.roots, root)
	}
	sort.Strings(w.roots)

	if !opts.ForcePolling {
		if fsw, err := fsnotify.NewWatcher(); err == nil {
			w.fsw = fsw
		} else {
			log.Warn("fsnotify unavailable, falling back to polling", "error", err)
		}
	}
	if w.fsw == nil {
		w.usePoll = true
		w.poller = newPoller(opts.PollInterval, w.roots, w.handleRaw)
	}

	return w, nil
}

// Start begins watching. It returns after setup; events flow on the
// Events channel until Stop.
func (w *Watcher) Start() error {
	if w.usePoll {
		if err := w.poller.start(&w.wg, w.stopCh); err != nil {
			return err
		}
		w.log.Info("watcher started", "type", "polling", "roots", w.roots)
		return nil
	}

	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			return err
		}
	}

	w.wg.Add(1)
	go w.runFsnotify()
	w.log.Info("watcher started", "type", "fsnotify", "roots", w.roots)
	return nil
}

// Stop shuts the watcher down and closes its channels.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	close(w.stopCh)
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the stream of watched-file changes.
func (w *Watcher) Events() <-chan FileEvent { return w.events }

// Errors returns watcher-level errors (systemic, not per-file).
func (w *Watcher) Errors() <-chan error { return w.errors }

// Type reports the active mechanism, "fsnotify" or "polling".
func (w *Watcher) Type() string {
	if w.usePoll {
		return "polling"
	}
	return "fsnotify"
}

// Roots returns the watch roots derived from the globs.
func (w *Watcher) Roots() []string { return w.roots }

// Dropped returns how many events were discarded on a full buffer.
func (w *Watcher) Dropped() uint64 { return w.dropped.Load() }

// Scan walks every watch root and invokes fn for each file currently
// matched by the globs and not ignored. Used for startup convergence.
func (w *Watcher) Scan(fn func(path string)) error {
	for _, root := range w.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if w.wanted(path) {
				fn(path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) runFsnotify() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFsnotify(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handleFsnotify(event fsnotify.Event) {
	path := event.Name

	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// New directory: watch it and surface files it already
			// contains, which fsnotify will not replay.
			if err := w.addRecursive(path); err != nil {
				w.emitError(err)
			}
			_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				w.handleRaw(p, OpCreate)
				return nil
			})
			return
		}
		w.handleRaw(path, OpCreate)

	case event.Op&fsnotify.Write != 0:
		w.handleRaw(path, OpModify)

	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		// A rename lands here for the old path; the new path arrives
		// as a separate create.
		w.handleRaw(path, OpDelete)
	}
}

// handleRaw filters one raw event and routes it through the stability
// gate. Shared by the fsnotify and polling paths.
func (w *Watcher) handleRaw(path string, op Op) {
	if filepath.Base(path) == ".gitignore" {
		if w.filter != nil {
			w.filter.Invalidate(path)
		}
		return
	}

	if op == OpDelete {
		w.cancelPending(path)
		if w.matchesGlobs(path) {
			w.emit(FileEvent{Path: path, Op: OpDelete})
		}
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if !w.wanted(path) {
		return
	}

	if w.opts.Stability <= 0 {
		w.emit(FileEvent{Path: path, Op: op})
		return
	}
	w.gate(path, op, info)
}

// gate (re)arms the stability timer for path with a fresh snapshot.
func (w *Watcher) gate(path string, op Op, info os.FileInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		if p.op == OpCreate {
			op = OpCreate // first-seen op wins
		}
	}

	p := &pendingChange{size: info.Size(), modTime: info.ModTime(), op: op}
	p.timer = time.AfterFunc(w.opts.Stability, func() { w.settle(path) })
	w.pending[path] = p
}

// settle re-checks a gated path after the stability window. Stable
// files emit; still-changing files re-arm.
func (w *Watcher) settle(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok || w.stopped {
		w.mu.Unlock()
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// Vanished while gated; the delete event covers it.
		delete(w.pending, path)
		w.mu.Unlock()
		return
	}

	if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
		p.size = info.Size()
		p.modTime = info.ModTime()
		p.timer = time.AfterFunc(w.opts.Stability, func() { w.settle(path) })
		w.mu.Unlock()
		return
	}

	op := p.op
	delete(w.pending, path)
	w.mu.Unlock()

	w.emit(FileEvent{Path: path, Op: op})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

// wanted reports whether path matches the watch globs and clears both
// the ignore globs and the gitignore filter.
func (w *Watcher) wanted(path string) bool {
	if !w.matchesGlobs(path) {
		return false
	}
	if w.matchesIgnored(path) {
		return false
	}
	if w.filter != nil && w.filter.IsIgnored(path) {
		return false
	}
	return true
}

func (w *Watcher) matchesGlobs(path string) bool {
	slash := filepath.ToSlash(path)
	for _, glob := range w.globs {
		if ok, _ := doublestar.Match(glob, slash); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) matchesIgnored(path string) bool {
	slash := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, glob := range w.opts.Ignored {
		if ok, _ := doublestar.Match(glob, slash); ok {
			return true
		}
		if ok, _ := doublestar.Match(glob, base); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// emit sends under the mutex: Stop sets stopped before it closes the
// channels, so a send racing a late settle timer either wins the lock
// first (the channel is still open) or observes stopped. The send is
// non-blocking, so holding the lock across it is safe.
func (w *Watcher) emit(ev FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	select {
	case w.events <- ev:
	default:
		count := w.dropped.Add(1)
		w.log.Warn("event buffer full, dropping event",
			"path", ev.Path, "op", ev.Op.String(), "total_dropped", count)
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// normalizeGlob resolves a watch glob to absolute slash form and
// derives its watch root. A glob with no meta characters is a
// directory watched recursively.
func normalizeGlob(raw string) (glob, root string, err error) {
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", "", err
	}
	glob = filepath.ToSlash(abs)

	if !strings.ContainsAny(glob, "*?[{") {
		// Plain directory.
		return glob + "/**", filepath.FromSlash(glob), nil
	}
	base, _ := doublestar.SplitPattern(glob)
	return glob, filepath.FromSlash(base), nil
}

// appendRoot adds root unless an existing root already covers it.
func appendRoot(roots []string, root string) []string {
	for i, existing := range roots {
		if existing == root || isUnder(root, existing) {
			return roots
		}
		if isUnder(existing, root) {
			roots[i] = root
			return roots
		}
	}
	return append(roots, root)
}

func isUnder(path, ancestor string) bool {
	return strings.HasPrefix(path, ancestor+string(filepath.Separator))
}

func skipDir(name string) bool {
	return name == ".git" || name == "node_modules"
}
