package watcher

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// poller detects changes by periodically scanning the watch roots and
// diffing snapshots. Fallback for platforms where fsnotify fails.
type poller struct {
	interval time.Duration
	roots    []string
	emit     func(path string, op Op)

	mu    sync.Mutex
	state map[string]snapshot
}

type snapshot struct {
	modTime time.Time
	size    int64
}

func newPoller(interval time.Duration, roots []string, emit func(path string, op Op)) *poller {
	return &poller{
		interval: interval,
		roots:    roots,
		emit:     emit,
		state:    make(map[string]snapshot),
	}
}

// start establishes the baseline and begins the scan loop.
func (p *poller) start(wg *sync.WaitGroup, stopCh <-chan struct{}) error {
	p.mu.Lock()
	p.state = p.collect()
	p.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				p.detect()
			}
		}
	}()
	return nil
}

// detect diffs the current tree against the previous snapshot and
// emits create/modify/delete for the differences.
func (p *poller) detect() {
	current := p.collect()

	p.mu.Lock()
	previous := p.state
	p.state = current
	p.mu.Unlock()

	for path, snap := range current {
		prev, seen := previous[path]
		switch {
		case !seen:
			p.emit(path, OpCreate)
		case prev.size != snap.size || !prev.modTime.Equal(snap.modTime):
			p.emit(path, OpModify)
		}
	}
	for path := range previous {
		if _, seen := current[path]; !seen {
			p.emit(path, OpDelete)
		}
	}
}

// collect walks every root and snapshots each regular file.
func (p *poller) collect() map[string]snapshot {
	out := make(map[string]snapshot)
	for _, root := range p.roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			out[path] = snapshot{modTime: info.ModTime(), size: info.Size()}
			return nil
		})
	}
	return out
}
