package app

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configWatcher watches the configuration file and invokes onChange
// after writes settle for the debounce window. Editors that replace
// the file (rename + create) are covered by watching the directory.
type configWatcher struct {
	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func watchConfig(path string, debounce time.Duration, onChange func(), log *slog.Logger) (*configWatcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	cw := &configWatcher{fsw: fsw, stopCh: make(chan struct{})}
	cw.wg.Add(1)
	go func() {
		defer cw.wg.Done()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-cw.stopCh:
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Stop()
					timer.Reset(debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				log.Debug("config file changed, reloading", "path", abs)
				onChange()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()
	return cw, nil
}

func (cw *configWatcher) stop() {
	close(cw.stopCh)
	_ = cw.fsw.Close()
	cw.wg.Wait()
}
