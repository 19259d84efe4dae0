// Package app wires the daemon together: configuration, logging,
// embedder, vector store, rules, processor, queue, watcher, and the
// HTTP surface, with lifecycle management over all of them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/karmaniverous/jeeves-watcher/internal/config"
	"github.com/karmaniverous/jeeves-watcher/internal/embed"
	werrors "github.com/karmaniverous/jeeves-watcher/internal/errors"
	"github.com/karmaniverous/jeeves-watcher/internal/health"
	"github.com/karmaniverous/jeeves-watcher/internal/ignore"
	"github.com/karmaniverous/jeeves-watcher/internal/logging"
	"github.com/karmaniverous/jeeves-watcher/internal/processor"
	"github.com/karmaniverous/jeeves-watcher/internal/queue"
	"github.com/karmaniverous/jeeves-watcher/internal/rules"
	"github.com/karmaniverous/jeeves-watcher/internal/server"
	"github.com/karmaniverous/jeeves-watcher/internal/sidecar"
	"github.com/karmaniverous/jeeves-watcher/internal/vector"
	"github.com/karmaniverous/jeeves-watcher/internal/watcher"
)

// App is one running daemon instance.
type App struct {
	cfg        *config.Config
	configPath string

	log        *slog.Logger
	logCleanup func()

	lock       *flock.Flock
	embedder   embed.Embedder
	store      vector.Store
	sidecars   *sidecar.Store
	proc       *processor.Processor
	q          *queue.Queue
	filter     *ignore.Filter
	fsw        *watcher.Watcher
	srv        *server.Server
	supervisor *health.Supervisor
	cfgWatcher *configWatcher

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New loads the configuration and prepares an App. Nothing runs until
// Start.
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:        cfg,
		configPath: configPath,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start brings the daemon up: logger, embedder, vector client,
// collection, rules, processor, queue, watcher, HTTP, and finally the
// config-file watcher for hot reload.
func (a *App) Start(ctx context.Context) error {
	log, cleanup, err := logging.Setup(logging.Config{
		Level:         a.cfg.Logging.Level,
		FilePath:      a.cfg.Logging.File,
		MaxSizeMB:     a.cfg.Logging.MaxSizeMB,
		WriteToStderr: a.cfg.Logging.Stderr,
	})
	if err != nil {
		return err
	}
	a.log = log
	a.logCleanup = cleanup
	slog.SetDefault(log)

	if err := a.acquireLock(); err != nil {
		return err
	}

	a.embedder, err = embed.New(embed.Config{
		Provider:   a.cfg.Embedding.Provider,
		Model:      a.cfg.Embedding.Model,
		Host:       a.cfg.Embedding.Host,
		APIKey:     a.cfg.Embedding.APIKey,
		Dimensions: a.cfg.Embedding.Dimensions,
		Timeout:    a.cfg.Embedding.Timeout(),
	})
	if err != nil {
		return err
	}

	a.store, err = vector.NewQdrant(vector.Config{
		URL:        a.cfg.VectorStore.URL,
		Collection: a.cfg.VectorStore.Collection,
		APIKey:     a.cfg.VectorStore.APIKey,
		Dimensions: uint64(a.embedder.Dimensions()),
	}, log)
	if err != nil {
		return err
	}
	if err := a.store.EnsureCollection(ctx); err != nil {
		return err
	}

	engine, err := rules.Compile(a.cfg.InferenceRules, a.cfg.Maps, log)
	if err != nil {
		return err
	}

	a.sidecars = sidecar.NewStore(a.cfg.MetadataDir)
	a.proc = processor.New(processor.Config{
		ChunkSize:    a.cfg.Embedding.ChunkSize,
		ChunkOverlap: a.cfg.Embedding.ChunkOverlap,
	}, a.sidecars, a.embedder, a.store, engine, log)

	a.q = queue.New(queue.Config{
		DebounceWindow: a.cfg.Watch.Debounce(),
		Concurrency:    a.cfg.Embedding.Concurrency,
		RatePerMinute:  a.cfg.Embedding.RateLimitPerMinute,
	}, log)

	a.supervisor = health.New(health.Config{
		OnFatal: func(err error) {
			log.Error("watcher giving up after repeated failures", "error", err)
			if a.fsw != nil {
				_ = a.fsw.Stop()
			}
		},
	}, log)

	roots, err := watcher.Roots(a.cfg.Watch.Paths)
	if err != nil {
		return werrors.ConfigError("resolve watch roots", err)
	}
	a.filter = ignore.NewFilter(roots, log)

	a.fsw, err = watcher.New(watcher.Options{
		Globs:        a.cfg.Watch.Paths,
		Ignored:      a.cfg.Watch.Ignored,
		ForcePolling: a.cfg.Watch.UsePolling,
		PollInterval: a.cfg.Watch.PollInterval(),
		Stability:    a.cfg.Watch.Stability(),
	}, a.filter, log)
	if err != nil {
		return werrors.Wrap(werrors.ErrCodeWatcherFailed, err)
	}

	a.srv = server.New(a.cfg.API.Addr(), server.Deps{
		Embedder:    a.embedder,
		Store:       a.store,
		Processor:   a.proc,
		Queue:       a.q,
		Sidecars:    a.sidecars,
		Scan:        a.fsw.Scan,
		WatcherType: a.fsw.Type,
		Dropped:     a.fsw.Dropped,
		Collection:  a.cfg.VectorStore.Collection,
		Log:         log,
	})

	a.q.Start()
	httpErr := a.srv.Start()

	if err := a.fsw.Start(); err != nil {
		return werrors.Wrap(werrors.ErrCodeWatcherFailed, err)
	}

	a.wg.Add(1)
	go a.pump(httpErr)

	a.scanCorpus()

	if a.cfg.ConfigWatch.Enabled {
		a.cfgWatcher, err = watchConfig(a.configPath, a.cfg.ConfigWatch.Debounce(), a.reloadRules, log)
		if err != nil {
			log.Warn("config hot reload unavailable", "error", err)
		}
	}

	log.Info("jeeves-watcher started",
		"addr", a.cfg.API.Addr(),
		"collection", a.cfg.VectorStore.Collection,
		"watcher", a.fsw.Type(),
		"embedder", a.embedder.ModelName(),
	)
	return nil
}

// Run starts the app and blocks until ctx is cancelled, then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop()
}

// Stop shuts down in order: config watcher, filesystem watcher, queue
// drain (bounded by shutdownTimeoutMs), HTTP, then resources.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		if a.cfgWatcher != nil {
			a.cfgWatcher.stop()
		}
		if a.fsw != nil {
			_ = a.fsw.Stop()
		}
		close(a.stopCh)
		a.wg.Wait()

		if a.q != nil {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
			if err := a.q.Drain(ctx); err != nil {
				a.log.Warn("drain timed out, abandoning pending work", "error", err)
			}
			cancel()
			a.q.Stop()
		}

		if a.srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = a.srv.Shutdown(ctx)
			cancel()
		}

		if a.embedder != nil {
			_ = a.embedder.Close()
		}
		if a.store != nil {
			a.store.Close()
		}
		if a.lock != nil {
			_ = a.lock.Unlock()
		}
		if a.log != nil {
			a.log.Info("jeeves-watcher stopped")
		}
		if a.logCleanup != nil {
			a.logCleanup()
		}
	})
	return nil
}

// pump feeds watcher events into the queue and watcher errors into the
// health supervisor.
func (a *App) pump(httpErr <-chan error) {
	defer a.wg.Done()
	events := a.fsw.Events()
	errs := a.fsw.Errors()
	for {
		select {
		case <-a.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			a.enqueue(ev, queue.PriorityNormal)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if !a.supervisor.RecordFailure(err) {
				_ = a.fsw.Stop()
				return
			}
		case err, ok := <-httpErr:
			if !ok {
				httpErr = nil
				continue
			}
			a.log.Error("http server failed", "error", err)
			return
		}
	}
}

// enqueue maps one watcher event to a queue entry whose handler runs
// the pipeline under health supervision.
func (a *App) enqueue(ev watcher.FileEvent, priority queue.Priority) {
	a.q.Enqueue(queue.Event{
		Path:     ev.Path,
		Priority: priority,
		Kind:     ev.Op.String(),
	}, a.handle)
}

// handle is the queue handler for filesystem events. Per-file pipeline
// errors are logged and swallowed so routine parse failures do not
// poison watcher health. A retry-exhausted store error is a systemic
// signal: it feeds the supervisor so backoff grows and the fatal
// cutoff can trip while the store stays unreachable.
func (a *App) handle(ctx context.Context, ev queue.Event) error {
	if err := a.supervisor.Backoff(ctx); err != nil {
		return err
	}

	var err error
	if ev.Kind == "delete" {
		err = a.proc.DeleteFile(ctx, ev.Path)
	} else {
		err = a.proc.ProcessFile(ctx, ev.Path)
	}
	if err != nil {
		a.log.Error("pipeline error", "path", ev.Path, "kind", ev.Kind,
			"error", werrors.Normalize(err))
		if werrors.IsCode(err, werrors.ErrCodeRetryExhaust) {
			a.supervisor.RecordFailure(err)
			return nil
		}
	}

	a.supervisor.RecordSuccess()
	return nil
}

// scanCorpus enqueues every currently-matching file at low priority so
// the store converges after startup without an operator reindex.
func (a *App) scanCorpus() {
	count := 0
	err := a.fsw.Scan(func(path string) {
		count++
		a.enqueue(watcher.FileEvent{Path: path, Op: watcher.OpModify}, queue.PriorityLow)
	})
	if err != nil {
		a.log.Warn("startup scan failed", "error", err)
		return
	}
	a.log.Info("startup scan enqueued", "files", count)
}

// reloadRules recompiles the rule table from the config file and swaps
// it atomically. A broken document keeps the previous rules.
func (a *App) reloadRules() {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		a.log.Error("config reload failed, keeping previous rules", "error", err)
		return
	}
	engine, err := rules.Compile(cfg.InferenceRules, cfg.Maps, a.log)
	if err != nil {
		a.log.Error("rule compile failed, keeping previous rules", "error", err)
		return
	}
	a.proc.UpdateRules(engine)
	a.log.Info("inference rules reloaded", "rules", len(cfg.InferenceRules))
}

// acquireLock takes the single-instance lock under the metadata
// directory so two daemons never share a sidecar store.
func (a *App) acquireLock() error {
	if err := os.MkdirAll(a.cfg.MetadataDir, 0o755); err != nil {
		return werrors.New(werrors.ErrCodeSidecarWrite, "create metadata directory", err)
	}

	a.lock = flock.New(filepath.Join(a.cfg.MetadataDir, ".lock"))
	locked, err := a.lock.TryLock()
	if err != nil {
		return werrors.New(werrors.ErrCodeLockHeld, "acquire metadata lock", err)
	}
	if !locked {
		return werrors.New(werrors.ErrCodeLockHeld,
			fmt.Sprintf("metadata directory %s is locked by another instance", a.cfg.MetadataDir), nil)
	}
	return nil
}
