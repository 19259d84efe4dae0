// Package queue implements the debounced, prioritized, rate-limited
// event queue that feeds the document processor.
//
// Events are coalesced per (priority, path) inside a debounce window:
// only the latest survives. Debounced entries move into one of two
// FIFO lanes (normal drains before low), and dispatch is bounded by a
// concurrency limit and an optional events-per-minute token bucket.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	werrors "github.com/karmaniverous/jeeves-watcher/internal/errors"
)

// Priority orders dispatch: all pending normal entries run before any
// low entry within a scheduling pass.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
)

func (p Priority) String() string {
	if p == PriorityLow {
		return "low"
	}
	return "normal"
}

// Event is one unit of work keyed by path.
type Event struct {
	Path     string
	Priority Priority
	Kind     string // create, modify, delete
}

// Handler processes one debounced event.
type Handler func(ctx context.Context, ev Event) error

// Config tunes the queue.
type Config struct {
	// DebounceWindow coalesces bursts per (priority, path).
	DebounceWindow time.Duration

	// Concurrency bounds simultaneously running handlers. Minimum 1.
	Concurrency int

	// RatePerMinute caps handler starts per minute. 0 disables.
	RatePerMinute int
}

// rateRetryDelay is how long a rate-starved scheduling pass parks
// before trying again.
const rateRetryDelay = 250 * time.Millisecond

type key struct {
	priority Priority
	path     string
}

type entry struct {
	event   Event
	handler Handler
	gen     uint64
}

// Queue is safe for concurrent use. Enqueue before Start is legal;
// events wait until Start switches the queue to dispatching.
type Queue struct {
	cfg Config
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	started    bool
	closed     bool
	gen        uint64
	latest     map[key]*entry
	timers     map[key]*time.Timer
	normal     []*entry
	low        []*entry
	active     int
	tokens     float64
	lastRefill time.Time
	retryTimer *time.Timer
	waiters    []chan struct{}
}

// Stats is a point-in-time snapshot for status reporting.
type Stats struct {
	Pending int `json:"pending"`
	Active  int `json:"active"`
}

// New builds a stopped queue.
func New(cfg Config, log *slog.Logger) *Queue {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		latest: make(map[key]*entry),
		timers: make(map[key]*time.Timer),
		// One token up front: a cold queue admits a single handler
		// immediately, then paces at the configured rate.
		tokens:     1,
		lastRefill: time.Now(),
	}
}

// Enqueue coalesces the event under its (priority, path) key and
// restarts the debounce timer. Earlier events under the same key are
// discarded silently.
func (q *Queue) Enqueue(ev Event, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	q.gen++
	k := key{priority: ev.Priority, path: ev.Path}
	e := &entry{event: ev, handler: handler, gen: q.gen}
	q.latest[k] = e

	if t, ok := q.timers[k]; ok {
		t.Stop()
	}
	gen := e.gen
	q.timers[k] = time.AfterFunc(q.cfg.DebounceWindow, func() {
		q.flush(k, gen)
	})
}

// flush moves a debounced entry into its priority lane. The generation
// guard drops a timer that lost a Stop race with a coalescing Enqueue,
// so a superseded window never releases the replacement entry early.
func (q *Queue) flush(k key, gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.latest[k]
	if !ok || e.gen != gen {
		return
	}
	delete(q.latest, k)
	delete(q.timers, k)

	if k.priority == PriorityLow {
		q.low = append(q.low, e)
	} else {
		q.normal = append(q.normal, e)
	}
	q.dispatchLocked()
}

// Start switches the queue from accept-only to accept-and-dispatch.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = true
	q.dispatchLocked()
}

// dispatchLocked is the scheduling pass: launch handlers while there
// is capacity and work, parking when the token bucket runs dry.
func (q *Queue) dispatchLocked() {
	if !q.started || q.closed {
		return
	}

	for q.active < q.cfg.Concurrency {
		var lane *[]*entry
		switch {
		case len(q.normal) > 0:
			lane = &q.normal
		case len(q.low) > 0 && !q.normalDebouncingLocked():
			// Low waits while normal entries are still debouncing so
			// normal work drains first within the pass.
			lane = &q.low
		default:
			return
		}

		e := (*lane)[0]
		*lane = (*lane)[1:]

		if q.cfg.RatePerMinute > 0 && !q.takeTokenLocked() {
			// Out of tokens: put the entry back at the front of its
			// lane and revisit after a short park.
			*lane = append([]*entry{e}, *lane...)
			q.scheduleRetryLocked()
			return
		}

		q.active++
		q.wg.Add(1)
		go q.run(e)
	}
}

func (q *Queue) normalDebouncingLocked() bool {
	for k := range q.latest {
		if k.priority == PriorityNormal {
			return true
		}
	}
	return false
}

// takeTokenLocked refills the bucket from elapsed time and consumes
// one token when available.
func (q *Queue) takeTokenLocked() bool {
	capacity := float64(q.cfg.RatePerMinute)
	now := time.Now()
	elapsed := now.Sub(q.lastRefill)
	q.lastRefill = now

	q.tokens += float64(elapsed.Milliseconds()) * capacity / 60000
	if q.tokens > capacity {
		q.tokens = capacity
	}

	if q.tokens < 1 {
		return false
	}
	q.tokens--
	return true
}

func (q *Queue) scheduleRetryLocked() {
	if q.retryTimer != nil {
		return
	}
	q.retryTimer = time.AfterFunc(rateRetryDelay, func() {
		q.mu.Lock()
		q.retryTimer = nil
		q.dispatchLocked()
		q.mu.Unlock()
	})
}

func (q *Queue) run(e *entry) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue handler panicked",
				"path", e.event.Path, "error", werrors.Normalize(r))
		}
		q.mu.Lock()
		q.active--
		q.notifyIfIdleLocked()
		q.dispatchLocked()
		q.mu.Unlock()
	}()

	if err := e.handler(q.ctx, e.event); err != nil {
		q.log.Warn("queue handler failed",
			"path", e.event.Path, "priority", e.event.Priority.String(), "error", err)
	}
}

// idleLocked holds when nothing is running, queued, or debouncing.
func (q *Queue) idleLocked() bool {
	return q.active == 0 &&
		len(q.normal) == 0 &&
		len(q.low) == 0 &&
		len(q.latest) == 0
}

func (q *Queue) notifyIfIdleLocked() {
	if !q.idleLocked() {
		return
	}
	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
}

// Drain blocks until the queue is idle: no active handlers, empty
// lanes, and no pending debounce timers.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.idleLocked() {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports queue depth across both lanes plus debouncing
// entries, and the number of running handlers.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending: len(q.normal) + len(q.low) + len(q.latest),
		Active:  q.active,
	}
}

// Stop rejects further events, cancels in-flight handler contexts,
// and waits for running handlers to return. Pending debounced and
// queued entries are discarded; call Drain first for a clean flush.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, t := range q.timers {
		t.Stop()
	}
	q.timers = make(map[key]*time.Timer)
	q.latest = make(map[key]*entry)
	q.normal = nil
	q.low = nil
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}
