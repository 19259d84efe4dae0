package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder captures handler invocations in completion order.
type recorder struct {
	mu    sync.Mutex
	calls []Event
}

func (r *recorder) handler(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.calls = append(r.calls, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.calls...)
}

func TestQueue_DebounceCoalescingAndPriority(t *testing.T) {
	// Given: debounce 50ms, concurrency 1
	q := New(Config{DebounceWindow: 50 * time.Millisecond, Concurrency: 1}, discardLogger())
	defer q.Stop()
	q.Start()

	rec := &recorder{}

	// When: three bursts for (normal, /x) inside one window, plus one
	// (low, /y)
	q.Enqueue(Event{Path: "/x", Priority: PriorityNormal, Kind: "t0"}, rec.handler)
	q.Enqueue(Event{Path: "/y", Priority: PriorityLow, Kind: "y"}, rec.handler)
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(Event{Path: "/x", Priority: PriorityNormal, Kind: "t10"}, rec.handler)
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(Event{Path: "/x", Priority: PriorityNormal, Kind: "t20"}, rec.handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	// Then: exactly one /x invocation carrying the last tag, then /y
	calls := rec.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "/x", calls[0].Path)
	assert.Equal(t, "t20", calls[0].Kind)
	assert.Equal(t, "/y", calls[1].Path)
}

func TestQueue_SupersededDebounceWindowDoesNotRelease(t *testing.T) {
	// Given: two coalescing enqueues under one key, window still open
	q := New(Config{DebounceWindow: time.Hour, Concurrency: 1}, discardLogger())
	defer q.Stop()
	q.Start()

	rec := &recorder{}
	q.Enqueue(Event{Path: "/x", Priority: PriorityNormal, Kind: "first"}, rec.handler)
	q.Enqueue(Event{Path: "/x", Priority: PriorityNormal, Kind: "second"}, rec.handler)

	// When: the first window's timer fires after losing the Stop race
	k := key{priority: PriorityNormal, path: "/x"}
	q.flush(k, 1)

	// Then: the replacement entry stays debounced
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, 1, q.Stats().Pending)

	// And: the current window releases it normally
	q.flush(k, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "second", calls[0].Kind)
}

func TestQueue_NormalDrainsBeforeLow(t *testing.T) {
	q := New(Config{Concurrency: 1}, discardLogger())
	defer q.Stop()

	rec := &recorder{}
	q.Enqueue(Event{Path: "/low-1", Priority: PriorityLow}, rec.handler)
	q.Enqueue(Event{Path: "/low-2", Priority: PriorityLow}, rec.handler)
	q.Enqueue(Event{Path: "/normal", Priority: PriorityNormal}, rec.handler)

	// Let all debounce timers fire before dispatch begins.
	time.Sleep(20 * time.Millisecond)
	q.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	calls := rec.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "/normal", calls[0].Path)
}

func TestQueue_EnqueueBeforeStartWaits(t *testing.T) {
	q := New(Config{Concurrency: 1}, discardLogger())
	defer q.Stop()

	var count atomic.Int32
	q.Enqueue(Event{Path: "/a"}, func(context.Context, Event) error {
		count.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())

	q.Start()
	assert.Eventually(t, func() bool { return count.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	q := New(Config{Concurrency: 2}, discardLogger())
	defer q.Stop()
	q.Start()

	var running, peak atomic.Int32
	release := make(chan struct{})
	handler := func(context.Context, Event) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}

	for _, p := range []string{"/1", "/2", "/3", "/4"} {
		q.Enqueue(Event{Path: p}, handler)
	}

	assert.Eventually(t, func() bool { return running.Load() == 2 },
		2*time.Second, 5*time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, int32(2), peak.Load())
}

func TestQueue_RateLimitAdmitsOneThenPaces(t *testing.T) {
	// Given: 60/min (one token per second), concurrency 4
	q := New(Config{Concurrency: 4, RatePerMinute: 60}, discardLogger())
	defer q.Stop()
	q.Start()

	var done atomic.Int32
	for _, p := range []string{"/1", "/2", "/3", "/4"} {
		q.Enqueue(Event{Path: p}, func(context.Context, Event) error {
			done.Add(1)
			return nil
		})
	}

	// Then: the initial token admits exactly one handler quickly
	assert.Eventually(t, func() bool { return done.Load() == 1 },
		time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), done.Load())

	// And the rest are paced at roughly one per second
	assert.Eventually(t, func() bool { return done.Load() == 4 },
		10*time.Second, 50*time.Millisecond)
}

func TestQueue_DrainIdleInvariant(t *testing.T) {
	q := New(Config{DebounceWindow: 20 * time.Millisecond, Concurrency: 3}, discardLogger())
	defer q.Stop()
	q.Start()

	for _, p := range []string{"/a", "/b", "/c", "/d", "/e"} {
		q.Enqueue(Event{Path: p}, func(context.Context, Event) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	stats := q.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Pending)
}

func TestQueue_DrainOnIdleQueueReturnsImmediately(t *testing.T) {
	q := New(Config{Concurrency: 1}, discardLogger())
	defer q.Stop()
	q.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, q.Drain(ctx))
}

func TestQueue_HandlerErrorDoesNotStopDispatch(t *testing.T) {
	q := New(Config{Concurrency: 1}, discardLogger())
	defer q.Stop()
	q.Start()

	var count atomic.Int32
	q.Enqueue(Event{Path: "/fails"}, func(context.Context, Event) error {
		count.Add(1)
		return assert.AnError
	})
	q.Enqueue(Event{Path: "/after"}, func(context.Context, Event) error {
		count.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, int32(2), count.Load())
}

func TestQueue_PanickingHandlerIsContained(t *testing.T) {
	q := New(Config{Concurrency: 1}, discardLogger())
	defer q.Stop()
	q.Start()

	var after atomic.Bool
	q.Enqueue(Event{Path: "/boom"}, func(context.Context, Event) error {
		panic("boom")
	})
	q.Enqueue(Event{Path: "/next"}, func(context.Context, Event) error {
		after.Store(true)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.True(t, after.Load())
}

func TestQueue_EnqueueAfterStopIsDropped(t *testing.T) {
	q := New(Config{Concurrency: 1}, discardLogger())
	q.Start()
	q.Stop()

	var count atomic.Int32
	q.Enqueue(Event{Path: "/late"}, func(context.Context, Event) error {
		count.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
}
