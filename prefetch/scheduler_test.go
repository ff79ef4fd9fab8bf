package prefetch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/prefetch-proxy/metrics"
)

// blockingWarm records every call and blocks until release is closed.
type blockingWarm struct {
	release chan struct{}
	started chan string
	running atomic.Int32
	max     atomic.Int32
	mu      sync.Mutex
	calls   []string
}

func newBlockingWarm() *blockingWarm {
	return &blockingWarm{
		release: make(chan struct{}),
		started: make(chan string, 100),
	}
}

func (b *blockingWarm) warm(ctx context.Context, url string) error {
	n := b.running.Add(1)
	defer b.running.Add(-1)
	for {
		m := b.max.Load()
		if n <= m || b.max.CompareAndSwap(m, n) {
			break
		}
	}
	b.mu.Lock()
	b.calls = append(b.calls, url)
	b.mu.Unlock()
	b.started <- url
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestScheduler(t *testing.T, warm WarmFunc, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop()), WithMetrics(metrics.NopPrefetchMetrics())}, opts...)
	s, err := NewScheduler(warm, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitStarted(t *testing.T, b *blockingWarm, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-b.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("Only %d of %d tasks started", i, n)
		}
	}
}

func TestBoundedConcurrency(t *testing.T) {
	b := newBlockingWarm()
	s := newTestScheduler(t, b.warm, WithWorkers(2), WithQueueSize(10))

	for i := 0; i < 6; i++ {
		require.True(t, s.Enqueue(fmt.Sprintf("http://ex.com/%d", i)))
	}
	waitStarted(t, b, 2)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 2, b.running.Load())

	close(b.release)
	waitStarted(t, b, 4)
	require.Eventually(t, func() bool { return s.Stats().Completed == 6 }, 2*time.Second, 10*time.Millisecond)
	require.LessOrEqual(t, b.max.Load(), int32(2))
}

func TestQueueFullIsCounted(t *testing.T) {
	b := newBlockingWarm()
	s := newTestScheduler(t, b.warm, WithWorkers(1), WithQueueSize(1))

	require.True(t, s.Enqueue("http://ex.com/1"))
	waitStarted(t, b, 1)
	require.True(t, s.Enqueue("http://ex.com/2"))
	require.False(t, s.Enqueue("http://ex.com/3"))
	require.False(t, s.Enqueue("http://ex.com/4"))

	stats := s.Stats()
	require.EqualValues(t, 2, stats.Enqueued)
	require.EqualValues(t, 2, stats.Dropped)
	require.EqualValues(t, 2, stats.DroppedBy[metrics.DropQueueFull])
	require.Equal(t, 1, stats.Queued)
	close(b.release)
}

func TestDuplicateAndRecent(t *testing.T) {
	b := newBlockingWarm()
	s := newTestScheduler(t, b.warm, WithWorkers(1), WithRecent(16, time.Minute))

	require.True(t, s.Enqueue("http://ex.com/a"))
	require.False(t, s.Enqueue("http://ex.com/a"))
	waitStarted(t, b, 1)
	require.False(t, s.Enqueue("http://ex.com/a"))

	close(b.release)
	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, 2*time.Second, 10*time.Millisecond)
	require.False(t, s.Enqueue("http://ex.com/a"))

	stats := s.Stats()
	require.EqualValues(t, 2, stats.DroppedBy[metrics.DropDuplicate])
	require.EqualValues(t, 1, stats.DroppedBy[metrics.DropRecent])
}

func TestWithoutRecentRefetches(t *testing.T) {
	var calls atomic.Int32
	warm := func(ctx context.Context, url string) error {
		calls.Add(1)
		return nil
	}
	s := newTestScheduler(t, warm, WithRecent(0, 0))

	require.True(t, s.Enqueue("http://ex.com/a"))
	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, 2*time.Second, 10*time.Millisecond)
	require.True(t, s.Enqueue("http://ex.com/a"))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestHostRate(t *testing.T) {
	b := newBlockingWarm()
	s := newTestScheduler(t, b.warm, WithHostRate("1-M"))

	require.True(t, s.Enqueue("http://ex.com/a"))
	require.False(t, s.Enqueue("http://ex.com/b"))
	require.True(t, s.Enqueue("http://other.com/b"))
	require.EqualValues(t, 1, s.Stats().DroppedBy[metrics.DropRateLimited])
	close(b.release)
}

func TestCloseReleasesHostLimiter(t *testing.T) {
	s := newTestScheduler(t, func(context.Context, string) error { return nil }, WithHostRate("10-S"))
	require.NotNil(t, s.limiter)

	s.Close()
	require.Nil(t, s.limiter)
	require.False(t, s.Enqueue("http://ex.com/a"))
	require.EqualValues(t, 1, s.Stats().DroppedBy[metrics.DropClosed])
}

func TestInvalidHostRate(t *testing.T) {
	_, err := NewScheduler(func(context.Context, string) error { return nil }, WithHostRate("fast"))
	require.Error(t, err)
}

func TestSchedule(t *testing.T) {
	b := newBlockingWarm()
	s := newTestScheduler(t, b.warm, WithWorkers(1), WithQueueSize(10))

	html := `<link href="/a.css"><img src="b.png"><a href="https://secure.com/">x</a><a href="#">top</a><script src="/a.css"></script>`
	require.Equal(t, 2, s.Schedule("http://ex.com/dir/index.html", []byte(html)))

	close(b.release)
	require.Eventually(t, func() bool { return s.Stats().Completed == 2 }, 2*time.Second, 10*time.Millisecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	require.ElementsMatch(t, []string{"http://ex.com/a.css", "http://ex.com/dir/b.png"}, b.calls)
	require.EqualValues(t, 1, s.Stats().DroppedBy[metrics.DropScheme])
}

func TestTimeoutFailsTask(t *testing.T) {
	b := newBlockingWarm()
	s := newTestScheduler(t, b.warm, WithTimeout(50*time.Millisecond))

	require.True(t, s.Enqueue("http://ex.com/slow"))
	require.Eventually(t, func() bool { return s.Stats().Failed == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseCancelsInFlight(t *testing.T) {
	b := newBlockingWarm()
	s, err := NewScheduler(b.warm, WithLogger(zerolog.Nop()), WithWorkers(1), WithTimeout(0))
	require.NoError(t, err)

	require.True(t, s.Enqueue("http://ex.com/a"))
	require.True(t, s.Enqueue("http://ex.com/b"))
	waitStarted(t, b, 1)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	require.False(t, s.Enqueue("http://ex.com/c"))
	stats := s.Stats()
	require.EqualValues(t, 1, stats.Failed)
	require.EqualValues(t, 1, stats.DroppedBy[metrics.DropClosed])
	s.Close()
}
