// Package prefetch warms the cache with the resources an HTML page links to.
//
// A Scheduler owns a fixed set of workers reading from a fixed-capacity queue.
// Tasks that cannot be queued are dropped and counted by reason.
package prefetch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/always-cache/prefetch-proxy/metrics"
	links "github.com/always-cache/prefetch-proxy/pkg/link-extractor"
	target "github.com/always-cache/prefetch-proxy/pkg/request-target"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
	DefaultTimeout   = 5 * time.Second

	limiterCleanUpInterval = time.Minute
)

// WarmFunc fetches url and stores the response.
type WarmFunc func(ctx context.Context, url string) error

type Stats struct {
	Enqueued  int64            `json:"enqueued"`
	Dropped   int64            `json:"dropped"`
	Completed int64            `json:"completed"`
	Failed    int64            `json:"failed"`
	Queued    int              `json:"queued"`
	DroppedBy map[string]int64 `json:"droppedBy"`
}

type Scheduler struct {
	warm    WarmFunc
	workers int
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.PrefetchMetrics

	recentSize int
	recentTTL  time.Duration
	recent     *expirable.LRU[string, struct{}]
	hostRate   string
	limiter    *limiter.Limiter

	queue   chan string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[string]struct{}
	reasons map[string]int64
	closed  bool

	enqueued  atomic.Int64
	dropped   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

type Option func(*Scheduler)

func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queue = make(chan string, n)
		}
	}
}

// WithTimeout bounds each task. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.log = logger
	}
}

func WithMetrics(m *metrics.PrefetchMetrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRecent skips URLs that were prefetched less than ttl ago.
// At most size URLs are remembered; size 0 disables the check.
func WithRecent(size int, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.recentSize = size
		s.recentTTL = ttl
	}
}

// WithHostRate limits prefetches per origin host.
// The rate uses the limiter format, e.g. "20-S" or "1000-H".
func WithHostRate(rate string) Option {
	return func(s *Scheduler) {
		s.hostRate = rate
	}
}

// NewScheduler starts the workers. Close must be called to stop them.
func NewScheduler(warm WarmFunc, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		warm:    warm,
		workers: DefaultWorkers,
		timeout: DefaultTimeout,
		log:     zerolog.New(zerolog.NewConsoleWriter()),
		metrics: metrics.Prefetch,
		queue:   make(chan string, DefaultQueueSize),
		pending: make(map[string]struct{}),
		reasons: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.hostRate != "" {
		rate, err := limiter.NewRateFromFormatted(s.hostRate)
		if err != nil {
			return nil, err
		}
		// the store's cleaner goroutine stops once Close drops the limiter
		store := memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          "prefetch",
			CleanUpInterval: limiterCleanUpInterval,
		})
		s.limiter = limiter.New(store, rate)
	}
	if s.recentSize > 0 {
		s.recent = expirable.NewLRU[string, struct{}](s.recentSize, nil, s.recentTTL)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	s.log.Debug().
		Int("workers", s.workers).
		Int("queue", cap(s.queue)).
		Msg("Started prefetch scheduler")
	return s, nil
}

// Schedule queues a prefetch for every resource linked from html.
// It returns the number of queued tasks.
func (s *Scheduler) Schedule(baseURL string, html []byte) int {
	urls := links.ResolveAll(baseURL, html)
	s.log.Debug().Str("base", baseURL).Msgf("Found %d resources to prefetch", len(urls))
	queued := 0
	for _, u := range urls {
		if s.Enqueue(u) {
			queued++
		}
	}
	return queued
}

// Enqueue queues a single absolute URL without blocking.
// It returns false when the task was dropped.
func (s *Scheduler) Enqueue(url string) bool {
	if !strings.HasPrefix(url, "http://") {
		s.log.Trace().Str("url", url).Msg("Not prefetching non-http url")
		s.drop(url, metrics.DropScheme)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.dropLocked(url, metrics.DropClosed)
		return false
	}
	if _, ok := s.pending[url]; ok {
		s.dropLocked(url, metrics.DropDuplicate)
		return false
	}
	if s.recent != nil && s.recent.Contains(url) {
		s.dropLocked(url, metrics.DropRecent)
		return false
	}
	if s.rateLimited(url) {
		s.dropLocked(url, metrics.DropRateLimited)
		return false
	}

	select {
	case s.queue <- url:
	default:
		s.dropLocked(url, metrics.DropQueueFull)
		return false
	}
	s.pending[url] = struct{}{}
	s.enqueued.Add(1)
	s.metrics.QueuedTotal.Add(1)
	s.metrics.QueueDepth.Set(float64(len(s.queue)))
	s.log.Trace().Str("url", url).Msg("Queued prefetch")
	return true
}

func (s *Scheduler) rateLimited(url string) bool {
	if s.limiter == nil {
		return false
	}
	t, err := target.FromURL(url)
	if err != nil {
		return false
	}
	lctx, err := s.limiter.Get(s.ctx, t.HostHeader())
	if err != nil {
		s.log.Error().Err(err).Str("url", url).Msg("Could not check prefetch rate")
		return false
	}
	return lctx.Reached
}

func (s *Scheduler) drop(url, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(url, reason)
}

func (s *Scheduler) dropLocked(url, reason string) {
	s.dropped.Add(1)
	s.reasons[reason]++
	s.metrics.AddDropped(reason)
	s.log.Trace().Str("url", url).Str("reason", reason).Msg("Dropped prefetch")
}

func (s *Scheduler) work() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case url := <-s.queue:
			if s.ctx.Err() != nil {
				return
			}
			s.metrics.QueueDepth.Set(float64(len(s.queue)))
			s.run(url)
		}
	}
}

func (s *Scheduler) run(url string) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.metrics.Running.Add(1)
	err := s.warm(ctx, url)
	s.metrics.Running.Add(-1)

	s.mu.Lock()
	delete(s.pending, url)
	if s.recent != nil {
		s.recent.Add(url, struct{}{})
	}
	s.mu.Unlock()

	if err != nil {
		s.failed.Add(1)
		s.metrics.FailedTotal.Add(1)
		s.log.Warn().Err(err).Str("url", url).Msg("Error prefetching")
		return
	}
	s.completed.Add(1)
	s.metrics.CompletedTotal.Add(1)
	s.log.Debug().Str("url", url).Msg("Prefetched")
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	reasons := make(map[string]int64, len(s.reasons))
	for r, n := range s.reasons {
		reasons[r] = n
	}
	return Stats{
		Enqueued:  s.enqueued.Load(),
		Dropped:   s.dropped.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Queued:    len(s.queue),
		DroppedBy: reasons,
	}
}

// Close stops accepting tasks, cancels the running ones and waits for the
// workers to exit. Tasks still queued are abandoned.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.limiter = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Debug().Int("abandoned", len(s.queue)).Msg("Stopped prefetch scheduler")
}
