// Package prefetchproxy is a caching forward HTTP proxy that warms its cache
// with the resources linked from the HTML pages it serves.
package prefetchproxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/always-cache/prefetch-proxy/cache"
	"github.com/always-cache/prefetch-proxy/freshness"
	"github.com/always-cache/prefetch-proxy/metrics"
	"github.com/always-cache/prefetch-proxy/prefetch"
	cachekey "github.com/always-cache/prefetch-proxy/pkg/cache-key"
	fetcher "github.com/always-cache/prefetch-proxy/pkg/origin-fetcher"
	proxyerror "github.com/always-cache/prefetch-proxy/pkg/proxy-error"
	target "github.com/always-cache/prefetch-proxy/pkg/request-target"
	serializer "github.com/always-cache/prefetch-proxy/pkg/response-serializer"
)

type PrefetchProxy struct {
	config    Config
	store     *cache.Store
	origin    *fetcher.Fetcher
	prefetch  *fetcher.Fetcher
	scheduler *prefetch.Scheduler
	flights   singleflight.Group
	conns     *semaphore.Weighted
	handlers  sync.WaitGroup
	log       zerolog.Logger
	metrics   *metrics.ProxyMetrics
	now       func() time.Time
}

// Stats is a snapshot of the proxy state for the admin endpoint.
type Stats struct {
	Entries  int             `json:"entries"`
	Prefetch *prefetch.Stats `json:"prefetch,omitempty"`
}

type prefetchJob struct {
	base string
	html []byte
}

var openCache = Config.OpenCache

// CreateProxy sets up the cache store, the origin fetchers and, if enabled,
// the prefetch workers.
func CreateProxy(config Config) (*PrefetchProxy, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	provider := config.Cache
	if provider == nil {
		var err error
		if provider, err = openCache(config); err != nil {
			return nil, proxyerror.Wrap(proxyerror.KindStorage, "open cache", err)
		}
	}
	// providers passed in config belong to the caller
	closeOpened := func() {
		if closer, ok := provider.(io.Closer); ok && config.Cache == nil {
			closer.Close()
		}
	}

	p := &PrefetchProxy{
		config:  config,
		store:   cache.NewStore(provider),
		origin:  fetcher.New(fetcher.WithBufferSize(config.BufferSize), fetcher.WithTimeout(config.OriginTimeout)),
		log:     logger,
		metrics: metrics.Proxy,
		now:     time.Now,
	}
	if config.MaxConnections > 0 {
		p.conns = semaphore.NewWeighted(config.MaxConnections)
	}

	if config.Prefetch.Enabled {
		p.prefetch = fetcher.New(fetcher.WithBufferSize(config.BufferSize), fetcher.WithTimeout(config.Prefetch.Timeout))
		scheduler, err := prefetch.NewScheduler(p.Warm,
			prefetch.WithWorkers(config.Prefetch.Workers),
			prefetch.WithQueueSize(config.Prefetch.QueueSize),
			prefetch.WithTimeout(config.Prefetch.Timeout),
			prefetch.WithRecent(config.Prefetch.RecentSize, config.Prefetch.RecentTTL),
			prefetch.WithHostRate(config.Prefetch.HostRate),
			prefetch.WithLogger(logger.With().Str("component", "prefetch").Logger()),
		)
		if err != nil {
			closeOpened()
			return nil, err
		}
		p.scheduler = scheduler
	}

	return p, nil
}

func (p *PrefetchProxy) Store() *cache.Store {
	return p.store
}

// ListenAndServe listens on addr and serves until ctx is done.
func (p *PrefetchProxy) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	p.log.Info().Str("addr", ln.Addr().String()).Msg("Proxy server running")
	return p.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, handling each in its
// own goroutine. A failing connection never stops the loop.
// It returns after the handlers of accepted connections have finished.
func (p *PrefetchProxy) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()
	defer p.handlers.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			p.log.Error().Err(err).Msg("Could not accept connection")
			continue
		}

		if p.conns != nil {
			if err := p.conns.Acquire(ctx, 1); err != nil {
				conn.Close()
				return nil
			}
		}
		p.handlers.Add(1)
		go func() {
			defer p.handlers.Done()
			if p.conns != nil {
				defer p.conns.Release(1)
			}
			p.HandleConn(ctx, conn)
		}()
	}
}

// HandleConn serves a single request on conn and closes it.
// Errors are logged, never returned: the client just sees the connection close.
func (p *PrefetchProxy) HandleConn(ctx context.Context, conn net.Conn) {
	log := p.log.With().
		Str("conn", xid.New().String()).
		Str("client", conn.RemoteAddr().String()).
		Logger()
	log.Trace().Msg("Received connection")

	p.metrics.OpenConnections.Add(1)
	defer p.metrics.OpenConnections.Add(-1)

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	job, err := p.handle(ctx, conn, &log)
	stop()
	conn.Close()

	if err != nil {
		kind := proxyerror.KindOf(err)
		p.metrics.AddRequest(metrics.ResultError)
		p.metrics.AddError(string(kind))
		log.Error().Err(err).Str("kind", string(kind)).Msg("Error handling request")
		return
	}
	if job != nil && p.scheduler != nil {
		p.scheduler.Schedule(job.base, job.html)
	}
}

func (p *PrefetchProxy) handle(ctx context.Context, conn net.Conn, log *zerolog.Logger) (*prefetchJob, error) {
	buf := make([]byte, p.config.BufferSize)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, proxyerror.Wrap(proxyerror.KindConnect, "read request", err)
	}
	request := buf[:n]

	requestLine, err := target.ParseRequestLine(request)
	if err != nil {
		return nil, err
	}
	url := target.StripScheme(requestLine.Target)
	// origin-form targets name no host
	if len(url) > 0 && url[0] == '/' {
		host := hostHeader(request)
		if host == "" {
			return nil, proxyerror.New(proxyerror.KindParse, "resolve target", "no host for "+requestLine.Target)
		}
		url = host + url
	}
	rt := target.Parse(url)
	if rt.Host == "" {
		return nil, proxyerror.New(proxyerror.KindParse, "resolve target", "no host in "+requestLine.Target)
	}
	if rt.CustomPort() {
		log.Debug().Int("port", rt.Port).Msg("Custom port detected")
	}

	key := cachekey.GetKey(url)
	l := log.With().Str("key", key).Logger()
	log = &l

	cs := CacheStatus{}
	stored, err := p.store.Read(key)
	switch {
	case err == nil && freshness.IsValid(stored.Header, p.now()):
		cs.Hit()
		log.Debug().Str("url", rt.URL()).Msg("Using valid cache")
		if _, err := conn.Write(stored.Raw); err != nil {
			return nil, proxyerror.Wrap(proxyerror.KindConnect, "write response", err)
		}
		p.logRequest(log, requestLine, rt, cs)
		p.metrics.AddRequest(metrics.ResultHit)
		if stored.IsHTML() {
			return &prefetchJob{base: rt.URL(), html: stored.Body}, nil
		}
		return nil, nil
	case err == nil:
		cs.Forward(CacheStatusFwdStale)
	case errors.Is(err, cache.ErrNotFound):
		cs.Forward(CacheStatusFwdUriMiss)
	default:
		log.Warn().Err(err).Msg("Could not read cache entry, treating as miss")
		cs.Forward(CacheStatusFwdMiss)
	}

	forwarded := rewriteRequest(request, rt.Path)
	response, shared, err := p.fetchAndStore(ctx, key, log, true, func(ctx context.Context) ([]byte, error) {
		return p.origin.Forward(ctx, rt, forwarded)
	})
	if err != nil {
		return nil, err
	}
	cs.Collapsed = shared
	cs.Stored = true

	if _, err := conn.Write(response); err != nil {
		return nil, proxyerror.Wrap(proxyerror.KindConnect, "write response", err)
	}
	p.logRequest(log, requestLine, rt, cs)
	if shared {
		p.metrics.AddRequest(metrics.ResultCoalesce)
	} else {
		p.metrics.AddRequest(metrics.ResultMiss)
	}

	if head, body, ok := serializer.Split(response); ok && serializer.HeadIsHTML(head) {
		return &prefetchJob{base: rt.URL(), html: body}, nil
	}
	return nil, nil
}

// fetchAndStore runs fetch and stores its result, unless a fetch for the
// same key is already in flight, in which case it waits for that one.
// shared reports whether the response came from another caller's fetch.
//
// The fetch outlives the caller that started it: each caller stops waiting
// when its own ctx is done, and the fetch is bounded only by the timeout of
// the fetcher it runs on. A timeout of a fetch started by another caller is
// not the waiting caller's, so it fetches again when retryForeign is set.
func (p *PrefetchProxy) fetchAndStore(ctx context.Context, key string, log *zerolog.Logger, retryForeign bool, fetch func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	for {
		// written by the flight goroutine, read after its result is received
		led := false
		ch := p.flights.DoChan(key, func() (interface{}, error) {
			led = true
			begin := time.Now()
			response, err := fetch(context.WithoutCancel(ctx))
			p.metrics.ObserveOriginFetch(begin)
			if err != nil {
				return nil, err
			}
			if len(response) == 0 {
				return nil, proxyerror.New(proxyerror.KindConnect, "receive response", "origin closed without responding")
			}
			if err := p.store.Write(key, response); err != nil {
				log.Error().Err(err).Msg("Could not write to cache")
			} else {
				log.Trace().Int("bytes", len(response)).Msg("Wrote to cache")
			}
			return response, nil
		})

		select {
		case <-ctx.Done():
			kind := proxyerror.KindConnect
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = proxyerror.KindTimeout
			}
			return nil, false, proxyerror.Wrap(kind, "wait for origin", ctx.Err())
		case res := <-ch:
			if res.Err == nil {
				return res.Val.([]byte), res.Shared && !led, nil
			}
			if retryForeign && !led && proxyerror.Is(res.Err, proxyerror.KindTimeout) {
				log.Debug().Err(res.Err).Msg("Shared fetch timed out, fetching again")
				continue
			}
			return nil, res.Shared && !led, res.Err
		}
	}
}

// Warm fetches url into the cache unless a fresh entry is already stored.
// It is what the prefetch workers run for every linked resource.
func (p *PrefetchProxy) Warm(ctx context.Context, url string) error {
	rt, err := target.FromURL(url)
	if err != nil {
		return err
	}
	key := cachekey.GetKey(target.StripScheme(url))
	log := p.log.With().Str("url", url).Str("key", key).Logger()

	if stored, err := p.store.Read(key); err == nil && freshness.IsValid(stored.Header, p.now()) {
		log.Trace().Msg("Skipping prefetch of fresh entry")
		return nil
	}

	origin := p.prefetch
	if origin == nil {
		origin = p.origin
	}
	_, _, err = p.fetchAndStore(ctx, key, &log, false, func(ctx context.Context) ([]byte, error) {
		return origin.Get(ctx, rt)
	})
	return err
}

// Purge removes the entry for a request target such as "http://ex.com/a".
func (p *PrefetchProxy) Purge(url string) error {
	key := cachekey.GetKey(target.StripScheme(url))
	p.log.Debug().Str("key", key).Msg("Purging cache entry")
	return p.store.Purge(key)
}

func (p *PrefetchProxy) Stats() (Stats, error) {
	entries, err := p.store.Count()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Entries: entries}
	if p.scheduler != nil {
		s := p.scheduler.Stats()
		stats.Prefetch = &s
	}
	return stats, nil
}

// Close stops the prefetch workers and releases the cache provider.
// Queued prefetches are abandoned.
func (p *PrefetchProxy) Close() error {
	if p.scheduler != nil {
		p.scheduler.Close()
	}
	if closer, ok := p.store.Provider().(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (p *PrefetchProxy) logRequest(log *zerolog.Logger, rl target.RequestLine, rt target.RequestTarget, cs CacheStatus) {
	isHit := 0
	if cs.Status == CacheStatusHit {
		isHit = 1
	}
	log.Debug().
		Str("method", rl.Method).
		Str("url", rt.URL()).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("collapsed", cs.Collapsed).
		Bool("stored", cs.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}
