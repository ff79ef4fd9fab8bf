package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/always-cache/prefetch-proxy/metrics"
	proxyerror "github.com/always-cache/prefetch-proxy/pkg/proxy-error"
	serializer "github.com/always-cache/prefetch-proxy/pkg/response-serializer"
)

// ErrNotFound is returned by Store.Read when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

const lockStripes = 64

// Store reads and writes stamped responses through a CacheProvider.
// Writes to one key are serialized; reads take no lock.
type Store struct {
	provider CacheProvider
	locks    [lockStripes]sync.Mutex
	now      func() time.Time
	metrics  *metrics.CacheMetrics
}

type StoreOption func(*Store)

// WithClock replaces the time source used for cache-timestamp.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func WithMetrics(m *metrics.CacheMetrics) StoreOption {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewStore(provider CacheProvider, opts ...StoreOption) *Store {
	s := &Store{
		provider: provider,
		now:      time.Now,
		metrics:  metrics.Cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Provider() CacheProvider {
	return s.provider
}

func (s *Store) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

// Read returns the entry stored under key.
// Entries without a head/body separator or with a malformed timestamp are
// reported as storage errors.
func (s *Store) Read(key string) (serializer.CachedResponse, error) {
	raw, ok, err := s.provider.Get(key)
	if err != nil {
		return serializer.CachedResponse{}, proxyerror.Wrap(proxyerror.KindStorage, "read "+key, err)
	}
	if !ok {
		return serializer.CachedResponse{}, ErrNotFound
	}
	cr, err := serializer.BytesToCachedResponse(key, raw)
	if err != nil {
		return serializer.CachedResponse{}, proxyerror.Wrap(proxyerror.KindStorage, "decode "+key, err)
	}
	return cr, nil
}

// HeadersOf returns the header fields stored under key.
// Any failure yields an empty header.
func (s *Store) HeadersOf(key string) serializer.Header {
	raw, ok, err := s.provider.Get(key)
	if err != nil || !ok {
		return serializer.Header{}
	}
	return serializer.HeaderFromBytes(raw)
}

// Write stamps raw with the current time and stores it under key.
// Bytes without a head/body separator are stored as they are.
func (s *Store) Write(key string, raw []byte) error {
	storedAt := s.now()
	stamped := serializer.Stamp(raw, storedAt)

	mu := s.lock(key)
	mu.Lock()
	err := s.provider.Put(key, storedAt, stamped)
	mu.Unlock()

	if err != nil {
		s.metrics.WriteErrorsTotal.Add(1)
		return proxyerror.Wrap(proxyerror.KindStorage, "write "+key, err)
	}
	s.metrics.AddWrite(len(stamped))
	return nil
}

func (s *Store) Has(key string) bool {
	return s.provider.Has(key)
}

func (s *Store) Purge(key string) error {
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()
	if err := s.provider.Purge(key); err != nil {
		return proxyerror.Wrap(proxyerror.KindStorage, "purge "+key, err)
	}
	s.metrics.PurgesTotal.Add(1)
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.provider.AllKeys("", func(string) { n++ })
	if err != nil {
		return 0, proxyerror.Wrap(proxyerror.KindStorage, "list keys", err)
	}
	return n, nil
}
