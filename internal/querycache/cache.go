// Package querycache holds fetched platform resources keyed by query.
//
// Entries change in exactly two ways: Patch rewrites a cached value in
// place of a server round-trip, and Invalidate marks an entry stale so the
// next Read fetches it again.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/melih/lighthouse-console/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownKind is returned by Read for kinds with no registered fetcher.
var ErrUnknownKind = errors.New("no fetcher registered for kind")

// FetchFunc loads the value for key from the platform.
type FetchFunc func(ctx context.Context, key Key) (any, error)

// PatchFunc returns the replacement for a cached value and whether it
// differs from the old one.
type PatchFunc func(key Key, value any) (any, bool)

type entry struct {
	value   any
	stale   bool
	gen     uint64
	fetched time.Time
}

// DefaultFetchTimeout bounds a shared fetch once it no longer follows the
// caller's context.
const DefaultFetchTimeout = 30 * time.Second

// Cache is the shared query cache.
type Cache struct {
	entries      *lru.Cache
	mutex        sync.Mutex
	fetchers     map[string]FetchFunc
	group        singleflight.Group
	maxAge       time.Duration
	fetchTimeout time.Duration
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

// New creates a cache holding at most size entries. Entries older than
// maxAge are refetched on read; zero disables expiry.
func New(size int, maxAge time.Duration) (*Cache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	return &Cache{
		entries:      entries,
		fetchers:     make(map[string]FetchFunc),
		maxAge:       maxAge,
		fetchTimeout: DefaultFetchTimeout,
		logger:       log.With().Str("component", "querycache").Logger(),
		metrics:      metrics.GetMetrics(),
	}, nil
}

// Register sets the fetcher used for keys of kind.
func (c *Cache) Register(kind string, fetch FetchFunc) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.fetchers[kind] = fetch
}

// Read returns the value for key, fetching it if absent, stale or expired.
// Concurrent reads of one key share a single fetch, but a read that starts
// after an invalidation never joins a fetch that began before it. The shared
// fetch outlives any single caller's ctx; each caller stops waiting when its
// own ctx ends.
func (c *Cache) Read(ctx context.Context, key Key) (any, error) {
	c.mutex.Lock()
	var gen uint64
	if v, ok := c.entries.Get(key); ok {
		e := v.(*entry)
		if !e.stale && !c.expired(e) {
			c.mutex.Unlock()
			c.metrics.CacheOperations.WithLabelValues(key.Kind, "hit").Inc()
			return e.value, nil
		}
		gen = e.gen
	}
	fetch, ok := c.fetchers[key.Kind]
	c.mutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, key.Kind)
	}
	c.metrics.CacheOperations.WithLabelValues(key.Kind, "miss").Inc()

	flight := fmt.Sprintf("%s#%d", key, gen)
	result := c.group.DoChan(flight, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx, key, fetch, gen)
	})
	select {
	case res := <-result:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context, key Key, fetch FetchFunc, gen uint64) (any, error) {
	start := time.Now()
	value, err := fetch(ctx, key)
	c.metrics.CacheFetchDuration.WithLabelValues(key.Kind).Observe(time.Since(start).Seconds())
	c.metrics.CacheOperations.WithLabelValues(key.Kind, "fetch").Inc()
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key.String()).Msg("Fetch failed")
		return nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	stale := false
	if e, ok := c.get(key); ok && e.gen != gen {
		if !e.stale {
			// A fetch started after ours already stored a fresh value.
			return value, nil
		}
		// An invalidation landed mid-fetch: keep the value but leave the
		// entry stale so the next read goes back to the server.
		stale = true
		gen = e.gen
	}
	c.entries.Add(key, &entry{value: value, stale: stale, gen: gen, fetched: time.Now()})
	return value, nil
}

// Peek returns the cached value without fetching.
func (c *Cache) Peek(key Key) (value any, stale bool, ok bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.entries.Peek(key)
	if !ok {
		return nil, false, false
	}
	en := e.(*entry)
	return en.value, en.stale, true
}

// Set stores value as a fresh entry for key.
func (c *Cache) Set(key Key, value any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var gen uint64
	if e, ok := c.get(key); ok {
		gen = e.gen
	}
	c.entries.Add(key, &entry{value: value, gen: gen, fetched: time.Now()})
}

// Patch applies fn to every cached entry of kind and returns how many
// entries changed. Staleness is left as it was.
func (c *Cache) Patch(kind string, fn PatchFunc) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	patched := 0
	for _, k := range c.entries.Keys() {
		key := k.(Key)
		if key.Kind != kind {
			continue
		}
		e, ok := c.get(key)
		if !ok {
			continue
		}
		value, changed := fn(key, e.value)
		if !changed {
			continue
		}
		c.entries.Add(key, &entry{value: value, stale: e.stale, gen: e.gen, fetched: e.fetched})
		patched++
	}
	if patched > 0 {
		c.metrics.CacheOperations.WithLabelValues(kind, "patch").Add(float64(patched))
	}
	return patched
}

// Invalidate marks the entry for key stale. The value is kept until the
// next Read replaces it.
func (c *Cache) Invalidate(key Key) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.invalidate(key)
}

// InvalidateKind marks every entry of kind stale.
func (c *Cache) InvalidateKind(kind string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := 0
	for _, k := range c.entries.Keys() {
		key := k.(Key)
		if key.Kind == kind && c.invalidate(key) {
			count++
		}
	}
	return count
}

func (c *Cache) invalidate(key Key) bool {
	e, ok := c.get(key)
	if !ok {
		return false
	}
	c.entries.Add(key, &entry{value: e.value, stale: true, gen: e.gen + 1, fetched: e.fetched})
	c.metrics.CacheOperations.WithLabelValues(key.Kind, "invalidate").Inc()
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// get must be called with the mutex held. It does not touch recency.
func (c *Cache) get(key Key) (*entry, bool) {
	e, ok := c.entries.Peek(key)
	if !ok {
		return nil, false
	}
	return e.(*entry), true
}

func (c *Cache) expired(e *entry) bool {
	return c.maxAge > 0 && time.Since(e.fetched) > c.maxAge
}

// ReadAs is Read with the value asserted to T.
func ReadAs[T any](ctx context.Context, c *Cache, key Key) (T, error) {
	var zero T
	value, err := c.Read(ctx, key)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("cached value for %s is %T, not %T", key, value, zero)
	}
	return typed, nil
}
