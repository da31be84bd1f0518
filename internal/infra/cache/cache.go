// Package cache implements the read-side query cache the entity stores
// reconcile after mutations. Entries live in a bounded LRU; invalidation only
// marks entries stale, and refetching re-runs the loaders of watched queries.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"crmcore/internal/core"
)

// DefaultCapacity bounds the number of cached query results.
const DefaultCapacity = 1024

type loader func(context.Context) (any, error)

type entry struct {
	value     any
	stale     bool
	fetchedAt time.Time
}

type watch struct {
	observers int
	load      loader
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Invalidated  int64 `json:"invalidated"`
	Refetched    int64 `json:"refetched"`
	RefetchError int64 `json:"refetch_errors"`
	Entries      int   `json:"entries"`
}

// QueryCache implements core.QueryCache.
type QueryCache struct {
	mu      sync.Mutex
	entries *lru.Cache[core.QueryKey, *entry]
	watches map[core.QueryKey]*watch
	flight  singleflight.Group
	stats   Stats

	staleAfter time.Duration
	async      bool
	logger     core.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

var _ core.QueryCache = (*QueryCache)(nil)

// Option configures a QueryCache.
type Option func(*QueryCache)

// WithStaleAfter marks entries stale once they are older than d. Zero keeps
// entries fresh until invalidated.
func WithStaleAfter(d time.Duration) Option {
	return func(c *QueryCache) { c.staleAfter = d }
}

// WithAsyncRefetch runs RefetchActive loaders in background goroutines
// instead of inline. Wait blocks until they finish.
func WithAsyncRefetch() Option {
	return func(c *QueryCache) { c.async = true }
}

// WithLogger installs a logger for refetch failures.
func WithLogger(logger core.Logger) Option {
	return func(c *QueryCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for staleness.
func WithClock(now func() time.Time) Option {
	return func(c *QueryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a cache holding at most capacity results (DefaultCapacity
// when capacity < 1).
func New(capacity int, opts ...Option) (*QueryCache, error) {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[core.QueryKey, *entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &QueryCache{
		entries: entries,
		watches: make(map[core.QueryKey]*watch),
		logger:  nopLogger{},
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch returns the cached result for key, loading it when missing or stale.
// Concurrent fetches of the same key share one load. Errors are not cached.
func (c *QueryCache) Fetch(ctx context.Context, key core.QueryKey, load func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if w, ok := c.watches[key]; ok {
		w.load = load
	}
	if e, ok := c.entries.Get(key); ok && !c.isStale(e) {
		c.stats.Hits++
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	v, err, _ := c.flight.Do(flightKey(key), func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, value)
		return value, nil
	})
	return v, err
}

// Peek returns the cached value for key without loading, and whether it is stale.
func (c *QueryCache) Peek(key core.QueryKey) (value any, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(key)
	if !ok {
		return nil, false, false
	}
	return e.value, c.isStale(e), true
}

// Watch registers an observer of key; watched queries are refetched by
// RefetchActive. The returned function removes the observer.
func (c *QueryCache) Watch(key core.QueryKey, load func(context.Context) (any, error)) func() {
	c.mu.Lock()
	w, ok := c.watches[key]
	if !ok {
		w = &watch{}
		c.watches[key] = w
	}
	w.observers++
	w.load = load
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watches[key]; ok {
				w.observers--
				if w.observers <= 0 {
					delete(c.watches, key)
				}
			}
		})
	}
}

// Invalidate marks every entry in namespace stale. It never loads and is
// idempotent.
func (c *QueryCache) Invalidate(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.entries.Keys() {
		if key.Namespace != namespace {
			continue
		}
		if e, ok := c.entries.Peek(key); ok && !e.stale {
			e.stale = true
			c.stats.Invalidated++
		}
	}
}

// RefetchActive re-runs the loaders of watched queries in namespace.
// Failures are logged and leave the entry stale.
func (c *QueryCache) RefetchActive(ctx context.Context, namespace string) {
	type job struct {
		key  core.QueryKey
		load loader
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var jobs []job
	for key, w := range c.watches {
		if key.Namespace == namespace && w.load != nil {
			jobs = append(jobs, job{key: key, load: w.load})
		}
	}
	if c.async {
		c.wg.Add(len(jobs))
	}
	c.mu.Unlock()

	for _, j := range jobs {
		if !c.async {
			c.refetch(ctx, j.key, j.load)
			continue
		}
		go func(j job) {
			defer c.wg.Done()
			c.refetch(c.ctx, j.key, j.load)
		}(j)
	}
}

func (c *QueryCache) refetch(ctx context.Context, key core.QueryKey, load loader) {
	_, err, _ := c.flight.Do(flightKey(key), func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, value)
		return value, nil
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stats.RefetchError++
		c.logger.Warn("query refetch failed", "namespace", key.Namespace, "kind", key.Kind, "error", err)
		return
	}
	c.stats.Refetched++
}

// Wait blocks until background refetches started so far have finished.
func (c *QueryCache) Wait() { c.wg.Wait() }

// Stats returns a copy of the activity counters.
func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.entries.Len()
	return s
}

// Purge drops every cached entry; watches are kept.
func (c *QueryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Close cancels pending background refetches and waits for them to return.
func (c *QueryCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *QueryCache) store(key core.QueryKey, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, &entry{value: value, fetchedAt: c.now()})
}

func (c *QueryCache) isStale(e *entry) bool {
	if e.stale {
		return true
	}
	return c.staleAfter > 0 && c.now().Sub(e.fetchedAt) > c.staleAfter
}

func flightKey(key core.QueryKey) string {
	return fmt.Sprintf("%s|%s|%s|%d", key.Namespace, key.Kind, key.Fingerprint, key.Page)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
