// Package cache is the client-side query cache that sits between the transport
// layer and the data-access services. Keys are slash-separated paths such as
// "photos/author/42"; invalidating a prefix marks every key beneath it stale.
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the current value for a key from the source of truth
type Fetcher func(ctx context.Context) (any, error)

// Policy controls how long an entry is served without refetching and how long
// an unused entry is kept before the janitor evicts it.
type Policy struct {
	StaleAfter time.Duration
	EvictAfter time.Duration
}

// Config configures a Cache
type Config struct {
	// Enabled false turns every read into a direct fetch. Invalidation listeners still fire.
	Enabled bool
	Default Policy
	// Policies overrides Default for keys under a prefix. The longest matching prefix wins.
	Policies map[string]Policy
	// Retries is the number of extra attempts a failed fetch gets
	Retries       int
	RetryInterval time.Duration
	// Retryable reports whether a fetch error is worth retrying. Nil retries everything.
	Retryable       func(error) bool
	JanitorInterval time.Duration
	// Registerer receives the cache metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	Now        func() time.Time
}

type observer struct {
	fetch  Fetcher
	notify func(value any, err error)
}

type entry struct {
	value     any
	hasValue  bool
	fetchedAt time.Time
	accessed  time.Time

	invalid bool
	// gen changes on every invalidation so readers never join a flight that started before it
	gen uint64
	// dataSeq is the sequence number of the fetch that produced value; invalidSeq that
	// of the last invalidation. A fetch older than either is discarded.
	dataSeq    uint64
	invalidSeq uint64

	loading    int
	refreshing bool
	observers  map[uint64]observer
}

// Cache is a keyed stale-while-revalidate cache with prefix invalidation
type Cache struct {
	cfg     Config
	now     func() time.Time
	metrics *metrics
	group   singleflight.Group
	wg      sync.WaitGroup

	mu           sync.Mutex
	entries      map[string]*entry
	seq          uint64
	nextObserver uint64
	listeners    []func(prefixes []string)
}

// New creates a cache. Call Run to start the janitor.
func New(cfg Config) *Cache {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	return &Cache{
		cfg:     cfg,
		now:     cfg.Now,
		metrics: newMetrics(cfg.Registerer),
		entries: make(map[string]*entry),
	}
}

// Get returns the value for key, calling fetch when the key is missing or invalidated.
// A present but stale value is returned immediately while a background refetch runs.
// Values are shared between callers and must not be mutated.
func (c *Cache) Get(ctx context.Context, key string, fetch Fetcher) (any, error) {
	if !c.cfg.Enabled {
		c.metrics.misses.WithLabelValues(class(key)).Inc()
		return c.fetch(ctx, key, fetch)
	}

	now := c.now()
	policy := c.policy(key)

	c.mu.Lock()
	e := c.entry(key)
	e.accessed = now
	if e.hasValue && !e.invalid {
		value := e.value
		if now.Sub(e.fetchedAt) < policy.StaleAfter {
			c.mu.Unlock()
			c.metrics.hits.WithLabelValues(class(key)).Inc()
			return value, nil
		}
		start := !e.refreshing
		e.refreshing = true
		c.mu.Unlock()

		c.metrics.stale.WithLabelValues(class(key)).Inc()
		if start {
			c.refreshAsync(ctx, key, fetch)
		}
		return value, nil
	}
	gen := e.gen
	c.mu.Unlock()

	c.metrics.misses.WithLabelValues(class(key)).Inc()
	return c.load(ctx, key, gen, fetch)
}

// Query is a typed wrapper around Cache.Get
func Query[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: key %s holds %T", key, v)
	}
	return typed, nil
}

// Invalidate marks every key equal to or beneath one of the prefixes as stale.
// Observed keys are refetched in the background and their observers notified.
func (c *Cache) Invalidate(prefixes ...string) {
	if len(prefixes) == 0 {
		return
	}

	type pending struct {
		key   string
		fetch Fetcher
	}
	var refetch []pending

	c.mu.Lock()
	for key, e := range c.entries {
		if !matchesAny(key, prefixes) {
			continue
		}
		c.seq++
		e.invalidSeq = c.seq
		e.invalid = true
		e.gen++
		if len(e.observers) > 0 && !e.refreshing {
			e.refreshing = true
			refetch = append(refetch, pending{key: key, fetch: anyObserver(e).fetch})
		}
	}
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, p := range prefixes {
		c.metrics.invalidations.WithLabelValues(class(p)).Inc()
	}

	log.Debug().
		Strs("prefixes", prefixes).
		Int("refetching", len(refetch)).
		Msg("Cache invalidated")

	for _, fn := range listeners {
		fn(prefixes)
	}
	for _, p := range refetch {
		c.refreshAsync(context.Background(), p.key, p.fetch)
	}
}

// Watch registers notify to receive every refetched value for key until cancel is called.
// While watched, the key is refetched after each invalidation and is never evicted.
func (c *Cache) Watch(key string, fetch Fetcher, notify func(value any, err error)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextObserver++
	id := c.nextObserver
	e := c.entry(key)
	if e.observers == nil {
		e.observers = make(map[uint64]observer)
	}
	e.observers[id] = observer{fetch: fetch, notify: notify}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if e, ok := c.entries[key]; ok {
				delete(e.observers, id)
			}
		})
	}
}

// OnInvalidate registers fn to be called with the prefixes of every invalidation
func (c *Cache) OnInvalidate(fn func(prefixes []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Sweep evicts entries that have not been read within their policy's EvictAfter.
// It returns the number of evicted entries.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, e := range c.entries {
		if len(e.observers) > 0 || e.loading > 0 || e.refreshing {
			continue
		}
		if now.Sub(e.accessed) >= c.policy(key).EvictAfter {
			delete(c.entries, key)
			evicted++
		}
	}
	c.metrics.entries.Set(float64(len(c.entries)))
	return evicted
}

// Run sweeps the cache every JanitorInterval until ctx is done
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("Cache swept")
			}
		}
	}
}

// Wait blocks until every background refetch has finished
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Len returns the number of entries currently held
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// entry returns the entry for key, creating an empty one. Callers hold c.mu.
func (c *Cache) entry(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{accessed: c.now()}
		c.entries[key] = e
	}
	return e
}

// load runs fetch once per key and generation no matter how many readers ask
func (c *Cache) load(ctx context.Context, key string, gen uint64, fetch Fetcher) (any, error) {
	ch := c.group.DoChan(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		return c.fetchAndStore(context.WithoutCancel(ctx), key, fetch)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *Cache) fetchAndStore(ctx context.Context, key string, fetch Fetcher) (any, error) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.entry(key).loading++
	c.mu.Unlock()

	value, err := c.fetch(ctx, key, fetch)

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(key)
	e.loading--
	if err != nil {
		return nil, err
	}
	if seq > e.dataSeq && seq > e.invalidSeq {
		e.value = value
		e.hasValue = true
		e.fetchedAt = c.now()
		e.dataSeq = seq
		e.invalid = false
	}
	return value, nil
}

// refreshAsync refetches key in the background and notifies its observers.
// The caller has already set e.refreshing.
func (c *Cache) refreshAsync(parent context.Context, key string, fetch Fetcher) {
	ctx := context.WithoutCancel(parent)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for {
			c.mu.Lock()
			gen := c.entry(key).gen
			c.mu.Unlock()

			value, err := c.load(ctx, key, gen, fetch)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Background refetch failed")
			}

			c.mu.Lock()
			e := c.entry(key)
			if err == nil && e.invalid && e.gen != gen && len(e.observers) > 0 {
				// Invalidated while loading; the result was discarded.
				c.mu.Unlock()
				continue
			}
			e.refreshing = false
			observers := make([]observer, 0, len(e.observers))
			for _, o := range e.observers {
				observers = append(observers, o)
			}
			c.mu.Unlock()

			for _, o := range observers {
				o.notify(value, err)
			}
			return
		}
	}()
}

func (c *Cache) fetch(ctx context.Context, key string, fetch Fetcher) (any, error) {
	op := func() (any, error) {
		v, err := fetch(ctx)
		if err != nil && !c.retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return v, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	retries := uint64(max(c.cfg.Retries, 0))

	v, err := backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
	if err != nil {
		c.metrics.fetchErrors.WithLabelValues(class(key)).Inc()
		return nil, err
	}
	return v, nil
}

func (c *Cache) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if c.cfg.Retryable == nil {
		return true
	}
	return c.cfg.Retryable(err)
}

func (c *Cache) policy(key string) Policy {
	best, bestLen := c.cfg.Default, -1
	for prefix, p := range c.cfg.Policies {
		if matches(key, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best
}

func anyObserver(e *entry) observer {
	for _, o := range e.observers {
		return o
	}
	return observer{}
}

// matches reports whether key equals prefix or lies beneath it
func matches(key, prefix string) bool {
	return key == prefix || strings.HasPrefix(key, prefix+"/")
}

func matchesAny(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if matches(key, p) {
			return true
		}
	}
	return false
}

// class is the first path segment of a key, used as the metrics label
func class(key string) string {
	head, _, _ := strings.Cut(key, "/")
	return head
}
