// Package cache provides a process-local, staleness-aware cache that shields
// upstream providers from many concurrent pollers.
//
// For every key at most one refresh is in flight at a time; concurrent callers
// for the same key wait on that refresh and share its result. A failed refresh
// never discards a previously stored value: callers receive it marked stale.
// Only a key that has never been stored can fail outright.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoValue is wrapped by the error returned when a refresh fails and no
// value has ever been stored for the key.
var ErrNoValue = errors.New("no cached value")

// Entry is the result of a lookup.
type Entry[V any] struct {
	Value     V
	Stale     bool      // Value is past its TTL because a refresh failed or did not finish in time
	FetchedAt time.Time // when Value was produced
	Err       error     // refresh error that made Value stale, if any
}

type item struct {
	value     interface{}
	fetchedAt time.Time
	expiresAt time.Time
	lastRead  time.Time
}

// Cache is safe for concurrent use. The zero value is not usable; use New.
type Cache struct {
	mu         sync.Mutex
	items      map[string]*item
	group      singleflight.Group
	idleWindow time.Duration
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache whose entries are evicted after idleWindow without reads.
// A non-positive idleWindow disables eviction.
func New(idleWindow time.Duration, opts ...Option) *Cache {
	c := &Cache{
		items:      make(map[string]*item),
		idleWindow: idleWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds a cache key from a view kind and its parameters.
func Key(kind string, params ...string) string {
	if len(params) == 0 {
		return kind
	}
	return kind + ":" + strings.Join(params, ",")
}

// RefreshFunc produces a fresh value for a key.
type RefreshFunc[V any] func(ctx context.Context) (V, error)

// GetOrRefresh returns the value for key, refreshing it with fn when it is
// missing or older than ttl.
//
// The refresh runs detached from ctx so that one caller giving up does not
// fail the refresh for the others; fn must bound its own duration. When ctx
// ends while waiting, the previous value is returned as stale if one exists.
func GetOrRefresh[V any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn RefreshFunc[V]) (Entry[V], error) {
	if it, fresh := c.lookup(key); fresh {
		return entryOf[V](it, false, nil)
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Another flight may have stored a fresh value since our lookup.
		if it, fresh := c.peek(key); fresh {
			return it, nil
		}
		v, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		return c.store(key, v, ttl), nil
	})

	select {
	case res := <-ch:
		if res.Err == nil {
			return entryOf[V](res.Val.(*item), false, nil)
		}
		return staleOrFail[V](c, key, res.Err)
	case <-ctx.Done():
		return staleOrFail[V](c, key, ctx.Err())
	}
}

// Invalidate drops key so the next lookup refreshes.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep evicts entries that have not been read within the idle window and
// returns how many were dropped.
func (c *Cache) Sweep() int {
	if c.idleWindow <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.idleWindow)
	evicted := 0
	for key, it := range c.items {
		if it.lastRead.Before(cutoff) {
			delete(c.items, key)
			evicted++
		}
	}
	return evicted
}

// Run sweeps every interval until ctx ends.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.idleWindow <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// lookup returns the stored item for key, marking it read.
func (c *Cache) lookup(key string) (*item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	it.lastRead = now
	return it, now.Before(it.expiresAt)
}

// peek is lookup without touching lastRead.
func (c *Cache) peek(key string) (*item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return it, c.now().Before(it.expiresAt)
}

func (c *Cache) store(key string, v interface{}, ttl time.Duration) *item {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	it := &item{
		value:     v,
		fetchedAt: now,
		expiresAt: now.Add(ttl),
		lastRead:  now,
	}
	c.items[key] = it
	return it
}

func staleOrFail[V any](c *Cache, key string, cause error) (Entry[V], error) {
	if it, fresh := c.lookup(key); it != nil {
		if fresh {
			return entryOf[V](it, false, nil)
		}
		return entryOf[V](it, true, cause)
	}
	var zero Entry[V]
	return zero, fmt.Errorf("%w for %s: %w", ErrNoValue, key, cause)
}

func entryOf[V any](it *item, stale bool, cause error) (Entry[V], error) {
	v, ok := it.value.(V)
	if !ok {
		var zero Entry[V]
		return zero, fmt.Errorf("cache: stored value has type %T", it.value)
	}
	return Entry[V]{Value: v, Stale: stale, FetchedAt: it.fetchedAt, Err: cause}, nil
}
