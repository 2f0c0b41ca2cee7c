// Package cache provides a single-value-per-key cache with explicit
// time-to-live and single-flight fetching. Upstream calls are rate- and
// cost-limited, so concurrent misses for the same key must collapse into one
// fetch rather than racing duplicates.
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/chai-project/chai-data-sources/internal/clock"
)

// DefaultSize bounds the number of entries kept per cache. Clients key by a
// handful of semantic purposes, so the bound is generous.
const DefaultSize = 128

type entry[T any] struct {
	value     T
	fetchedAt time.Time
	ttl       time.Duration
}

func (e entry[T]) validAt(now time.Time) bool {
	return now.Before(e.fetchedAt.Add(e.ttl))
}

// FetchFunc produces a fresh value for a cache key.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cache is a timed cache holding values of a single type. Safe for concurrent
// use.
type Cache[T any] struct {
	clk   clock.Clock
	store *lru.Cache
	group singleflight.Group
}

// New creates a cache bounded to size entries. A size <= 0 selects
// DefaultSize. A nil clk selects the system clock.
func New[T any](size int, clk clock.Clock) (*Cache[T], error) {
	if size <= 0 {
		size = DefaultSize
	}
	if clk == nil {
		clk = clock.Real{}
	}
	store, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache[T]{clk: clk, store: store}, nil
}

// GetOrFetch returns the cached value for key if a non-expired entry exists.
// Otherwise it invokes fetch exactly once, stores the result with the given
// ttl, and returns it. Concurrent callers for the same absent key share a
// single in-flight fetch and its result. A failed fetch stores nothing; the
// next call retries.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (T, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent flight may have stored a value between our lookup and
		// acquiring the flight.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store.Add(key, entry[T]{value: v, fetchedAt: c.clk.Now(), ttl: ttl})
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// Invalidate removes the entry for key, if any. The next GetOrFetch for the
// key starts a fresh fetch.
func (c *Cache[T]) Invalidate(key string) {
	c.store.Remove(key)
	c.group.Forget(key)
}

func (c *Cache[T]) lookup(key string) (T, bool) {
	if raw, ok := c.store.Get(key); ok {
		e := raw.(entry[T])
		if e.validAt(c.clk.Now()) {
			return e.value, true
		}
		c.store.Remove(key)
	}
	var zero T
	return zero, false
}
