/*
 * Copyright 2025 CESNET and its licensors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package cache provides a bounded TTL cache with single-flight semantics.
// Callers racing on a cold key block on the single in-flight computation
// instead of duplicating backend work.
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_cache_hits_total",
		Help: "Total number of cache hits.",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_cache_misses_total",
		Help: "Total number of cache misses.",
	}, []string{"cache"})
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a LRU bounded TTL cache with at most one concurrent computation
// per key. The clock is injected to make eviction and staleness testable.
type Cache[V any] struct {
	name string

	store *lru.Cache[string, entry[V]]
	group singleflight.Group

	ttl time.Duration
	now func() time.Time
}

// New creates a Cache with the provided name, maximum size and TTL. A nil
// now function defaults to time.Now.
func New[V any](name string, size int, ttl time.Duration, now func() time.Time) (*Cache[V], error) {
	if now == nil {
		now = time.Now
	}
	store, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, err
	}

	return &Cache[V]{
		name: name,

		store: store,

		ttl: ttl,
		now: now,
	}, nil
}

// Get returns the cached value for key when present and fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.store.Get(key)
	if !ok || c.now().After(e.expiresAt) {
		if ok {
			c.store.Remove(key)
		}
		cacheMissesTotal.WithLabelValues(c.name).Inc()
		var zero V
		return zero, false
	}
	cacheHitsTotal.WithLabelValues(c.name).Inc()

	return e.value, true
}

// GetOrCompute returns the cached value for key, computing and storing it
// with the provided function when absent or stale. Concurrent callers on the
// same cold key share one computation and its result. Failed computations
// are not cached.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Double check after acquiring the flight, a concurrent computation
		// may have filled the entry meanwhile.
		if value, ok := c.Get(key); ok {
			return value, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, value)

		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	return value.(V), nil
}

// Set stores the provided value under key with the configured TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.store.Add(key, entry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Invalidate removes the entry stored under key.
func (c *Cache[V]) Invalidate(key string) {
	c.store.Remove(key)
}

// Len returns the number of stored entries including stale ones.
func (c *Cache[V]) Len() int {
	return c.store.Len()
}
