// Package cache is a typed read-through cache with per-entry expiry. Concurrent
// loads of the same key are collapsed into one.
package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/hms-platform/hms/internal/metrics"
)

// Cache stores values of type V by string key.
type Cache[V any] struct {
	name    string
	items   *ttlcache.Cache[string, V]
	group   singleflight.Group
	metrics *metrics.Metrics
}

type options struct {
	capacity uint64
	metrics  *metrics.Metrics
}

// Option configures a Cache
type Option func(*options)

// WithCapacity bounds the number of entries; the least recently used is evicted first
func WithCapacity(n uint64) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithMetrics records hits and misses under the cache name
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New creates a cache whose entries expire ttl after they are set. Call Close to
// stop the expiry goroutine.
func New[V any](name string, ttl time.Duration, opts ...Option) *Cache[V] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cacheOpts := []ttlcache.Option[string, V]{
		ttlcache.WithTTL[string, V](ttl),
		ttlcache.WithDisableTouchOnHit[string, V](),
	}
	if o.capacity > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, V](o.capacity))
	}

	c := &Cache[V]{
		name:    name,
		items:   ttlcache.New[string, V](cacheOpts...),
		metrics: o.metrics,
	}
	go c.items.Start()
	return c
}

// Get returns the cached value for key
func (c *Cache[V]) Get(key string) (V, bool) {
	if item := c.items.Get(key); item != nil {
		c.metrics.RecordCacheHit(c.name)
		return item.Value(), true
	}
	c.metrics.RecordCacheMiss(c.name)
	var zero V
	return zero, false
}

// Set stores value under key with the default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.items.Set(key, value, ttlcache.DefaultTTL)
}

// Remove invalidates key
func (c *Cache[V]) Remove(key string) {
	c.items.Delete(key)
}

// Len returns the number of live entries
func (c *Cache[V]) Len() int {
	return c.items.Len()
}

// GetOrLoad returns the cached value or calls load and caches its result. Errors are
// not cached. Concurrent callers for the same key share one load.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// Close stops the expiry goroutine
func (c *Cache[V]) Close() {
	c.items.Stop()
}
