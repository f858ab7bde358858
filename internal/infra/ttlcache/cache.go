package ttlcache

import (
	"time"

	"k8s.io/apimachinery/pkg/util/cache"
	"k8s.io/utils/clock"

	"github.com/skillcoder/kubedeploy/internal/infra/metrics"
)

// Cache is a typed, size-unbounded cache whose entries expire after a fixed TTL.
// Concurrent misses for the same key are not coalesced.
type Cache[V any] struct {
	name    string
	ttl     time.Duration
	entries *cache.Expiring
}

// New creates a cache backed by the wall clock.
func New[V any](name string, ttl time.Duration) *Cache[V] {
	return NewWithClock[V](name, ttl, clock.RealClock{})
}

// NewWithClock creates a cache that reads time from clk.
func NewWithClock[V any](name string, ttl time.Duration, clk clock.Clock) *Cache[V] {
	return &Cache[V]{
		name:    name,
		ttl:     ttl,
		entries: cache.NewExpiringWithClock(clk),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	raw, ok := c.entries.Get(key)
	if !ok {
		metrics.RecordCacheRequest(c.name, false)

		return zero, false
	}

	val, ok := raw.(V)
	if !ok {
		metrics.RecordCacheRequest(c.name, false)

		return zero, false
	}

	metrics.RecordCacheRequest(c.name, true)

	return val, true
}

func (c *Cache[V]) Set(key string, val V) {
	c.entries.Set(key, val, c.ttl)
}

func (c *Cache[V]) Delete(key string) {
	c.entries.Delete(key)
}

func (c *Cache[V]) Len() int {
	return c.entries.Len()
}
