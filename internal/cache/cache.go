// Package cache is a small typed wrapper over ristretto used for hot
// lookups such as the most recently stored document.
package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

type Cache[V any] struct {
	store *ristretto.Cache
}

// New sizes the cache for maxCost items of unit cost.
func New[V any](maxCost int64) (*Cache[V], error) {
	if maxCost <= 0 {
		maxCost = 1000
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache[V]{store: store}, nil
}

// Set stores v and waits until it is visible to Get.
func (c *Cache[V]) Set(key string, v V) bool {
	ok := c.store.Set(key, v, 1)
	c.store.Wait()
	return ok
}

func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

func (c *Cache[V]) Delete(key string) {
	c.store.Del(key)
}

func (c *Cache[V]) Close() {
	c.store.Close()
}
