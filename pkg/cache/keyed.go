// Package cache provides a bounded, replace-on-write keyed cache with LRU
// eviction and TTL expiry. Used for the per-symbol market-data caches so
// resource usage stays predictable under long-running operation.
package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value    V
	expireAt time.Time
	touched  time.Time
}

func (it *item[V]) expired(now time.Time) bool {
	return !it.expireAt.IsZero() && now.After(it.expireAt)
}

// Keyed is a bounded in-memory cache. Writes replace the stored value
// wholesale; there is no field-level merging.
type Keyed[V any] struct {
	mu      sync.RWMutex
	data    map[string]*item[V]
	maxSize int
	ttl     time.Duration
	ticker  *time.Ticker
	done    chan struct{}
}

// NewKeyed creates a cache with the given options.
func NewKeyed[V any](opts ...Option) *Keyed[V] {
	cfg := &Config{
		MaxSize:         1000,
		TTL:             0, // no expiry by default
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Keyed[V]{
		data:    make(map[string]*item[V]),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		done:    make(chan struct{}),
	}
	if cfg.TTL > 0 {
		c.ticker = time.NewTicker(cfg.CleanupInterval)
		go c.cleanupLoop()
	}
	return c
}

// Put stores value under key, replacing any previous value.
func (c *Keyed[V]) Put(key string, value V) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictLRU()
	}
	it := &item[V]{value: value, touched: now}
	if c.ttl > 0 {
		it.expireAt = now.Add(c.ttl)
	}
	c.data[key] = it
}

// Get returns the cached value for key, if present and unexpired.
func (c *Keyed[V]) Get(key string) (V, bool) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.data[key]
	if !ok {
		var zero V
		return zero, false
	}
	if it.expired(now) {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	it.touched = now
	return it.value, true
}

// Delete removes keys from the cache.
func (c *Keyed[V]) Delete(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
}

// Len returns the current number of entries.
func (c *Keyed[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Keys returns a snapshot of all unexpired keys.
func (c *Keyed[V]) Keys() []string {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.data))
	for k, it := range c.data {
		if !it.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// evictLRU removes the least recently touched entry. Caller holds the lock.
func (c *Keyed[V]) evictLRU() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, it := range c.data {
		if first || it.touched.Before(oldest) {
			oldest = it.touched
			oldestKey = k
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

func (c *Keyed[V]) cleanupLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, it := range c.data {
				if it.expired(now) {
					delete(c.data, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (c *Keyed[V]) Close() {
	if c.ticker != nil {
		c.ticker.Stop()
		close(c.done)
	}
}
