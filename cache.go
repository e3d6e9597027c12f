package scanguard

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MapCache is an unbounded EntryCache backed by a map.
type MapCache[V any] struct {
	mu   sync.RWMutex
	data map[string]V
}

func NewMapCache[V any]() *MapCache[V] {
	return &MapCache[V]{data: make(map[string]V)}
}

func (c *MapCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *MapCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *MapCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

func (c *MapCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

func (c *MapCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// LRUCache is a size-bounded EntryCache whose entries also expire ttl after
// their last Put. It caps memory when an attacker rotates through many
// addresses faster than the janitor sweeps.
type LRUCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewLRUCache builds a cache holding at most size entries. ttl <= 0 disables
// time-based expiry.
func NewLRUCache[V any](size int, ttl time.Duration) *LRUCache[V] {
	if size <= 0 {
		size = 10000
	}
	return &LRUCache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

func (c *LRUCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

func (c *LRUCache[V]) Put(key string, value V) {
	c.lru.Add(key, value)
}

func (c *LRUCache[V]) Delete(key string) {
	c.lru.Remove(key)
}

func (c *LRUCache[V]) Keys() []string {
	return c.lru.Keys()
}

func (c *LRUCache[V]) Len() int {
	return c.lru.Len()
}

// newEntryCache returns the cache implementation named by cfg.
func newEntryCache[V any](cfg CacheConfig) EntryCache[V] {
	if cfg.Kind == "lru" {
		return NewLRUCache[V](cfg.Size, IdleEviction)
	}
	return NewMapCache[V]()
}
