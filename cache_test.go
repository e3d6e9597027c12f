package scanguard

import (
	"sort"
	"testing"
	"time"
)

func exerciseCache(t *testing.T, c EntryCache[int]) {
	t.Helper()
	c.Put("a", 1)
	c.Put("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("get a: %d, %v", v, ok)
	}
	c.Put("a", 3)
	if v, _ := c.Get("a"); v != 3 {
		t.Fatalf("overwrite: got %d", v)
	}
	keys := c.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("keys: %v", keys)
	}
	c.Delete("a")
	if _, ok := c.Get("a"); ok || c.Len() != 1 {
		t.Fatalf("delete failed, len %d", c.Len())
	}
}

func TestMapCache(t *testing.T) {
	exerciseCache(t, NewMapCache[int]())
}

func TestLRUCache(t *testing.T) {
	exerciseCache(t, NewLRUCache[int](10, time.Hour))
}

func TestLRUCacheBounded(t *testing.T) {
	c := NewLRUCache[int](2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	c.Put("c", 3)
	if c.Len() != 2 {
		t.Fatalf("expected size cap of 2, got %d", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("least recently used entry should be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("recently used entry evicted")
	}
}

func TestNewEntryCacheKind(t *testing.T) {
	if _, ok := newEntryCache[int](CacheConfig{Kind: "lru", Size: 5}).(*LRUCache[int]); !ok {
		t.Fatal("expected lru cache")
	}
	if _, ok := newEntryCache[int](CacheConfig{Kind: "map"}).(*MapCache[int]); !ok {
		t.Fatal("expected map cache")
	}
}
