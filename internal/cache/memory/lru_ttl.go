package memory

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	size      int
}

// LRUTTL is a threadsafe LRU cache whose entries each carry their own expiry.
// It is bounded by entry count and, when maxBytes > 0, by total size.
type LRUTTL[K comparable, V any] struct {
	mu         sync.Mutex
	ll         *list.List
	items      map[K]*list.Element
	maxEntries int
	maxBytes   int
	totalBytes int
	defaultTTL time.Duration
	now        func() time.Time
}

func NewLRUTTL[K comparable, V any](maxEntries, maxBytes int, defaultTTL time.Duration) *LRUTTL[K, V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	return &LRUTTL[K, V]{
		ll:         list.New(),
		items:      make(map[K]*list.Element),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the live value for key and its expiry.
func (c *LRUTTL[K, V]) Get(key K) (V, time.Time, bool) {
	var zero V
	if c == nil {
		return zero, time.Time{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[key]
	if !ok {
		return zero, time.Time{}, false
	}
	ent := ele.Value.(*entry[K, V])
	if !c.now().Before(ent.expiresAt) {
		c.remove(ele)
		return zero, time.Time{}, false
	}
	c.ll.MoveToFront(ele)
	return ent.value, ent.expiresAt, true
}

// Set stores value for ttl (the default TTL when ttl <= 0) and returns the
// expiry. An entry larger than maxBytes is not stored.
func (c *LRUTTL[K, V]) Set(key K, value V, size int, ttl time.Duration) (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	if size < 0 {
		size = 0
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && size > c.maxBytes {
		return time.Time{}, false
	}
	expiresAt := c.now().Add(ttl)
	if ele, ok := c.items[key]; ok {
		c.remove(ele)
	}
	ele := c.ll.PushFront(&entry[K, V]{key: key, value: value, size: size, expiresAt: expiresAt})
	c.items[key] = ele
	c.totalBytes += size
	c.evict()
	return expiresAt, true
}

func (c *LRUTTL[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.remove(ele)
	}
}

func (c *LRUTTL[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// evict drops expired entries from the back, then least recently used ones
// until both bounds hold.
func (c *LRUTTL[K, V]) evict() {
	now := c.now()
	for ele := c.ll.Back(); ele != nil; {
		prev := ele.Prev()
		if !now.Before(ele.Value.(*entry[K, V]).expiresAt) {
			c.remove(ele)
		}
		ele = prev
	}
	for c.ll.Len() > 0 && (c.ll.Len() > c.maxEntries || (c.maxBytes > 0 && c.totalBytes > c.maxBytes)) {
		c.remove(c.ll.Back())
	}
}

func (c *LRUTTL[K, V]) remove(ele *list.Element) {
	c.ll.Remove(ele)
	ent := ele.Value.(*entry[K, V])
	delete(c.items, ent.key)
	c.totalBytes -= ent.size
	if c.totalBytes < 0 {
		c.totalBytes = 0
	}
}
