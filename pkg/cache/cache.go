// Package cache provides the keyed snapshot registry used by the polling loops.
// Each entity kind owns one EntityCache holding the last known snapshot per
// tag and a deduplicating queue of tags waiting to be fetched.
package cache

import (
	"container/list"
	"sync"
)

// entry holds a cached value with its key
type entry[T any] struct {
	key   string
	value *T
}

// EntityCache is an LRU map from tag to last-known snapshot plus a fetch queue
type EntityCache[T any] struct {
	name     string
	capacity int

	mu    sync.RWMutex
	items map[string]*list.Element
	order *list.List

	queueMu sync.Mutex
	queue   []string
	pending map[string]struct{}
}

// New creates a cache. A capacity of 0 means unbounded.
func New[T any](name string, capacity int) *EntityCache[T] {
	return &EntityCache[T]{
		name:     name,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		pending:  make(map[string]struct{}),
	}
}

// Name returns the entity kind this cache stores
func (c *EntityCache[T]) Name() string {
	return c.name
}

// Get returns the last known snapshot for key
func (c *EntityCache[T]) Get(key string) (*T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*entry[T]).value, true
}

// Peek returns the snapshot without touching the LRU order
func (c *EntityCache[T]) Peek(key string) (*T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*entry[T]).value, true
}

// Put stores the snapshot for key, evicting the least recently used entry when full
func (c *EntityCache[T]) Put(key string, value *T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[T]).value = value
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&entry[T]{key: key, value: value})

	if c.capacity > 0 && c.order.Len() > c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.items, oldest.Value.(*entry[T]).key)
			c.order.Remove(oldest)
		}
	}
}

// Delete drops key from the cache and from the fetch queue
func (c *EntityCache[T]) Delete(key string) {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
	c.mu.Unlock()

	c.queueMu.Lock()
	if _, ok := c.pending[key]; ok {
		delete(c.pending, key)
		for i, k := range c.queue {
			if k == key {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				break
			}
		}
	}
	c.queueMu.Unlock()
}

// Retain drops every snapshot whose key is not in keep and returns how many were dropped
func (c *EntityCache[T]) Retain(keep map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, elem := range c.items {
		if _, ok := keep[key]; ok {
			continue
		}
		c.order.Remove(elem)
		delete(c.items, key)
		dropped++
	}
	return dropped
}

// Keys returns the cached keys, most recently used first
func (c *EntityCache[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*entry[T]).key)
	}
	return keys
}

// Range calls fn for every cached snapshot until fn returns false
func (c *EntityCache[T]) Range(fn func(key string, value *T) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for e := c.order.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry[T])
		if !fn(ent.key, ent.value) {
			return
		}
	}
}

// Len returns the number of cached snapshots
func (c *EntityCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Enqueue adds key to the fetch queue. It returns false if key was already pending.
func (c *EntityCache[T]) Enqueue(key string) bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if _, ok := c.pending[key]; ok {
		return false
	}
	c.pending[key] = struct{}{}
	c.queue = append(c.queue, key)
	return true
}

// Dequeue pops the oldest pending key
func (c *EntityCache[T]) Dequeue() (string, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if len(c.queue) == 0 {
		return "", false
	}
	key := c.queue[0]
	c.queue[0] = ""
	c.queue = c.queue[1:]
	delete(c.pending, key)
	return key, true
}

// QueueLen returns the number of pending keys
func (c *EntityCache[T]) QueueLen() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}
