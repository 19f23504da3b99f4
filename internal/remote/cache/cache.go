// Package cache keeps the last known property values of remote objects,
// one bucket per object id.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Entry is a cached property value.
type Entry struct {
	Method string
	Value  any
	// PresentSinceCallCount is the cache-wide store sequence at write time.
	PresentSinceCallCount uint64
}

type bucket struct {
	mu      sync.RWMutex
	entries map[string]Entry
	// floor is the sequence of the last whole-object invalidation (or of
	// bucket creation); marks hold the sequence of named invalidations.
	floor uint64
	marks map[string]uint64
}

func (b *bucket) generation(method string) uint64 {
	if g := b.marks[method]; g > b.floor {
		return g
	}
	return b.floor
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache struct {
	objects sync.Map // objectID -> *bucket
	seq     atomic.Uint64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{}
}

func (c *Cache) lookup(objectID string) *bucket {
	if b, ok := c.objects.Load(objectID); ok {
		return b.(*bucket)
	}
	return nil
}

func (c *Cache) bucket(objectID string) *bucket {
	if b := c.lookup(objectID); b != nil {
		return b
	}
	fresh := &bucket{
		entries: make(map[string]Entry),
		marks:   make(map[string]uint64),
		floor:   c.seq.Add(1),
	}
	b, _ := c.objects.LoadOrStore(objectID, fresh)
	return b.(*bucket)
}

// Get returns the cached value of method for the object.
func (c *Cache) Get(objectID, method string) (any, bool) {
	e, ok := c.Entry(objectID, method)
	return e.Value, ok
}

// Entry returns the full cache entry.
func (c *Cache) Entry(objectID, method string) (Entry, bool) {
	b := c.lookup(objectID)
	if b == nil {
		return Entry{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[method]
	return e, ok
}

// Put stores a value unconditionally.
func (c *Cache) Put(objectID, method string, value any) {
	b := c.bucket(objectID)
	b.mu.Lock()
	b.entries[method] = Entry{Method: method, Value: value, PresentSinceCallCount: c.seq.Add(1)}
	b.mu.Unlock()
}

// Generation returns a token that changes whenever (objectID, method) is
// invalidated. Take it before a remote read and hand it to PutIfGeneration.
func (c *Cache) Generation(objectID, method string) uint64 {
	b := c.bucket(objectID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.generation(method)
}

// PutIfGeneration stores the value only if the key was not invalidated
// since gen was taken. It reports whether the value was stored.
func (c *Cache) PutIfGeneration(objectID, method string, value any, gen uint64) bool {
	b := c.bucket(objectID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation(method) != gen {
		return false
	}
	b.entries[method] = Entry{Method: method, Value: value, PresentSinceCallCount: c.seq.Add(1)}
	return true
}

// Invalidate removes the named entries, or every entry of the object when no
// names are given. In-flight reads of the removed keys will not be stored.
func (c *Cache) Invalidate(objectID string, methods ...string) {
	b := c.lookup(objectID)
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(methods) == 0 {
		b.entries = make(map[string]Entry)
		b.marks = make(map[string]uint64)
		b.floor = c.seq.Add(1)
		return
	}
	for _, m := range methods {
		delete(b.entries, m)
		b.marks[m] = c.seq.Add(1)
	}
}

// Snapshot copies the named entries that are present, or all entries when
// no names are given.
func (c *Cache) Snapshot(objectID string, methods ...string) map[string]any {
	out := make(map[string]any)
	b := c.lookup(objectID)
	if b == nil {
		return out
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(methods) == 0 {
		for m, e := range b.entries {
			out[m] = e.Value
		}
		return out
	}
	for _, m := range methods {
		if e, ok := b.entries[m]; ok {
			out[m] = e.Value
		}
	}
	return out
}

// Restore stores every value of the map.
func (c *Cache) Restore(objectID string, values map[string]any) {
	if len(values) == 0 {
		return
	}
	b := c.bucket(objectID)
	b.mu.Lock()
	defer b.mu.Unlock()
	for m, v := range values {
		b.entries[m] = Entry{Method: m, Value: v, PresentSinceCallCount: c.seq.Add(1)}
	}
}

// Methods lists the cached method names of an object, sorted.
func (c *Cache) Methods(objectID string) []string {
	b := c.lookup(objectID)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	names := make([]string, 0, len(b.entries))
	for m := range b.entries {
		names = append(names, m)
	}
	b.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len counts the entries of every object.
func (c *Cache) Len() int {
	n := 0
	c.objects.Range(func(_, v any) bool {
		b := v.(*bucket)
		b.mu.RLock()
		n += len(b.entries)
		b.mu.RUnlock()
		return true
	})
	return n
}

// Clear drops every object. Reads in flight at this point are not stored.
func (c *Cache) Clear() {
	c.objects.Range(func(k, _ any) bool {
		c.objects.Delete(k)
		return true
	})
}
