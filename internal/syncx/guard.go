// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// RWGuard wraps RWMutex with scoped lock helpers that return values.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Read executes fn while holding read lock, returns result.
func (g *RWGuard[T]) Read(fn func(T) any) any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.value)
}

// Write executes fn while holding write lock, fn receives pointer for mutation.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Update executes fn while holding write lock, returning a result.
func (g *RWGuard[T]) Update(fn func(*T) any) any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Swap atomically replaces and returns old value.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// LazyMap is a guarded map with a get-or-create operation, for process-wide
// caches keyed by string (decoded templates, per-device queues).
type LazyMap[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// NewLazyMap creates an empty LazyMap.
func NewLazyMap[V any]() *LazyMap[V] {
	return &LazyMap[V]{m: make(map[string]V)}
}

// GetOrCreate returns the value for key, calling create under the lock if absent.
// create must not block on I/O; it runs inside the map's critical section.
func (l *LazyMap[V]) GetOrCreate(key string, create func() V) V {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.m[key]; ok {
		return v
	}
	v := create()
	l.m[key] = v
	return v
}

// Lookup returns the value for key if present.
func (l *LazyMap[V]) Lookup(key string) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.m[key]
	return v, ok
}

// Delete removes key, returning the removed value if it was present.
func (l *LazyMap[V]) Delete(key string) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.m[key]
	if ok {
		delete(l.m, key)
	}
	return v, ok
}

// Range calls fn for every entry while holding the lock.
func (l *LazyMap[V]) Range(fn func(key string, v V)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.m {
		fn(k, v)
	}
}

// Len returns the number of entries.
func (l *LazyMap[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
