// Package broadcast provides typed in-process update notifications. Each
// entity gets its own Topic so listeners are checked at compile time.
package broadcast

import (
	"sort"
	"sync"
)

// Topic fans a value out to every registered listener.
type Topic[T any] struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(T)
}

// New creates an empty topic.
func New[T any]() *Topic[T] {
	return &Topic[T]{listeners: make(map[int]func(T))}
}

// Listen registers fn and returns the handle that removes it. The handle
// may be called more than once.
func (t *Topic[T]) Listen(fn func(T)) (unlisten func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// Trigger calls every listener with v in registration order. Listeners run
// on the caller's goroutine and must not block.
func (t *Topic[T]) Trigger(v T) {
	t.mu.RLock()
	ids := make([]int, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	fns := make([]func(T), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, t.listeners[id])
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}
