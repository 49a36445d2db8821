// internal/storage/memory.go
package storage

import "sync"

// Ring keeps the last capacity values in arrival order.
type Ring[T any] struct {
	mu       sync.RWMutex
	buffer   []T
	capacity int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		buffer:   make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest value once the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buffer) >= r.capacity {
		copy(r.buffer, r.buffer[1:])
		r.buffer = r.buffer[:len(r.buffer)-1]
	}
	r.buffer = append(r.buffer, v)
}

// Snapshot returns a copy of the values, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.buffer))
	copy(out, r.buffer)
	return out
}

// Last returns the newest value.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if len(r.buffer) == 0 {
		return zero, false
	}
	return r.buffer[len(r.buffer)-1], true
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buffer)
}

func (r *Ring[T]) Cap() int { return r.capacity }

// Recent is a newest-first log bounded to capacity entries.
type Recent[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
}

func NewRecent[T any](capacity int) *Recent[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Recent[T]{
		items:    make([]T, 0, capacity+1),
		capacity: capacity,
	}
}

// PushFront inserts v at the head and drops the tail once over capacity.
func (r *Recent[T]) PushFront(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, v)
	copy(r.items[1:], r.items[:len(r.items)-1])
	r.items[0] = v
	if len(r.items) > r.capacity {
		r.items = r.items[:r.capacity]
	}
}

// Head returns the newest entry.
func (r *Recent[T]) Head() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	return r.items[0], true
}

// Snapshot returns a copy of the entries, newest first.
func (r *Recent[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Recent[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Recent[T]) Cap() int { return r.capacity }
