// Package ringbuffer provides a thread-safe circular buffer.
package ringbuffer

import "sync"

// RingBuffer keeps the most recent items up to a fixed capacity,
// overwriting the oldest when full.
type RingBuffer[T any] struct {
	buf  []T
	cap  int
	head int
	size int
	mu   sync.RWMutex
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &RingBuffer[T]{
		buf: make([]T, capacity),
		cap: capacity,
	}
}

// Push adds an item, overwriting the oldest one if the buffer is full.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = item
	r.head = (r.head + 1) % r.cap
	if r.size < r.cap {
		r.size++
	}
}

// LastN returns up to n of the newest items, oldest first.
func (r *RingBuffer[T]) LastN(n int) []T {
	if n <= 0 {
		return []T{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	count := n
	if count > r.size {
		count = r.size
	}

	result := make([]T, count)
	start := (r.head - count + r.cap) % r.cap
	for i := 0; i < count; i++ {
		result[i] = r.buf[(start+i)%r.cap]
	}
	return result
}

// All returns every stored item, oldest first.
func (r *RingBuffer[T]) All() []T {
	return r.LastN(r.cap)
}

// Size returns the number of stored items.
func (r *RingBuffer[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum number of items kept.
func (r *RingBuffer[T]) Capacity() int {
	return r.cap
}
