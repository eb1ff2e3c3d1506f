// ABOUTME: Thread-safe ring buffer that overwrites the oldest data when full
// ABOUTME: Backs every sink so real-time producers never block on a slow consumer
package output

import (
	"sync"
)

// Ring is a fixed-capacity FIFO. Writes never block: when there is not enough room
// the oldest whole frames are discarded. For T=byte it satisfies io.ReadWriter.
type Ring[T any] struct {
	data    []T
	head    int
	size    int
	frame   int
	dropped uint64
	notify  chan struct{}
	mu      sync.Mutex
}

// NewRing creates a ring holding capacity elements. frame is the alignment unit
// used when discarding (bytes per interleaved frame for PCM); values below 1 mean 1.
func NewRing[T any](capacity, frame int) *Ring[T] {
	if frame < 1 {
		frame = 1
	}
	capacity -= capacity % frame
	if capacity < frame {
		capacity = frame
	}
	return &Ring[T]{
		data:   make([]T, capacity),
		frame:  frame,
		notify: make(chan struct{}, 1),
	}
}

// Write appends p, discarding the oldest frames if needed. It always reports len(p).
func (r *Ring[T]) Write(p []T) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	r.mu.Lock()
	capacity := len(r.data)

	if len(p) > capacity {
		// Only the newest capacity elements survive
		skip := len(p) - capacity
		r.dropped += uint64(r.size + skip)
		p = p[skip:]
		r.head = 0
		r.size = 0
	}

	if free := capacity - r.size; len(p) > free {
		need := len(p) - free
		drop := (need + r.frame - 1) / r.frame * r.frame
		if drop > r.size {
			drop = r.size
		}
		var zero T
		for i := 0; i < drop; i++ {
			r.data[(r.head+i)%capacity] = zero
		}
		r.head = (r.head + drop) % capacity
		r.size -= drop
		r.dropped += uint64(drop)
	}

	tail := (r.head + r.size) % capacity
	copied := copy(r.data[tail:], p)
	if copied < len(p) {
		copy(r.data, p[copied:])
	}
	r.size += len(p)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return n, nil
}

// Read copies up to len(p) buffered elements into p, rounded down to whole frames
// when at least one frame fits. It returns 0 when the ring is empty.
func (r *Ring[T]) Read(p []T) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked(p), nil
}

// ReadExact reads exactly len(p) elements, or nothing if fewer are buffered
func (r *Ring[T]) ReadExact(p []T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(p) {
		return false
	}
	r.readLocked(p)
	return true
}

func (r *Ring[T]) readLocked(p []T) int {
	n := min(len(p), r.size)
	if n >= r.frame {
		n -= n % r.frame
	}
	if n == 0 {
		return 0
	}

	capacity := len(r.data)
	first := copy(p[:n], r.data[r.head:min(r.head+n, capacity)])
	if first < n {
		copy(p[first:n], r.data[:n-first])
	}
	r.head = (r.head + n) % capacity
	r.size -= n
	return n
}

// Len returns the number of buffered elements
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity
func (r *Ring[T]) Cap() int {
	return len(r.data)
}

// Dropped returns how many elements have been discarded on overflow
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Reset empties the ring
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
}

// Notify returns a channel that receives after writes. Signals coalesce, so a
// reader should drain the ring completely each time it wakes up.
func (r *Ring[T]) Notify() <-chan struct{} {
	return r.notify
}
