// Package shardring provides the bounded lock-free ring placed between
// producer threads and a shard's writer. Push is multi-producer; Pop uses a
// CAS on the head so the occasional discard under a drop-oldest policy is
// safe next to the primary consumer. Both operations are O(1) and
// allocation free.
//
// The algorithm is the well-known bounded queue with per-cell sequence
// counters: a cell whose sequence equals the ticket is free to claim,
// claiming advances the sequence, and lagging sequences mean full (push
// side) or empty (pop side).
package shardring

import (
	"fmt"
	"sync/atomic"
)

type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a bounded multi-producer ring of fixed power-of-two capacity.
type Ring[T any] struct {
	cells []cell[T]
	mask  uint64

	_    [64]byte // keep the hot counters on separate cache lines
	tail atomic.Uint64
	_    [64]byte
	head atomic.Uint64
}

// New returns a ring of the given capacity. Capacity must be a power of
// two and at least 2.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring capacity must be a power of two >= 2, got %d", capacity)
	}
	r := &Ring[T]{
		cells: make([]cell[T], capacity),
		mask:  uint64(capacity - 1),
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r, nil
}

// Push enqueues v. It returns false when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	pos := r.tail.Load()
	for {
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				c.val = v
				c.seq.Store(pos + 1)
				return true
			}
			pos = r.tail.Load()
		case diff < 0:
			return false
		default:
			pos = r.tail.Load()
		}
	}
}

// Pop dequeues the oldest element. It returns false when the ring is
// empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	pos := r.head.Load()
	for {
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				v := c.val
				c.val = zero
				c.seq.Store(pos + r.mask + 1)
				return v, true
			}
			pos = r.head.Load()
		case diff < 0:
			return zero, false
		default:
			pos = r.head.Load()
		}
	}
}

// PopBatch dequeues up to len(dst) elements and returns how many were
// written.
func (r *Ring[T]) PopBatch(dst []T) int {
	n := 0
	for n < len(dst) {
		v, ok := r.Pop()
		if !ok {
			break
		}
		dst[n] = v
		n++
	}
	return n
}

// Len reports the current depth. It is approximate under concurrency but
// never exceeds Cap.
func (r *Ring[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	if d := tail - head; d <= uint64(len(r.cells)) {
		return int(d)
	}
	return len(r.cells)
}

// Cap is the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.cells) }
