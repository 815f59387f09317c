package match

import (
	"context"
	"runtime"
	"sync/atomic"
)

// ingressCell is one slot of an IngressQueue. seq tracks which of the
// slot's two roles (empty, ready to write vs. ready to read) is current,
// the same per-slot sequence-claiming idea disruptor.go uses for its
// single-consumer ring, generalized here so either role may be claimed by
// any number of producers or consumers via CompareAndSwap.
type ingressCell[T any] struct {
	seq  atomic.Int64
	data T
}

// IngressQueue is a bounded, lock-free multi-producer multi-consumer ring
// buffer. Push never blocks: once the ring is full it returns ErrQueueFull
// immediately. Any number of consumer workers may call TryPop/Pop
// concurrently; each claims the next slot via the same compare-and-swap
// pattern disruptor.go's RingBuffer uses for its single producer side,
// applied here to both ends.
type IngressQueue[T any] struct {
	mask    int64
	buffer  []ingressCell[T]
	enqueue atomic.Int64
	dequeue atomic.Int64
}

// NewIngressQueue creates a bounded MPMC queue. capacity must be a power
// of two.
func NewIngressQueue[T any](capacity int64) *IngressQueue[T] {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		panic("capacity must be a power of 2")
	}

	q := &IngressQueue[T]{
		mask:   capacity - 1,
		buffer: make([]ingressCell[T], capacity),
	}
	for i := range q.buffer {
		q.buffer[i].seq.Store(int64(i))
	}
	return q
}

// Push enqueues item, returning ErrQueueFull if the ring has no free slot.
func (q *IngressQueue[T]) Push(item T) error {
	for {
		pos := q.enqueue.Load()
		cell := &q.buffer[pos&q.mask]
		seq := cell.seq.Load()

		switch diff := seq - pos; {
		case diff == 0:
			if q.enqueue.CompareAndSwap(pos, pos+1) {
				cell.data = item
				cell.seq.Store(pos + 1)
				return nil
			}
		case diff < 0:
			return ErrQueueFull
		default:
			runtime.Gosched()
		}
	}
}

// TryPop dequeues one item without blocking. ok is false if the queue was
// empty.
func (q *IngressQueue[T]) TryPop() (item T, ok bool) {
	for {
		pos := q.dequeue.Load()
		cell := &q.buffer[pos&q.mask]
		seq := cell.seq.Load()

		switch diff := seq - (pos + 1); {
		case diff == 0:
			if q.dequeue.CompareAndSwap(pos, pos+1) {
				item = cell.data
				var zero T
				cell.data = zero
				cell.seq.Store(pos + int64(len(q.buffer)))
				return item, true
			}
		case diff < 0:
			return item, false
		default:
			runtime.Gosched()
		}
	}
}

// Pop dequeues one item, blocking (spin-waiting) until one is available or
// ctx is done.
func (q *IngressQueue[T]) Pop(ctx context.Context) (item T, err error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return item, ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

// Len returns an approximation of the number of items currently queued.
// It is exact only when no producer or consumer is mid-claim.
func (q *IngressQueue[T]) Len() int64 {
	return q.enqueue.Load() - q.dequeue.Load()
}

// Cap returns the queue's fixed capacity.
func (q *IngressQueue[T]) Cap() int64 {
	return int64(len(q.buffer))
}
