package match

import (
	"context"
	"runtime"
	"sync/atomic"
)

// EventHandler processes events drained from a RingBuffer.
type EventHandler[T any] interface {
	OnEvent(event *T)
}

// RingBuffer is a single-consumer, multi-producer lock-free ring buffer.
type RingBuffer[T any] struct {
	// Cache line padding to avoid false sharing between producer and consumer sequences.
	_                [56]byte
	producerSequence atomic.Int64
	_                [56]byte
	consumerSequence atomic.Int64
	_                [56]byte

	buffer     []T
	bufferMask int64
	capacity   int64

	// published[i] holds the sequence number last written into slot i, or -1
	// if the slot has never been published. The consumer spins on this to
	// detect when a claimed slot becomes visible.
	published []int64

	handler EventHandler[T]

	isShutdown atomic.Bool
}

// NewRingBuffer creates a new MPSC ring buffer. capacity must be a power of 2.
func NewRingBuffer[T any](capacity int64, handler EventHandler[T]) *RingBuffer[T] {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		panic("size must be a power of 2")
	}

	rb := &RingBuffer[T]{
		buffer:     make([]T, capacity),
		published:  make([]int64, capacity),
		capacity:   capacity,
		bufferMask: capacity - 1,
		handler:    handler,
	}

	rb.producerSequence.Store(-1)
	rb.consumerSequence.Store(-1)

	for i := range rb.published {
		rb.published[i] = -1
	}

	return rb
}

// claimSequence reserves the next producer slot, spinning until there is
// room in the ring. Returns -1 once the buffer has been shut down.
func (rb *RingBuffer[T]) claimSequence() int64 {
	for {
		if rb.isShutdown.Load() {
			return -1
		}

		currentProducerSeq := rb.producerSequence.Load()
		nextSeq := currentProducerSeq + 1

		// The producer must not lap the consumer by more than one buffer length.
		wrapPoint := nextSeq - rb.capacity
		consumerSeq := rb.consumerSequence.Load()

		if wrapPoint > consumerSeq {
			runtime.Gosched()
			continue
		}

		if rb.producerSequence.CompareAndSwap(currentProducerSeq, nextSeq) {
			return nextSeq
		}
		runtime.Gosched()
	}
}

// Publish copies event into the next free slot and makes it visible to the consumer.
func (rb *RingBuffer[T]) Publish(event T) {
	seq := rb.claimSequence()
	if seq == -1 {
		return
	}

	index := seq & rb.bufferMask
	rb.buffer[index] = event
	atomic.StoreInt64(&rb.published[index], seq)
}

// Claim reserves the next slot and returns a pointer directly into the ring
// buffer so the caller can fill it in without an extra copy. The caller must
// call Commit with the returned sequence once the slot is filled. Returns
// (-1, nil) if the buffer has been shut down.
func (rb *RingBuffer[T]) Claim() (int64, *T) {
	seq := rb.claimSequence()
	if seq == -1 {
		return -1, nil
	}

	index := seq & rb.bufferMask
	return seq, &rb.buffer[index]
}

// Commit makes a slot reserved via Claim visible to the consumer.
func (rb *RingBuffer[T]) Commit(seq int64) {
	index := seq & rb.bufferMask
	atomic.StoreInt64(&rb.published[index], seq)
}

// Run drives the consumer loop until Shutdown has drained the buffer.
// Callers invoke it as `go rb.Run()`.
func (rb *RingBuffer[T]) Run() {
	nextConsumerSeq := rb.consumerSequence.Load() + 1

	for {
		availableSeq := rb.producerSequence.Load()

		if rb.isShutdown.Load() {
			rb.drain(nextConsumerSeq)
			return
		}

		processed := false
		for nextConsumerSeq <= availableSeq {
			index := nextConsumerSeq & rb.bufferMask

			for atomic.LoadInt64(&rb.published[index]) != nextConsumerSeq {
				runtime.Gosched()
			}

			rb.handler.OnEvent(&rb.buffer[index])

			rb.consumerSequence.Store(nextConsumerSeq)
			nextConsumerSeq++
			processed = true
		}

		if !processed {
			runtime.Gosched()
		}
	}
}

// drain processes every claimed-but-unconsumed event at shutdown.
func (rb *RingBuffer[T]) drain(nextConsumerSeq int64) {
	availableSeq := rb.producerSequence.Load()

	for nextConsumerSeq <= availableSeq {
		index := nextConsumerSeq & rb.bufferMask

		for atomic.LoadInt64(&rb.published[index]) != nextConsumerSeq {
			runtime.Gosched()
		}

		rb.handler.OnEvent(&rb.buffer[index])

		rb.consumerSequence.Store(nextConsumerSeq)
		nextConsumerSeq++
	}
}

// Shutdown stops accepting new publishes and blocks until the consumer has
// drained everything already claimed, or ctx is done.
func (rb *RingBuffer[T]) Shutdown(ctx context.Context) error {
	rb.isShutdown.Store(true)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if rb.ConsumerSequence() >= rb.ProducerSequence() {
				return nil
			}
			runtime.Gosched()
		}
	}
}

// ConsumerSequence returns the sequence number last consumed.
func (rb *RingBuffer[T]) ConsumerSequence() int64 {
	return rb.consumerSequence.Load()
}

// ProducerSequence returns the sequence number last claimed by a producer.
func (rb *RingBuffer[T]) ProducerSequence() int64 {
	return rb.producerSequence.Load()
}

// GetPendingEvents returns the number of claimed events not yet consumed.
func (rb *RingBuffer[T]) GetPendingEvents() int64 {
	producerSeq := rb.producerSequence.Load()
	consumerSeq := rb.consumerSequence.Load()
	return producerSeq - consumerSeq
}
