// Package memory provides the bounded in-process priority queue feeding the worker pool.
package memory

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned once the queue is closed and, for Dequeue, drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded priority queue with context-aware operations.
// Higher priorities dequeue first; equal priorities dequeue in FIFO order.
type Queue[T any] struct {
	mu     sync.Mutex
	items  itemHeap[T]
	seq    uint64
	closed bool

	// space holds one token per occupied slot; avail one token per queued item.
	space chan struct{}
	avail chan struct{}
	done  chan struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		space: make(chan struct{}, capacity),
		avail: make(chan struct{}, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue pushes value with the given priority, blocking while the queue is full.
func (q *Queue[T]) Enqueue(ctx context.Context, value T, priority int) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.space <- struct{}{}:
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		<-q.space
		return ErrClosed
	}
	q.seq++
	heap.Push(&q.items, &item[T]{value: value, priority: priority, seq: q.seq})
	// Never blocks: avail has the same capacity as space.
	q.avail <- struct{}{}
	return nil
}

// Dequeue pops the highest-priority value. After Close it keeps returning
// queued values until the queue is empty, then ErrClosed.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.avail:
		return q.pop(), nil
	case <-q.done:
		select {
		case <-q.avail:
			return q.pop(), nil
		default:
			return zero, ErrClosed
		}
	}
}

func (q *Queue[T]) pop() T {
	q.mu.Lock()
	it := heap.Pop(&q.items).(*item[T]) //nolint:forcetypeassert // heap only holds *item[T]
	q.mu.Unlock()
	<-q.space
	return it.value
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close stops accepting new values. Queued values remain dequeueable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

type item[T any] struct {
	value    T
	priority int
	seq      uint64
}

type itemHeap[T any] []*item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap[T]) Push(x any) {
	*h = append(*h, x.(*item[T])) //nolint:forcetypeassert // heap only holds *item[T]
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
