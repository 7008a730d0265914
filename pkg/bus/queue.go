package bus

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/metrics"
	"github.com/gammazero/deque"
)

// Queue is a bounded FIFO. Publishing never blocks: when the queue is full
// the oldest item is dropped and counted. Pinned items are only dropped
// when nothing else is queued.
type Queue[T any] struct {
	name     string
	mu       sync.Mutex
	items    *deque.Deque[T]
	capacity int
	pinned   func(T) bool
	dropped  uint64
	ready    chan struct{}
}

func NewQueue[T any](name string, capacity int) *Queue[T] {
	return NewPinnedQueue[T](name, capacity, nil)
}

// NewPinnedQueue is NewQueue with items matching pinned kept over others
// when the queue overflows.
func NewPinnedQueue[T any](name string, capacity int, pinned func(T) bool) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		name:     name,
		items:    deque.New[T](capacity),
		capacity: capacity,
		pinned:   pinned,
		ready:    make(chan struct{}, 1),
	}
}

// evictLocked drops the oldest unpinned item, or the oldest item when all
// are pinned.
func (q *Queue[T]) evictLocked() {
	if q.pinned != nil {
		n := q.items.Len()
		for i := 0; i < n; i++ {
			if q.pinned(q.items.At(i)) {
				continue
			}
			// rotate the victim out, keeping the order of the rest
			for j := 0; j < n; j++ {
				v := q.items.PopFront()
				if j != i {
					q.items.PushBack(v)
				}
			}
			return
		}
	}
	q.items.PopFront()
}

// Publish appends v and reports whether an older item had to be dropped.
func (q *Queue[T]) Publish(v T) (dropped bool) {
	q.mu.Lock()
	if q.items.Len() == q.capacity {
		q.evictLocked()
		q.dropped++
		dropped = true
		metrics.BusDropped.WithLabelValues(q.name).Inc()
	}
	q.items.PushBack(v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// TryReceive pops the oldest item without waiting.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items.PopFront(), true
}

// Receive waits at most budget for an item.
func (q *Queue[T]) Receive(ctx context.Context, budget time.Duration) (T, bool) {
	if v, ok := q.TryReceive(); ok {
		return v, true
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()
	for {
		select {
		case <-q.ready:
			if v, ok := q.TryReceive(); ok {
				return v, true
			}
		case <-timer.C:
			return q.TryReceive()
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Drain pops everything currently queued.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, q.items.Len())
	for q.items.Len() > 0 {
		out = append(out, q.items.PopFront())
	}
	return out
}

// Ready signals after a Publish. Use it in a select, then TryReceive or
// Drain until empty.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) Name() string {
	return q.name
}
