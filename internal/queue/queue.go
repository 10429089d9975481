package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueClosed indicates the queue is closed
	ErrQueueClosed = errors.New("queue closed")

	// ErrTimeout indicates no item became available before the deadline
	ErrTimeout = errors.New("dequeue timeout")
)

// Policy decides what a bounded queue does when it is full.
type Policy int

const (
	// PolicyUnbounded never refuses an item; capacity is ignored.
	PolicyUnbounded Policy = iota
	// PolicyBlock makes producers wait for room.
	PolicyBlock
	// PolicyDropOldest evicts the head to make room for the new item.
	PolicyDropOldest
)

var policyNames = [...]string{
	PolicyUnbounded:  "unbounded",
	PolicyBlock:      "block",
	PolicyDropOldest: "drop_oldest",
}

func (p Policy) String() string {
	if p < 0 || int(p) >= len(policyNames) {
		return fmt.Sprintf("policy(%d)", int(p))
	}
	return policyNames[p]
}

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	for i, name := range policyNames {
		if strings.EqualFold(s, name) {
			return Policy(i), nil
		}
	}
	return PolicyUnbounded, fmt.Errorf("unknown queue policy %q", s)
}

// Queue is a thread-safe FIFO shared by one producer side and one consumer
// side. Consumers can block on it with a context or a timeout.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	capacity int
	policy   Policy

	notEmpty chan struct{}
	notFull  chan struct{}

	onDrop    func(T)
	evictable func(T) bool

	// Metrics
	depth    atomic.Int64
	enqueued atomic.Uint64
	dequeued atomic.Uint64
	dropped  atomic.Uint64

	// State
	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Depth    int64  `json:"depth"`
	Capacity int    `json:"capacity"`
	Policy   string `json:"policy"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Dropped  uint64 `json:"dropped"`
}

// New creates a queue. A capacity of zero or less makes the queue unbounded
// regardless of policy.
func New[T any](capacity int, policy Policy) *Queue[T] {
	if capacity <= 0 {
		policy = PolicyUnbounded
	}
	return &Queue[T]{
		capacity: capacity,
		policy:   policy,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
}

// OnDrop registers a callback invoked for every item evicted under
// PolicyDropOldest. It must be set before the queue is shared.
func (q *Queue[T]) OnDrop(fn func(T)) {
	q.onDrop = fn
}

// Evictable restricts PolicyDropOldest to items for which fn reports
// true; the oldest such item is evicted. When nothing queued is evictable
// the new item is appended beyond capacity. It must be set before the
// queue is shared.
func (q *Queue[T]) Evictable(fn func(T) bool) {
	q.evictable = fn
}

// Enqueue appends an item. Under PolicyBlock it waits for room until ctx is
// done or the queue is closed.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	for {
		if q.closed.Load() {
			return ErrQueueClosed
		}

		q.mu.Lock()
		if q.policy == PolicyUnbounded || q.lenLocked() < q.capacity {
			q.pushLocked(item)
			q.mu.Unlock()
			q.signal(q.notEmpty)
			return nil
		}

		if q.policy == PolicyDropOldest {
			evicted, ok := q.evictLocked()
			q.pushLocked(item)
			q.mu.Unlock()
			if ok {
				q.dropped.Add(1)
				if q.onDrop != nil {
					q.onDrop(evicted)
				}
			}
			q.signal(q.notEmpty)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
		case <-q.closeCh:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Requeue puts an item taken from the head back in front of the queue,
// ignoring capacity. It is for consumers that dequeued an item they could
// not deliver; counters read as if the item had never left.
func (q *Queue[T]) Requeue(item T) {
	q.mu.Lock()
	if q.head > 0 {
		q.head--
		q.items[q.head] = item
	} else {
		q.items = append(q.items, item)
		copy(q.items[1:], q.items)
		q.items[0] = item
	}
	q.depth.Add(1)
	if q.dequeued.Load() > 0 {
		q.dequeued.Add(^uint64(0))
	}
	q.mu.Unlock()
	q.signal(q.notEmpty)
}

// TryDequeue removes the head item without waiting.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	if q.lenLocked() == 0 {
		q.mu.Unlock()
		var zero T
		return zero, false
	}
	item := q.popLocked()
	more := q.lenLocked() > 0
	q.mu.Unlock()

	if more {
		q.signal(q.notEmpty)
	}
	q.signal(q.notFull)
	return item, true
}

// Dequeue waits for the head item until ctx is done. Items still queued
// when the queue is closed are handed out before ErrQueueClosed.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	return q.dequeue(ctx, nil)
}

// DequeueTimeout waits at most timeout for the head item. A non-positive
// timeout waits until the queue is closed.
func (q *Queue[T]) DequeueTimeout(timeout time.Duration) (T, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	return q.dequeue(context.Background(), timeoutCh)
}

// DequeueContext combines a context with a timeout, which is how decode
// loops wait for input.
func (q *Queue[T]) DequeueContext(ctx context.Context, timeout time.Duration) (T, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	return q.dequeue(ctx, timeoutCh)
}

func (q *Queue[T]) dequeue(ctx context.Context, timeoutCh <-chan time.Time) (T, error) {
	var zero T
	for {
		if item, ok := q.TryDequeue(); ok {
			return item, nil
		}
		if q.closed.Load() {
			return zero, ErrQueueClosed
		}

		select {
		case <-q.notEmpty:
		case <-q.closeCh:
		case <-timeoutCh:
			return zero, ErrTimeout
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Wait blocks until the queue has an item, the timeout expires, ctx is done
// or the queue is closed. It reports whether an item is available.
func (q *Queue[T]) Wait(ctx context.Context, timeout time.Duration) bool {
	return q.WaitWake(ctx, timeout, nil)
}

// WaitWake is Wait with an extra wake channel; a receive on wake also ends
// the wait.
func (q *Queue[T]) WaitWake(ctx context.Context, timeout time.Duration, wake <-chan struct{}) bool {
	if q.Len() > 0 {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-q.notEmpty:
		// Put the token back so a subsequent dequeue does not miss it.
		q.signal(q.notEmpty)
		return true
	case <-wake:
	case <-timer.C:
	case <-q.closeCh:
	case <-ctx.Done():
	}
	return q.Len() > 0
}

// Drain removes and returns every queued item.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	n := q.lenLocked()
	out := make([]T, 0, n)
	for q.lenLocked() > 0 {
		out = append(out, q.popLocked())
	}
	q.mu.Unlock()

	if n > 0 {
		q.signal(q.notFull)
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return int(q.depth.Load())
}

// Cap returns the configured capacity, zero when unbounded.
func (q *Queue[T]) Cap() int {
	if q.policy == PolicyUnbounded {
		return 0
	}
	return q.capacity
}

// Policy returns the overflow policy in effect.
func (q *Queue[T]) Policy() Policy {
	return q.policy
}

// Close stops accepting items and wakes every waiter. It is safe to call
// more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.closeCh)
	})
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	return q.closed.Load()
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Depth:    q.depth.Load(),
		Capacity: q.Cap(),
		Policy:   q.policy.String(),
		Enqueued: q.enqueued.Load(),
		Dequeued: q.dequeued.Load(),
		Dropped:  q.dropped.Load(),
	}
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

func (q *Queue[T]) pushLocked(item T) {
	q.items = append(q.items, item)
	q.depth.Add(1)
	q.enqueued.Add(1)
}

func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Compact once the consumed prefix dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = zero
		}
		q.items = q.items[:n]
		q.head = 0
	}

	q.depth.Add(-1)
	q.dequeued.Add(1)
	return item
}

// evictLocked removes the oldest evictable item.
func (q *Queue[T]) evictLocked() (T, bool) {
	var zero T
	for i := q.head; i < len(q.items); i++ {
		if q.evictable != nil && !q.evictable(q.items[i]) {
			continue
		}
		if i == q.head {
			return q.popLocked(), true
		}
		item := q.items[i]
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = zero
		q.items = q.items[:len(q.items)-1]
		q.depth.Add(-1)
		q.dequeued.Add(1)
		return item, true
	}
	return zero, false
}

func (q *Queue[T]) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
