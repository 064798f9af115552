package bus

import (
	"context"
	"sync"
	"time"

	"main/internal/exchange"
	"main/internal/order"
	"main/pkg/exception"
)

// Request is one order ask from a strategy, before an id is allocated.
type Request struct {
	StrategyID int64
	Spec       exchange.OrderSpec
	Policy     order.Policy
	Force      time.Time
}

// Queue is the bounded multi-producer single-consumer work queue
// between strategy workers and the order worker. The lock excludes
// in-flight pushes while closing, so a send can never hit the closed
// channel.
type Queue struct {
	ch chan Request

	mu     sync.RWMutex
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Request, capacity)}
}

// TryPush enqueues a request without blocking.
func (q *Queue) TryPush(r Request) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrOrderQueueClosed
	}
	select {
	case q.ch <- r:
		return nil
	default:
		return exception.ErrOrderQueueFull
	}
}

// TryPop dequeues a request without blocking.
func (q *Queue) TryPop() (Request, bool) {
	select {
	case r, ok := <-q.ch:
		if !ok {
			return Request{}, false
		}
		return r, true
	default:
		return Request{}, false
	}
}

// Pop blocks for the next request until the context is done or the
// queue is closed and drained.
func (q *Queue) Pop(ctx context.Context) (Request, bool) {
	select {
	case r, ok := <-q.ch:
		if !ok {
			return Request{}, false
		}
		return r, true
	case <-ctx.Done():
		return Request{}, false
	}
}

// Len returns the number of buffered requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new requests. Buffered requests
// remain poppable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
