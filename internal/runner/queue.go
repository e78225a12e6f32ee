package runner

import (
	"context"
	"sync"
)

// textQueue is an unbounded FIFO between one producer and one consumer.
// push never blocks; notify holds at most one pending wake-up.
type textQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	err    error
	notify chan struct{}
}

func newTextQueue() *textQueue {
	return &textQueue{notify: make(chan struct{}, 1)}
}

func (q *textQueue) push(s string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, s)
	q.mu.Unlock()
	q.wake()
}

// close marks the end of the sequence. Items already queued stay readable.
func (q *textQueue) close(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.err = err
	q.mu.Unlock()
	q.wake()
}

func (q *textQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available, the queue is closed and drained, or
// ctx is done.
func (q *textQueue) pop(ctx context.Context) (string, bool, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			s := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return s, true, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", false, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func (q *textQueue) failure() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}
