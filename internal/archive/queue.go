package archive

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrQueueFull   = errors.New("archive: record queue full")
	ErrQueueClosed = errors.New("archive: record queue closed")
)

// queue is a bounded, non-blocking record queue decoupling the
// consumer event loop from archive writes. The loop must never block
// on the database, so enqueue is try-only and a full queue drops the
// record at the caller.
type queue struct {
	ch     chan Record
	closed uint32
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &queue{ch: make(chan Record, capacity)}
}

// tryPublish enqueues a record without blocking.
func (q *queue) tryPublish(rec Record) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- rec:
		return nil
	default:
		return ErrQueueFull
	}
}

// close stops the queue from accepting new records. Buffered records
// remain drainable.
func (q *queue) close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// run consumes records until the context is done or the queue is
// closed and drained.
func (q *queue) run(ctx context.Context, handler func(Record)) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-q.ch:
			if !ok {
				return
			}
			handler(rec)
		}
	}
}
