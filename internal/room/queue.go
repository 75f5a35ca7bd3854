package room

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/doodlelabs/doodlechat/internal/metrics"
)

// ErrQueueDead is returned by Enqueue once the subscriber transport has died.
var ErrQueueDead = errors.New("message queue is dead")

const (
	// deliveryPacing keeps one fast sender from starving other queues.
	deliveryPacing = 10 * time.Millisecond
	// transientRetryDelay is the pause before retrying a transient failure.
	transientRetryDelay = 500 * time.Millisecond
)

// DeliverFunc writes one formatted line to the subscriber transport.
type DeliverFunc func(msg string) error

// MessageQueue is a per-subscriber FIFO with a single serial drain worker.
// The worker is spawned on demand by Enqueue and exits when the queue
// empties; a transport-dead delivery error kills the queue permanently.
type MessageQueue struct {
	mu         sync.Mutex
	items      []string
	processing bool
	dead       bool

	deliver DeliverFunc
}

// NewMessageQueue creates a queue delivering through the given closure.
func NewMessageQueue(deliver DeliverFunc) *MessageQueue {
	return &MessageQueue{deliver: deliver}
}

// Enqueue appends msg and ensures a drain worker is running. It never blocks.
// Once the queue is dead every enqueue is a no-op.
func (q *MessageQueue) Enqueue(msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dead {
		return ErrQueueDead
	}
	q.items = append(q.items, msg)
	if !q.processing {
		q.processing = true
		go q.drain()
	}
	return nil
}

// Kill marks the queue dead and discards anything still pending. Used when a
// subscriber is removed or replaced by a rejoin.
func (q *MessageQueue) Kill() {
	q.mu.Lock()
	q.dead = true
	q.items = nil
	q.mu.Unlock()
}

// Dead reports whether the queue has been killed or hit a dead transport.
func (q *MessageQueue) Dead() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dead
}

// Len returns the number of undelivered messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MessageQueue) drain() {
	for {
		q.mu.Lock()
		if q.dead || len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		msg := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := q.deliver(msg); err != nil {
			if isTransportDead(err) {
				metrics.DroppedDeliveriesTotal.Inc()
				q.mu.Lock()
				q.dead = true
				q.items = nil
				q.processing = false
				q.mu.Unlock()
				return
			}
			// Transient failure: put the message back at the head and
			// pause before retrying.
			q.mu.Lock()
			if !q.dead {
				q.items = append([]string{msg}, q.items...)
			}
			q.mu.Unlock()
			time.Sleep(transientRetryDelay)
			continue
		}

		time.Sleep(deliveryPacing)
	}
}

// isTransportDead classifies delivery errors. Closed sockets, broken pipes
// and resets are terminal; everything else is treated as transient.
func isTransportDead(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
