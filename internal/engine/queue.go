package engine

import (
	"errors"
	"sync"

	"kbrgb-controller/internal/core"
)

// ErrChannelClosed is returned when sending after the engine has terminated.
var ErrChannelClosed = errors.New("command channel closed")

// Queue is the unbounded many-producer, single-consumer command channel.
// Send never blocks; commands from one producer keep their send order.
type Queue struct {
	mu     sync.Mutex
	items  []core.Command
	ready  chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Send enqueues cmd, or returns ErrChannelClosed once the consumer is gone.
func (q *Queue) Send(cmd core.Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrChannelClosed
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready fires when at least one command may be waiting.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain takes every pending command in arrival order.
func (q *Queue) drain() []core.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// close rejects later sends and returns whatever was still pending.
func (q *Queue) close() []core.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	items := q.items
	q.items = nil
	return items
}
