package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrEngineUnresponsive is returned when the engine does not reach a safe point in time.
var ErrEngineUnresponsive = errors.New("effect engine unresponsive")

// StopToken is the cancellation flag shared between front-ends and the engine.
//
// Any goroutine may RequestStop. Only the engine clears the flag, through
// Acknowledge, after it has halted the animation. Each request returns the
// acknowledgement channel of its generation, so a waiter can never miss the
// acknowledgement it asked for.
type StopToken struct {
	flag atomic.Bool
	wake chan struct{}

	mu       sync.Mutex
	ack      chan struct{}
	released bool
}

// NewStopToken creates a cleared token.
func NewStopToken() *StopToken {
	return &StopToken{
		wake: make(chan struct{}, 1),
		ack:  make(chan struct{}),
	}
}

// RequestStop sets the flag and returns a channel closed at the next acknowledgement.
// It is idempotent: requests before the acknowledgement share one channel.
func (t *StopToken) RequestStop() <-chan struct{} {
	t.mu.Lock()
	ack := t.ack
	if !t.released {
		t.flag.Store(true)
	}
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return ack
}

// ShouldStop reports whether a stop is pending. It never blocks.
func (t *StopToken) ShouldStop() bool {
	return t.flag.Load()
}

// Wake fires after RequestStop so an idle engine notices the request.
func (t *StopToken) Wake() <-chan struct{} {
	return t.wake
}

// Acknowledge clears the flag and releases every waiter of the current generation.
// It must only be called by the engine at a safe point.
func (t *StopToken) Acknowledge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.flag.Store(false)
	close(t.ack)
	t.ack = make(chan struct{})
}

// release is called when the engine exits; pending and future waiters return at once.
func (t *StopToken) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	t.flag.Store(false)
	close(t.ack)
}

// AwaitAck waits for ack, the context, or the timeout, whichever comes first.
func AwaitAck(ctx context.Context, ack <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ack:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no stop acknowledgement within %s", ErrEngineUnresponsive, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
