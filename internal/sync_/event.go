package sync_

import (
	"context"
	"sync"
)

// Event is a boolean flag that goroutines can wait on, in the manner of Python's threading.Event.
type Event struct {
	mu    sync.Mutex
	ch    chan struct{}
	value bool
}

func NewEvent() *Event {
	return &Event{}
}

func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Set makes the Event true and wakes all waiters. Returns false if it was already set.
func (e *Event) Set() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.value {
		return false
	}
	e.value = true
	close(e.channel())
	return true
}

// Clear makes the Event false. Returns false if it was already clear.
func (e *Event) Clear() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.value {
		return false
	}
	e.value = false
	e.ch = nil
	return true
}

// Wait returns a channel that is closed once the Event is set (which may be immediately).
func (e *Event) Wait() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel()
}

// WaitContext blocks until the Event is set or ctx is done.
func (e *Event) WaitContext(ctx context.Context) error {
	select {
	case <-e.Wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// channel must be called with mu held.
func (e *Event) channel() chan struct{} {
	if e.ch == nil {
		e.ch = make(chan struct{})
	}
	return e.ch
}
