// Package pubsub fans session events out to any number of subscribers.
package pubsub

import (
	"sync"
)

type Sender[T any] interface {
	// Send delivers msg, blocking until there is room. Returns false if the receiving end is closed.
	Send(T) bool
	// TrySend delivers msg only if it can be done without blocking.
	TrySend(T) bool
}

type Receiver[T any] interface {
	Receive() <-chan T
}

type Closer interface {
	Close()
	// Closed returns a channel that is closed once Close has been called.
	Closed() <-chan struct{}
}

type SenderCloser[T any] interface {
	Sender[T]
	Closer
}

type ReceiverCloser[T any] interface {
	Receiver[T]
	Closer
}

type Channel[T any] interface {
	Sender[T]
	Receiver[T]
	Closer
}

// channel is a chan whose Send never panics, however it races with Close.
type channel[T any] struct {
	mu      sync.RWMutex
	ch      chan T
	done    chan struct{}
	closed  bool
	waiting sync.WaitGroup
}

func NewChannel[T any](bufSize int) Channel[T] {
	return &channel[T]{
		ch:   make(chan T, bufSize),
		done: make(chan struct{}),
	}
}

func (c *channel[T]) Receive() <-chan T {
	return c.ch
}

// enter registers a sender so that Close waits for it, or reports that the channel is already closed.
func (c *channel[T]) enter() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.waiting.Add(1)
	return true
}

func (c *channel[T]) Send(msg T) bool {
	if !c.enter() {
		return false
	}
	defer c.waiting.Done()
	select {
	case c.ch <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *channel[T]) TrySend(msg T) bool {
	if !c.enter() {
		return false
	}
	defer c.waiting.Done()
	select {
	case c.ch <- msg:
		return true
	default:
		return false
	}
}

// Close idempotently ends the channel: pending and future sends fail, and receivers see the channel closed.
func (c *channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	close(c.done)
	c.waiting.Wait()
	close(c.ch)
	c.closed = true
}

func (c *channel[T]) Closed() <-chan struct{} {
	return c.done
}
