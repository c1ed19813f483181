package pubsub

import (
	"errors"
	"sync"

	"github.com/alanbriolat/bili-archiver/internal/sync_"
)

const (
	DefaultPublisherBufSize  = 16
	DefaultSubscriberBufSize = 64
)

var (
	ErrPublisherClosed = errors.New("publisher closed")
)

type Publisher[T any] interface {
	SenderCloser[T]
	// AddSubscriber attaches s; if closeOnExit, s is closed along with the publisher.
	AddSubscriber(s SenderCloser[T], closeOnExit bool) error
	Subscribe() (ReceiverCloser[T], error)
	SubscribeBufSize(int) (ReceiverCloser[T], error)
}

type subscriberSet[T any] map[SenderCloser[T]]bool

type publisher[T any] struct {
	mu          sync.Mutex
	ch          Channel[T]
	running     sync.WaitGroup // distribution goroutine
	pending     sync.WaitGroup // messages accepted but not yet delivered to every subscriber
	subscribers *sync_.Mutexed[subscriberSet[T]]
	closed      bool
}

func NewPublisher[T any]() Publisher[T] {
	return NewPublisherBufSize[T](DefaultPublisherBufSize)
}

func NewPublisherBufSize[T any](bufSize int) Publisher[T] {
	p := &publisher[T]{
		ch:          NewChannel[T](bufSize),
		subscribers: sync_.NewMutexed(make(subscriberSet[T])),
	}
	p.running.Add(1)
	go p.distribute()
	return p
}

// distribute never blocks on a subscriber: a subscriber whose buffer is full misses the message, and one that has
// been closed is dropped.
func (p *publisher[T]) distribute() {
	defer p.running.Done()
	for v := range p.ch.Receive() {
		for _, s := range p.snapshot(false) {
			if s.TrySend(v) {
				continue
			}
			select {
			case <-s.Closed():
				p.unsubscribe(s)
			default:
			}
		}
		p.pending.Done()
	}
}

func (p *publisher[T]) snapshot(clear bool) (list []SenderCloser[T]) {
	_ = p.subscribers.Locked(func(subscribers subscriberSet[T]) error {
		for s, closeOnExit := range subscribers {
			if !clear || closeOnExit {
				list = append(list, s)
			}
			if clear {
				delete(subscribers, s)
			}
		}
		return nil
	})
	return list
}

// Send queues msg for every subscriber, blocking only while the publisher's own buffer is full. Delivery to a
// subscriber is best effort.
func (p *publisher[T]) Send(msg T) bool {
	p.pending.Add(1)
	if ok := p.ch.Send(msg); !ok {
		p.pending.Done()
		return false
	}
	return true
}

// TrySend queues msg only if the publisher's buffer has room, dropping it otherwise.
func (p *publisher[T]) TrySend(msg T) bool {
	p.pending.Add(1)
	if ok := p.ch.TrySend(msg); !ok {
		p.pending.Done()
		return false
	}
	return true
}

func (p *publisher[T]) Subscribe() (ReceiverCloser[T], error) {
	return p.SubscribeBufSize(DefaultSubscriberBufSize)
}

func (p *publisher[T]) SubscribeBufSize(bufSize int) (ReceiverCloser[T], error) {
	s := NewChannel[T](bufSize)
	if err := p.AddSubscriber(s, true); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *publisher[T]) AddSubscriber(s SenderCloser[T], closeOnExit bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	return p.subscribers.Locked(func(subscribers subscriberSet[T]) error {
		subscribers[s] = closeOnExit
		return nil
	})
}

func (p *publisher[T]) unsubscribe(s SenderCloser[T]) {
	_ = p.subscribers.Locked(func(subscribers subscriberSet[T]) error {
		delete(subscribers, s)
		return nil
	})
}

// Close idempotently shuts down the publisher after delivering everything already queued, then closes the
// subscribers that asked for it.
func (p *publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.ch.Close()
	p.pending.Wait()
	p.running.Wait()
	for _, s := range p.snapshot(true) {
		s.Close()
	}
	p.closed = true
}

func (p *publisher[T]) Closed() <-chan struct{} {
	return p.ch.Closed()
}
