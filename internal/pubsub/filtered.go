package pubsub

// NewFilteredSender wraps s so that only messages accepted by f are passed on. Rejected messages still count as
// sent, since the receiver is alive and simply not interested.
func NewFilteredSender[T any](s SenderCloser[T], f func(T) bool) SenderCloser[T] {
	return &filteredSender[T]{
		SenderCloser: s,
		filter:       f,
	}
}

type filteredSender[T any] struct {
	SenderCloser[T]
	filter func(T) bool
}

func (s *filteredSender[T]) accept(msg T) (closed bool, wanted bool) {
	select {
	case <-s.Closed():
		return true, false
	default:
		return false, s.filter == nil || s.filter(msg)
	}
}

func (s *filteredSender[T]) Send(msg T) bool {
	closed, wanted := s.accept(msg)
	if closed {
		return false
	} else if !wanted {
		return true
	}
	return s.SenderCloser.Send(msg)
}

func (s *filteredSender[T]) TrySend(msg T) bool {
	closed, wanted := s.accept(msg)
	if closed {
		return false
	} else if !wanted {
		return true
	}
	return s.SenderCloser.TrySend(msg)
}

// SubscribeFiltered attaches a new buffered subscription to p that only receives messages accepted by f.
func SubscribeFiltered[T any](p Publisher[T], bufSize int, f func(T) bool) (ReceiverCloser[T], error) {
	ch := NewChannel[T](bufSize)
	if err := p.AddSubscriber(NewFilteredSender[T](ch, f), true); err != nil {
		return nil, err
	}
	return ch, nil
}
