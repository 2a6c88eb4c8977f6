package reactive

import "sync"

// Subscription receives values written to a cell.
// The channel has capacity 1 and always contains the latest unread value.
type Subscription[T any] struct {
	ch          chan Value[T]
	done        chan struct{}
	lock        sync.Mutex
	closed      bool
	unsubscribe func(*Subscription[T])
}

func newSubscription[T any](unsubscribe func(*Subscription[T])) *Subscription[T] {
	return &Subscription[T]{
		ch:          make(chan Value[T], 1),
		done:        make(chan struct{}),
		unsubscribe: unsubscribe,
	}
}

// C returns the channel of values. It is closed when the subscription is closed.
func (s *Subscription[T]) C() <-chan Value[T] {
	return s.ch
}

// Close stops the subscription. It is idempotent.
func (s *Subscription[T]) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	s.lock.Unlock()

	s.unsubscribe(s)
	return nil
}

func (s *Subscription[T]) send(v Value[T]) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return
	}

	// Replace an unread value, only the writer sends, so the second send cannot block.
	select {
	case s.ch <- v:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- v:
	default:
	}
}
