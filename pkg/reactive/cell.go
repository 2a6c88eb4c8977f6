package reactive

import (
	"context"
	"sync"
)

// Cell is an observable optional value with a single writer.
// All methods are safe for concurrent use.
type Cell[T any] struct {
	// pubLock serializes writes including publishing, so subscribers observe writes in order.
	pubLock     sync.Mutex
	lock        sync.RWMutex
	value       Value[T]
	subscribers map[*Subscription[T]]struct{}
	listeners   []func()
}

// NewCell creates an unset cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{subscribers: make(map[*Subscription[T]]struct{})}
}

func (c *Cell[T]) Get() Value[T] {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.value
}

// Set sets the value and publishes it.
func (c *Cell[T]) Set(v T) {
	c.Store(Some(v))
}

// Unset clears the value and publishes the change.
func (c *Cell[T]) Unset() {
	c.Store(None[T]())
}

// Store replaces the value and publishes it.
func (c *Cell[T]) Store(v Value[T]) {
	c.pubLock.Lock()
	defer c.pubLock.Unlock()

	c.lock.Lock()
	c.value = v
	subscribers := make([]*Subscription[T], 0, len(c.subscribers))
	for sub := range c.subscribers {
		subscribers = append(subscribers, sub)
	}
	listeners := c.listeners
	c.lock.Unlock()

	for _, sub := range subscribers {
		sub.send(v)
	}
	for _, fn := range listeners {
		fn()
	}
}

func (c *Cell[T]) Subscribe(ctx context.Context) *Subscription[T] {
	// Hold pubLock, so no write can be published between the initial value and the registration.
	c.pubLock.Lock()
	defer c.pubLock.Unlock()

	sub := newSubscription[T](c.unsubscribe)
	c.lock.Lock()
	c.subscribers[sub] = struct{}{}
	sub.send(c.value)
	c.lock.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = sub.Close()
			case <-sub.done:
			}
		}()
	}

	return sub
}

func (c *Cell[T]) onChange(fn func()) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Cell[T]) unsubscribe(sub *Subscription[T]) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.subscribers, sub)
}
