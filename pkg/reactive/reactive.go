// Package reactive provides observable state cells.
//
// A Cell holds an optional value. Every write publishes the new value to all subscribers.
// Subscribers receive values through a channel, see Subscription.
// The channel keeps only the latest value, so a slow consumer never blocks the writer,
// it only skips intermediate values.
//
// Derived is a read-only cell computed from other cells, it is recalculated whenever any source changes.
//
// Consumers should depend on the Readable interface, writes are reserved for the owner of the cell.
package reactive

import "context"

// Value is an optional value of a cell, Valid=false means the value is unset.
type Value[T any] struct {
	Value T
	Valid bool
}

// Some returns a set Value.
func Some[T any](v T) Value[T] {
	return Value[T]{Value: v, Valid: true}
}

// None returns an unset Value.
func None[T any]() Value[T] {
	return Value[T]{}
}

// Readable is a read-only view of a cell.
type Readable[T any] interface {
	// Get returns the current value.
	Get() Value[T]
	// Subscribe returns a subscription receiving the current value and then every later write.
	// The subscription is closed when the ctx is cancelled or by the Subscription.Close method.
	Subscribe(ctx context.Context) *Subscription[T]
}

// source is a cell that can notify dependent cells about a change.
type source interface {
	onChange(fn func())
}
