package reactive

import (
	"context"
	"sync"
)

// Derived is a read-only cell computed from other cells.
type Derived[T any] struct {
	lock    sync.Mutex
	cell    *Cell[T]
	compute func() T
}

// Derive2 creates a cell computed from two source cells.
// The value is always valid, it is recalculated whenever either source changes.
func Derive2[A, B, T any](a *Cell[A], b *Cell[B], fn func(a Value[A], b Value[B]) T) *Derived[T] {
	d := &Derived[T]{
		cell: NewCell[T](),
		compute: func() T {
			return fn(a.Get(), b.Get())
		},
	}
	d.recompute()
	for _, src := range []source{a, b} {
		src.onChange(d.recompute)
	}
	return d
}

func (d *Derived[T]) Get() Value[T] {
	return d.cell.Get()
}

func (d *Derived[T]) Subscribe(ctx context.Context) *Subscription[T] {
	return d.cell.Subscribe(ctx)
}

func (d *Derived[T]) recompute() {
	// Serialized, so the last recalculation always reads the latest source values.
	d.lock.Lock()
	defer d.lock.Unlock()
	d.cell.Set(d.compute())
}
