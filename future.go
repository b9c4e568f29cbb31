package patchbay

import (
	"context"
	"sync"
)

// Future is a value that resolves when asynchronous work completes. A
// stream's terminal metadata is one: consumers may ask for it before the
// stream finishes and block until it is known.
type Future[T any] interface {
	// Get blocks until the value resolves or ctx is done.
	Get(ctx context.Context) (T, error)
}

type promise[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newPromise[T any]() *promise[T] {
	return &promise[T]{done: make(chan struct{})}
}

// resolve completes the promise. First resolution wins.
func (p *promise[T]) resolve(value T, err error) {
	p.once.Do(func() {
		p.value = value
		p.err = err
		close(p.done)
	})
}

func (p *promise[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
