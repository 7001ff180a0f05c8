// Package readiness provides a startup barrier for resources that become
// available after the process starts serving, such as a database pool that is
// still connecting. Callers either get the resource or ErrNotReady, which is
// meant to be reported as a retryable condition.
package readiness

import (
	"context"
	"errors"
	"sync"
)

var ErrNotReady = errors.New("resource not ready")

// Resource holds a value that is published exactly once.
type Resource[T any] struct {
	mu    sync.RWMutex
	value T
	ready bool
	done  chan struct{}
}

func NewResource[T any]() *Resource[T] {
	return &Resource[T]{done: make(chan struct{})}
}

// Ready returns a Resource that is already published. Handy for tests and for
// resources opened synchronously at startup.
func Ready[T any](v T) *Resource[T] {
	r := NewResource[T]()
	r.Set(v)
	return r
}

// Set publishes v. Only the first call has an effect; it reports whether v
// was the value published.
func (r *Resource[T]) Set(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return false
	}
	r.value = v
	r.ready = true
	close(r.done)
	return true
}

// Get returns the published value or ErrNotReady.
func (r *Resource[T]) Get() (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		var zero T
		return zero, ErrNotReady
	}
	return r.value, nil
}

// IsReady reports whether Set has been called.
func (r *Resource[T]) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Wait blocks until the value is published or ctx is done.
func (r *Resource[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.Get()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
