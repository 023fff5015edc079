// Package pool provides the engine's concurrency substrate: per-device
// single-worker queues, a shared blocking-I/O pool, and a weighted compute
// pool for CPU-bound vision work. Submitting returns a Task handle the
// caller suspends on without blocking sibling sessions.
package pool

import (
	"context"
	"errors"
)

// ErrShutdown reports a submission to a pool that has been shut down.
var ErrShutdown = errors.New("pool shut down")

// Task is the handle for one submitted unit of work.
type Task[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

func (t *Task[T]) complete(v T, err error) {
	t.val = v
	t.err = err
	close(t.done)
}

func (t *Task[T]) fail(err error) {
	var zero T
	t.complete(zero, err)
}

// Wait suspends until the work finishes or ctx is cancelled.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-t.done:
		return t.val, t.err
	}
}

// Done exposes the completion channel for select loops.
func (t *Task[T]) Done() <-chan struct{} { return t.done }
