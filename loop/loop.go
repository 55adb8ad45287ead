// Package loop runs work against a piece of state on a single goroutine.
package loop

import (
	"context"
	"errors"
)

// ErrStopped is returned by Do once Run has returned.
var ErrStopped = errors.New("loop stopped")

// Loop owns a value of type S and applies submitted functions to it one at
// a time, in submission order. S is only ever touched by the goroutine
// running Run.
type Loop[S any] struct {
	state S
	work  chan func(S)
	done  chan struct{}
}

// New creates a loop around state with a work queue of the given size.
func New[S any](state S, queueSize int) *Loop[S] {
	return &Loop[S]{
		state: state,
		work:  make(chan func(S), queueSize),
		done:  make(chan struct{}),
	}
}

// Run processes work until ctx is cancelled. Work already queued when ctx
// ends is dropped.
func (l *Loop[S]) Run(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.work:
			fn(l.state)
		}
	}
}

// Do submits fn and waits until it has run. If ctx ends first, Do returns
// ctx.Err() and fn may still run later.
func (l *Loop[S]) Do(ctx context.Context, fn func(S)) error {
	finished := make(chan struct{})
	item := func(s S) {
		defer close(finished)
		fn(s)
	}

	select {
	case l.work <- item:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop[S]) Done() <-chan struct{} {
	return l.done
}
