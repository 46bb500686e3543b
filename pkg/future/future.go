// Copyright (c) 2023 The Gnet Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package future provides the completion handles returned by asynchronous nio operations.
//
// A Future is single-assignment: it leaves the pending state exactly once, to
// Completed, Failed or Cancelled, and every later attempt to resolve it is a no-op.
// The awaiting side may block with a deadline, poll, or register a CompletionHandler.
package future

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCancelled is returned by Get when the future has been cancelled.
var ErrCancelled = errors.New("nio: operation is cancelled")

// State is the state of a Future.
type State int32

const (
	// StatePending means the result isn't known yet.
	StatePending State = iota
	// StateCompleted means the operation succeeded.
	StateCompleted
	// StateFailed means the operation ended with an error.
	StateFailed
	// StateCancelled means the operation was abandoned.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// CompletionHandler is notified once when a Future resolves.
type CompletionHandler[T any] interface {
	Completed(result T)
	Failed(err error)
	Cancelled()
}

// BuiltinCompletionHandler is a no-op CompletionHandler meant to be embedded.
type BuiltinCompletionHandler[T any] struct{}

// Completed implements CompletionHandler.
func (BuiltinCompletionHandler[T]) Completed(T) {}

// Failed implements CompletionHandler.
func (BuiltinCompletionHandler[T]) Failed(error) {}

// Cancelled implements CompletionHandler.
func (BuiltinCompletionHandler[T]) Cancelled() {}

// CompletionHandlerFunc adapts a function to CompletionHandler, a cancellation is
// reported as ErrCancelled.
type CompletionHandlerFunc[T any] func(result T, err error)

// Completed implements CompletionHandler.
func (f CompletionHandlerFunc[T]) Completed(result T) { f(result, nil) }

// Failed implements CompletionHandler.
func (f CompletionHandlerFunc[T]) Failed(err error) {
	var zero T
	f(zero, err)
}

// Cancelled implements CompletionHandler.
func (f CompletionHandlerFunc[T]) Cancelled() {
	var zero T
	f(zero, ErrCancelled)
}

// Future is a completion handle of an in-flight operation.
type Future[T any] struct {
	mu       sync.Mutex
	state    State
	result   T
	err      error
	done     chan struct{}
	handlers []CompletionHandler[T]
}

// New creates a pending Future with the given handlers attached, nil handlers are skipped.
func New[T any](handlers ...CompletionHandler[T]) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	for _, h := range handlers {
		if h != nil {
			f.handlers = append(f.handlers, h)
		}
	}
	return f
}

// Completed returns a Future that has already succeeded with v.
func Completed[T any](v T, handlers ...CompletionHandler[T]) *Future[T] {
	f := New[T](handlers...)
	f.Complete(v)
	return f
}

// Failed returns a Future that has already failed with err.
func Failed[T any](err error, handlers ...CompletionHandler[T]) *Future[T] {
	f := New[T](handlers...)
	f.Fail(err)
	return f
}

func (f *Future[T]) resolve(state State, v T, err error) bool {
	f.mu.Lock()
	if f.state != StatePending {
		f.mu.Unlock()
		return false
	}
	f.state, f.result, f.err = state, v, err
	handlers := f.handlers
	f.handlers = nil
	close(f.done)
	f.mu.Unlock()

	for _, h := range handlers {
		notify(h, state, v, err)
	}
	return true
}

func notify[T any](h CompletionHandler[T], state State, v T, err error) {
	switch state {
	case StateCompleted:
		h.Completed(v)
	case StateFailed:
		h.Failed(err)
	case StateCancelled:
		h.Cancelled()
	}
}

// Complete resolves the future with v, it returns false if the future was already resolved.
func (f *Future[T]) Complete(v T) bool {
	return f.resolve(StateCompleted, v, nil)
}

// Fail resolves the future with err, it returns false if the future was already resolved.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.resolve(StateFailed, zero, err)
}

// Cancel abandons the future, it returns false if the future was already resolved.
func (f *Future[T]) Cancel() bool {
	var zero T
	return f.resolve(StateCancelled, zero, ErrCancelled)
}

// AddCompletionHandler registers h, it runs at once on the calling goroutine if the
// future has already been resolved.
func (f *Future[T]) AddCompletionHandler(h CompletionHandler[T]) {
	f.mu.Lock()
	if f.state == StatePending {
		f.handlers = append(f.handlers, h)
		f.mu.Unlock()
		return
	}
	state, v, err := f.state, f.result, f.err
	f.mu.Unlock()
	notify(h, state, v, err)
}

// State returns the current state.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsDone tells whether the future has left the pending state.
func (f *Future[T]) IsDone() bool {
	return f.State() != StatePending
}

// Done returns a channel that's closed when the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without waiting, the error is nil while pending.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Get waits for the outcome until ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// GetTimeout waits for the outcome at most d, it fails with context.DeadlineExceeded.
func (f *Future[T]) GetTimeout(d time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Get(ctx)
}

// Wait waits for the outcome without a deadline.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.Result()
}
