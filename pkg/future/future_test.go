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

package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	BuiltinCompletionHandler[int]

	completed atomic.Int32
	failed    atomic.Int32
	cancelled atomic.Int32
	result    atomic.Int64
}

func (r *recorder) Completed(v int) {
	r.completed.Add(1)
	r.result.Store(int64(v))
}

func (r *recorder) Failed(error) { r.failed.Add(1) }

func (r *recorder) Cancelled() { r.cancelled.Add(1) }

func TestSingleAssignment(t *testing.T) {
	rec := new(recorder)
	f := New[int](rec)
	assert.Equal(t, StatePending, f.State())
	assert.False(t, f.IsDone())

	require.True(t, f.Complete(42))
	assert.False(t, f.Complete(7))
	assert.False(t, f.Fail(errors.New("late")))
	assert.False(t, f.Cancel())

	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, StateCompleted, f.State())
	assert.EqualValues(t, 1, rec.completed.Load())
	assert.EqualValues(t, 42, rec.result.Load())
	assert.Zero(t, rec.failed.Load())
	assert.Zero(t, rec.cancelled.Load())
}

func TestFailAndCancel(t *testing.T) {
	cause := errors.New("boom")
	rec := new(recorder)
	f := Failed[int](cause, rec)
	_, err := f.Wait()
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateFailed, f.State())
	assert.EqualValues(t, 1, rec.failed.Load())

	c := New[int]()
	require.True(t, c.Cancel())
	_, err = c.GetTimeout(time.Second)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, c.State())
	assert.Equal(t, "CANCELLED", c.State().String())
}

func TestGetDeadline(t *testing.T) {
	f := New[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePending, f.State(), "a timed out await must not resolve the future")

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Complete("done")
	}()
	v, err := f.GetTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestLateHandlerRunsImmediately(t *testing.T) {
	f := Completed(5)
	var got int
	f.AddCompletionHandler(CompletionHandlerFunc[int](func(v int, err error) {
		require.NoError(t, err)
		got = v
	}))
	assert.Equal(t, 5, got)
}

func TestConcurrentResolve(t *testing.T) {
	rec := new(recorder)
	f := New[int](rec)
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if f.Complete(i) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 1, rec.completed.Load())
}
