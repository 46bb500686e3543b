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

//go:build darwin || dragonfly || freebsd || linux

package nio

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	gio "github.com/panjf2000/nio/internal/io"
	"github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/future"
	"github.com/panjf2000/nio/pkg/memory"
)

type writeUnit struct {
	buf  *memory.Buffer
	size int
	f    *future.Future[int]
}

// asyncQueue is the outbound queue of a connection. Any goroutine may offer units,
// only the runner of the connection drains them, so completions fire in FIFO order.
type asyncQueue struct {
	mu      sync.Mutex
	units   *queue.Queue
	pending atomic.Int64
	failure error

	iov [][]byte // runner-confined scratch for writev
}

func (q *asyncQueue) init() {
	q.units = queue.New()
}

// offer appends buf, ceiling < 0 means unbounded. The unit at the head of an empty
// queue is always admitted so that any single write can make progress.
// It reports whether the queue was empty, i.e. the caller has to schedule a drain.
func (q *asyncQueue) offer(buf *memory.Buffer, ceiling int64, handlers []future.CompletionHandler[int]) (*future.Future[int], bool, error) {
	size := buf.Remaining()

	q.mu.Lock()
	if size == 0 && q.failure == nil {
		q.mu.Unlock()
		buf.Release()
		return future.Completed(0, handlers...), false, nil
	}
	if q.failure != nil {
		err := q.failure
		q.mu.Unlock()
		buf.Release()
		return nil, false, err
	}
	empty := q.units.Length() == 0
	if !empty && ceiling >= 0 && q.pending.Load()+int64(size) > ceiling {
		q.mu.Unlock()
		buf.Release()
		return nil, false, errors.ErrBackpressure
	}
	f := future.New(handlers...)
	q.units.Add(&writeUnit{buf: buf, size: size, f: f})
	q.pending.Add(int64(size))
	q.mu.Unlock()
	return f, empty, nil
}

// size returns the number of queued bytes not written yet.
func (q *asyncQueue) size() int {
	return int(q.pending.Load())
}

func (q *asyncQueue) isEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.units.Length() == 0
}

// drain writes as much as the socket takes. It reports whether the queue has been emptied,
// err is the write failure which the caller turns into an ERROR close.
func (q *asyncQueue) drain(fd int) (empty bool, err error) {
	var done []*writeUnit
	defer func() {
		for _, u := range done {
			u.buf.Release()
			u.f.Complete(u.size)
		}
	}()

	for {
		q.mu.Lock()
		n := q.units.Length()
		if n == 0 || q.failure != nil {
			q.mu.Unlock()
			return true, nil
		}
		if n > gio.MaxIovecs {
			n = gio.MaxIovecs
		}
		q.iov = q.iov[:0]
		for i := 0; i < n; i++ {
			q.iov = append(q.iov, q.units.Get(i).(*writeUnit).buf.Bytes())
		}
		q.mu.Unlock()

		written, err := gio.Writev(fd, q.iov)
		if written > 0 {
			q.pending.Add(-int64(written))
			q.mu.Lock()
			for written > 0 {
				u := q.units.Peek().(*writeUnit)
				k := u.buf.Skip(written)
				written -= k
				if u.buf.HasRemaining() {
					break
				}
				q.units.Remove()
				done = append(done, u)
			}
			q.mu.Unlock()
		}
		switch err {
		case nil:
		case unix.EINTR:
		case unix.EAGAIN:
			return false, nil
		default:
			return false, err
		}
	}
}

// failAll fails every unit that hasn't been written with cause and refuses further offers.
func (q *asyncQueue) failAll(cause error) {
	q.mu.Lock()
	if q.failure == nil {
		q.failure = cause
	}
	var units []*writeUnit
	for q.units.Length() > 0 {
		units = append(units, q.units.Remove().(*writeUnit))
	}
	q.pending.Store(0)
	q.mu.Unlock()

	for _, u := range units {
		u.buf.Release()
		u.f.Fail(cause)
	}
}
