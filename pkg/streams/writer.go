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

package streams

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/future"
	"github.com/panjf2000/nio/pkg/memory"
	"github.com/panjf2000/nio/pkg/pool/bytebuffer"
)

// Sink takes the flushed bytes of a Writer, usually a connection's outbound queue.
// Write owns buf from then on, whether it succeeds or not.
type Sink interface {
	Write(msg any, handlers ...future.CompletionHandler[int]) (*future.Future[int], error)
}

// blocker is implemented by sinks that want Flush to wait for the completion.
type blocker interface {
	IsBlocking() bool
}

// Writer stages encoded primitives until Flush hands them to the Sink.
type Writer struct {
	mu      sync.Mutex
	sink    Sink
	alloc   memory.Allocator
	staging *bytebuffer.ByteBuffer
	closed  bool
}

// NewWriter creates a writer flushing into sink with buffers from alloc.
func NewWriter(sink Sink, alloc memory.Allocator) *Writer {
	return &Writer{sink: sink, alloc: alloc, staging: bytebuffer.Get()}
}

func (w *Writer) append(p ...byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.ErrClosed
	}
	_, _ = w.staging.Write(p)
	return nil
}

// BufferedSize returns the number of staged bytes.
func (w *Writer) BufferedSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0
	}
	return w.staging.Len()
}

// Write implements io.Writer, it stages p as is.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.append(p...); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteBytes stages p as is.
func (w *Writer) WriteBytes(p []byte) error {
	return w.append(p...)
}

// WriteByte stages a byte.
func (w *Writer) WriteByte(b byte) error {
	return w.append(b)
}

// WriteBool stages a bool as 1 or 0.
func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.append(1)
	}
	return w.append(0)
}

// WriteChar stages a 2-byte character.
func (w *Writer) WriteChar(v uint16) error {
	return w.append(binary.BigEndian.AppendUint16(nil, v)...)
}

// WriteInt16 stages a 2-byte integer.
func (w *Writer) WriteInt16(v int16) error {
	return w.WriteChar(uint16(v))
}

// WriteInt32 stages a 4-byte integer.
func (w *Writer) WriteInt32(v int32) error {
	return w.append(binary.BigEndian.AppendUint32(nil, uint32(v))...)
}

// WriteInt64 stages an 8-byte integer.
func (w *Writer) WriteInt64(v int64) error {
	return w.append(binary.BigEndian.AppendUint64(nil, uint64(v))...)
}

// WriteFloat32 stages a 4-byte IEEE 754 number.
func (w *Writer) WriteFloat32(v float32) error {
	return w.WriteInt32(int32(math.Float32bits(v)))
}

// WriteFloat64 stages an 8-byte IEEE 754 number.
func (w *Writer) WriteFloat64(v float64) error {
	return w.WriteInt64(int64(math.Float64bits(v)))
}

func (w *Writer) appendArray(n, width int, encode func(i int, b []byte)) error {
	raw := make([]byte, n*width)
	for i := 0; i < n; i++ {
		encode(i, raw[i*width:(i+1)*width])
	}
	return w.append(raw...)
}

// WriteBools stages the elements of v.
func (w *Writer) WriteBools(v []bool) error {
	return w.appendArray(len(v), 1, func(i int, b []byte) {
		if v[i] {
			b[0] = 1
		}
	})
}

// WriteChars stages the elements of v.
func (w *Writer) WriteChars(v []uint16) error {
	return w.appendArray(len(v), 2, func(i int, b []byte) { binary.BigEndian.PutUint16(b, v[i]) })
}

// WriteInt16s stages the elements of v.
func (w *Writer) WriteInt16s(v []int16) error {
	return w.appendArray(len(v), 2, func(i int, b []byte) { binary.BigEndian.PutUint16(b, uint16(v[i])) })
}

// WriteInt32s stages the elements of v.
func (w *Writer) WriteInt32s(v []int32) error {
	return w.appendArray(len(v), 4, func(i int, b []byte) { binary.BigEndian.PutUint32(b, uint32(v[i])) })
}

// WriteInt64s stages the elements of v.
func (w *Writer) WriteInt64s(v []int64) error {
	return w.appendArray(len(v), 8, func(i int, b []byte) { binary.BigEndian.PutUint64(b, uint64(v[i])) })
}

// WriteFloat32s stages the elements of v.
func (w *Writer) WriteFloat32s(v []float32) error {
	return w.appendArray(len(v), 4, func(i int, b []byte) { binary.BigEndian.PutUint32(b, math.Float32bits(v[i])) })
}

// WriteFloat64s stages the elements of v.
func (w *Writer) WriteFloat64s(v []float64) error {
	return w.appendArray(len(v), 8, func(i int, b []byte) { binary.BigEndian.PutUint64(b, math.Float64bits(v[i])) })
}

// Flush hands the staged bytes over to the sink and returns the handle of that write,
// it resolves with the number of bytes written. An empty flush completes with 0 at once.
// A blocking sink makes Flush return only after the handle has resolved.
func (w *Writer) Flush(handlers ...future.CompletionHandler[int]) *future.Future[int] {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return future.Failed[int](errors.ErrClosed, handlers...)
	}
	f := w.flushLocked(handlers)
	w.mu.Unlock()

	if b, ok := w.sink.(blocker); ok && b.IsBlocking() {
		_, _ = f.Wait()
	}
	return f
}

// flushLocked enqueues the staged bytes while w.mu is held so that concurrent
// flushes reach the sink in the order they took the lock.
func (w *Writer) flushLocked(handlers []future.CompletionHandler[int]) *future.Future[int] {
	n := w.staging.Len()
	if n == 0 {
		return future.Completed(0, handlers...)
	}
	buf := w.alloc.Allocate(n)
	_, _ = buf.Write(w.staging.B)
	buf.Flip()
	w.staging.Reset()

	f, err := w.sink.Write(buf, handlers...)
	if f == nil {
		f = future.Failed[int](err, handlers...)
	}
	return f
}

// Close flushes what's staged and refuses any further write.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	f := w.flushLocked(nil)
	w.closed = true
	bytebuffer.Put(w.staging)
	w.staging = nil
	w.mu.Unlock()

	if f.State() == future.StateFailed {
		_, err := f.Result()
		return err
	}
	return nil
}
