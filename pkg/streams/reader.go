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

// Package streams implements typed, asynchronous stream I/O over nio connections.
//
// Every primitive is encoded big-endian with a fixed width: bool and byte take 1 byte,
// char and int16 take 2, int32 and float32 take 4, int64 and float64 take 8.
// Arrays are the plain concatenation of their elements, no length is written,
// so the reading side must already know how many elements to expect.
package streams

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/eapache/queue"

	"github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/future"
	"github.com/panjf2000/nio/pkg/memory"
)

type notifyRequest struct {
	size int
	f    *future.Future[int]
}

// Reader accumulates inbound buffers and decodes primitives from them.
//
// Buffers are fed with Append, typically by the runner owning the connection,
// while the application awaits NotifyAvailable and decodes on its own goroutine.
type Reader struct {
	mu        sync.Mutex
	chunks    *queue.Queue // *memory.Buffer in read mode
	requests  *queue.Queue // *notifyRequest
	available int
	closed    bool
	cause     error
}

// NewReader creates an empty reader.
func NewReader() *Reader {
	return &Reader{chunks: queue.New(), requests: queue.New()}
}

// Append hands buf over to the reader which becomes one of its holders,
// the caller's reference is consumed even when the reader is closed.
func (r *Reader) Append(buf *memory.Buffer) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		buf.Release()
		return errors.ErrClosed
	}
	if !buf.HasRemaining() {
		r.mu.Unlock()
		buf.Release()
		return nil
	}
	r.chunks.Add(buf)
	r.available += buf.Remaining()
	ready, available := r.takeSatisfied()
	r.mu.Unlock()

	for _, req := range ready {
		req.f.Complete(available)
	}
	return nil
}

// takeSatisfied dequeues the requests at the head that can be fulfilled, r.mu must be held.
func (r *Reader) takeSatisfied() (ready []*notifyRequest, available int) {
	for r.requests.Length() > 0 {
		req := r.requests.Peek().(*notifyRequest)
		if req.size > r.available {
			break
		}
		r.requests.Remove()
		ready = append(ready, req)
	}
	return ready, r.available
}

// NotifyAvailable returns a handle that resolves with the number of buffered bytes once
// at least size bytes are available, requests are served in the order they were made.
// The handle fails with errors.ErrClosed if the reader is closed before that.
func (r *Reader) NotifyAvailable(size int, handlers ...future.CompletionHandler[int]) *future.Future[int] {
	f := future.New[int](handlers...)
	r.mu.Lock()
	if r.requests.Length() == 0 && r.available >= size {
		available := r.available
		r.mu.Unlock()
		f.Complete(available)
		return f
	}
	if r.closed {
		err := r.closedErr()
		r.mu.Unlock()
		f.Fail(err)
		return f
	}
	r.requests.Add(&notifyRequest{size: size, f: f})
	r.mu.Unlock()
	return f
}

// AvailableDataSize returns the number of buffered bytes that haven't been decoded yet.
func (r *Reader) AvailableDataSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

// IsClosed tells whether the reader has been closed.
func (r *Reader) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Reader) closedErr() error {
	if r.cause == nil || r.cause == errors.ErrClosed {
		return errors.ErrClosed
	}
	return fmt.Errorf("%w: %w", errors.ErrClosed, r.cause)
}

// Close stops accepting data and fails every pending request, bytes already buffered
// stay readable. A nil cause means a plain close.
func (r *Reader) Close(cause error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed, r.cause = true, cause
	err := r.closedErr()
	var pending []*notifyRequest
	for r.requests.Length() > 0 {
		pending = append(pending, r.requests.Remove().(*notifyRequest))
	}
	r.mu.Unlock()

	for _, req := range pending {
		req.f.Fail(err)
	}
}

// Discard drops every buffered byte and returns the buffers to their allocators.
func (r *Reader) Discard() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.available
	for r.chunks.Length() > 0 {
		r.chunks.Remove().(*memory.Buffer).Release()
	}
	r.available = 0
	return n
}

// read fills p entirely or fails with errors.ErrUnderflow without consuming anything.
func (r *Reader) read(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.available < len(p) {
		if r.closed {
			return fmt.Errorf("%w: %w", errors.ErrUnderflow, errors.ErrClosed)
		}
		return errors.ErrUnderflow
	}
	for off := 0; off < len(p); {
		head := r.chunks.Peek().(*memory.Buffer)
		n, _ := head.Read(p[off:])
		off += n
		if !head.HasRemaining() {
			r.chunks.Remove()
			head.Release()
		}
	}
	r.available -= len(p)
	return nil
}

// ReadBytes fills p with the next len(p) bytes.
func (r *Reader) ReadBytes(p []byte) error {
	return r.read(p)
}

// ReadByte decodes a byte.
func (r *Reader) ReadByte() (byte, error) {
	var b [1]byte
	err := r.read(b[:])
	return b[0], err
}

// ReadBool decodes a bool, any non-zero byte is true.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

// ReadChar decodes a 2-byte character.
func (r *Reader) ReadChar() (uint16, error) {
	var b [2]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// ReadInt16 decodes a 2-byte integer.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadChar()
	return int16(v), err
}

// ReadInt32 decodes a 4-byte integer.
func (r *Reader) ReadInt32() (int32, error) {
	var b [4]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

// ReadInt64 decodes an 8-byte integer.
func (r *Reader) ReadInt64() (int64, error) {
	var b [8]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// ReadFloat32 decodes a 4-byte IEEE 754 number.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadInt32()
	return math.Float32frombits(uint32(v)), err
}

// ReadFloat64 decodes an 8-byte IEEE 754 number.
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadInt64()
	return math.Float64frombits(uint64(v)), err
}

// readArray reads n elements of the given width in one go and hands them to decode.
func (r *Reader) readArray(n, width int, decode func(i int, b []byte)) error {
	if n == 0 {
		return nil
	}
	raw := make([]byte, n*width)
	if err := r.read(raw); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		decode(i, raw[i*width:(i+1)*width])
	}
	return nil
}

// ReadBools fills dst with len(dst) bools.
func (r *Reader) ReadBools(dst []bool) error {
	return r.readArray(len(dst), 1, func(i int, b []byte) { dst[i] = b[0] != 0 })
}

// ReadChars fills dst with len(dst) characters.
func (r *Reader) ReadChars(dst []uint16) error {
	return r.readArray(len(dst), 2, func(i int, b []byte) { dst[i] = binary.BigEndian.Uint16(b) })
}

// ReadInt16s fills dst with len(dst) 2-byte integers.
func (r *Reader) ReadInt16s(dst []int16) error {
	return r.readArray(len(dst), 2, func(i int, b []byte) { dst[i] = int16(binary.BigEndian.Uint16(b)) })
}

// ReadInt32s fills dst with len(dst) 4-byte integers.
func (r *Reader) ReadInt32s(dst []int32) error {
	return r.readArray(len(dst), 4, func(i int, b []byte) { dst[i] = int32(binary.BigEndian.Uint32(b)) })
}

// ReadInt64s fills dst with len(dst) 8-byte integers.
func (r *Reader) ReadInt64s(dst []int64) error {
	return r.readArray(len(dst), 8, func(i int, b []byte) { dst[i] = int64(binary.BigEndian.Uint64(b)) })
}

// ReadFloat32s fills dst with len(dst) 4-byte numbers.
func (r *Reader) ReadFloat32s(dst []float32) error {
	return r.readArray(len(dst), 4, func(i int, b []byte) { dst[i] = math.Float32frombits(binary.BigEndian.Uint32(b)) })
}

// ReadFloat64s fills dst with len(dst) 8-byte numbers.
func (r *Reader) ReadFloat64s(dst []float64) error {
	return r.readArray(len(dst), 8, func(i int, b []byte) { dst[i] = math.Float64frombits(binary.BigEndian.Uint64(b)) })
}
