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

// Package memory implements the pooled buffers nio moves bytes with.
//
// A Buffer has position/limit/capacity semantics: in write mode the bytes
// between position and limit are free space, after Flip they are the readable
// data. Buffers are reference counted, the storage goes back to the Allocator
// that produced it once the last holder calls Release.
package memory

import (
	"io"
	"sync/atomic"

	"github.com/panjf2000/nio/pkg/errors"
)

// Buffer is a contiguous byte region handed out by an Allocator.
type Buffer struct {
	data  []byte
	pos   int
	lim   int
	refs  atomic.Int32
	owner Allocator
	class int // size class for slab carved buffers, -1 otherwise
}

func newBuffer(data []byte, owner Allocator, class int) *Buffer {
	b := &Buffer{data: data, lim: len(data), owner: owner, class: class}
	b.refs.Store(1)
	return b
}

// Wrap makes a buffer in read mode over p, it is not pooled.
func Wrap(p []byte) *Buffer {
	return newBuffer(p, nil, -1)
}

// Capacity returns the size of the underlying storage.
func (b *Buffer) Capacity() int { return len(b.data) }

// Position returns the index of the next byte to be read or written.
func (b *Buffer) Position() int { return b.pos }

// Limit returns the index of the first byte that should not be read or written.
func (b *Buffer) Limit() int { return b.lim }

// SetPosition moves the position, it panics if p is beyond the limit.
func (b *Buffer) SetPosition(p int) {
	if p < 0 || p > b.lim {
		panic("memory: position out of range")
	}
	b.pos = p
}

// SetLimit moves the limit, it panics if l is beyond the capacity.
func (b *Buffer) SetLimit(l int) {
	if l < 0 || l > len(b.data) {
		panic("memory: limit out of range")
	}
	b.lim = l
	if b.pos > l {
		b.pos = l
	}
}

// Remaining returns the number of bytes between position and limit.
func (b *Buffer) Remaining() int { return b.lim - b.pos }

// HasRemaining tells whether there is any byte between position and limit.
func (b *Buffer) HasRemaining() bool { return b.pos < b.lim }

// Flip switches the buffer from write mode to read mode:
// the limit becomes the written extent and the position goes back to 0.
func (b *Buffer) Flip() {
	b.lim = b.pos
	b.pos = 0
}

// Clear makes the whole capacity writable again and drops any data.
func (b *Buffer) Clear() {
	b.pos = 0
	b.lim = len(b.data)
}

// Rewind moves the position back to 0 keeping the limit.
func (b *Buffer) Rewind() { b.pos = 0 }

// Compact discards the consumed prefix: the remaining bytes are shifted to offset 0
// inside the buffer's own storage, then the buffer is left in write mode right after them.
func (b *Buffer) Compact() {
	n := copy(b.data, b.data[b.pos:b.lim])
	b.pos = n
	b.lim = len(b.data)
}

// Bytes returns the window between position and limit, it aliases the storage.
func (b *Buffer) Bytes() []byte { return b.data[b.pos:b.lim] }

// Skip advances the position by n bytes.
func (b *Buffer) Skip(n int) int {
	if r := b.Remaining(); n > r {
		n = r
	}
	b.pos += n
	return n
}

// Read implements io.Reader over the readable window.
func (b *Buffer) Read(p []byte) (int, error) {
	if !b.HasRemaining() {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:b.lim])
	b.pos += n
	return n, nil
}

// Write implements io.Writer over the writable window, a short write returns io.ErrShortBuffer.
func (b *Buffer) Write(p []byte) (int, error) {
	n := copy(b.data[b.pos:b.lim], p)
	b.pos += n
	if n < len(p) {
		return n, io.ErrShortBuffer
	}
	return n, nil
}

// Retain adds a reference to the buffer.
func (b *Buffer) Retain() *Buffer {
	b.refs.Add(1)
	return b
}

// RefCount returns the current number of holders.
func (b *Buffer) RefCount() int32 { return b.refs.Load() }

// Shared tells whether more than one component holds the buffer.
func (b *Buffer) Shared() bool { return b.refs.Load() > 1 }

// Release drops a reference, the storage is returned to the allocator with the last one.
// It reports whether the storage has been returned, extra calls are ignored.
func (b *Buffer) Release() bool {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return false
		}
		if b.refs.CompareAndSwap(n, n-1) {
			if n > 1 {
				return false
			}
			if b.owner != nil {
				b.owner.Release(b)
			}
			b.data, b.pos, b.lim = nil, 0, 0
			return true
		}
	}
}

// Allocator hands out pooled buffers.
type Allocator interface {
	// Allocate returns a buffer in write mode with at least size bytes of capacity.
	Allocate(size int) *Buffer
	// Reallocate returns a buffer in write mode with at least size bytes of capacity
	// whose first bytes are the readable bytes of buf, buf must not be used afterwards.
	Reallocate(buf *Buffer, size int) *Buffer
	// Release takes the storage of a buffer back, it's called by Buffer.Release
	// when the last reference goes away.
	Release(buf *Buffer)
}

// Stats are the counters of an allocator.
type Stats struct {
	Slabs     int64
	Allocated int64
	Released  int64
}

// InUse returns the number of buffers handed out and not yet released.
func (s Stats) InUse() int64 { return s.Allocated - s.Released }

func checkSize(size int) {
	if size < 0 {
		panic(errors.ErrNegativeSize)
	}
}

// reallocate is shared by the allocators: an exclusive buffer that is large enough is
// compacted in place, anything else is copied into a fresh buffer.
func reallocate(a Allocator, buf *Buffer, size int) *Buffer {
	if buf == nil {
		return a.Allocate(size)
	}
	if !buf.Shared() && buf.Capacity() >= size {
		buf.Compact()
		return buf
	}
	if r := buf.Remaining(); size < r {
		size = r
	}
	nb := a.Allocate(size)
	_, _ = nb.Write(buf.Bytes())
	buf.Release()
	return nb
}

// AppendTo appends the readable bytes of src to the readable bytes of dst and returns the
// buffer holding both in read mode, dst may be replaced. src is left untouched.
func AppendTo(a Allocator, dst, src *Buffer) *Buffer {
	if dst == nil {
		dst = a.Allocate(src.Remaining())
	} else {
		dst = a.Reallocate(dst, dst.Remaining()+src.Remaining())
	}
	_, _ = dst.Write(src.Bytes())
	dst.Flip()
	return dst
}
