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

package memory

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panjf2000/nio/pkg/errors"
)

func allocators() map[string]Allocator {
	return map[string]Allocator{
		"heap": NewHeapAllocator(),
		"slab": NewSlabAllocator(1<<12, 1<<10),
	}
}

func TestFlipAndCompact(t *testing.T) {
	for name, a := range allocators() {
		t.Run(name, func(t *testing.T) {
			buf := a.Allocate(16)
			require.GreaterOrEqual(t, buf.Capacity(), 16)
			assert.Equal(t, 0, buf.Position())
			assert.Equal(t, buf.Capacity(), buf.Limit())

			n, err := buf.Write([]byte("hello world"))
			require.NoError(t, err)
			require.Equal(t, 11, n)

			buf.Flip()
			assert.Equal(t, 0, buf.Position())
			assert.Equal(t, 11, buf.Limit())
			assert.Equal(t, "hello world", string(buf.Bytes()))

			head := make([]byte, 6)
			_, err = buf.Read(head)
			require.NoError(t, err)
			assert.Equal(t, "hello ", string(head))
			assert.Equal(t, 5, buf.Remaining())

			storage := &buf.data[0]
			buf.Compact()
			assert.Same(t, storage, &buf.data[0], "compact must stay inside the buffer's storage")
			assert.Equal(t, 5, buf.Position())
			assert.Equal(t, buf.Capacity(), buf.Limit())
			buf.Flip()
			assert.Equal(t, "world", string(buf.Bytes()))

			_, err = io.ReadAll(buf)
			require.NoError(t, err)
			assert.False(t, buf.HasRemaining())
			assert.True(t, buf.Release())
		})
	}
}

func TestShortWrite(t *testing.T) {
	buf := NewHeapAllocator().Allocate(4)
	buf.SetLimit(4)
	n, err := buf.Write([]byte("12345"))
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.ErrShortBuffer)
}

func TestReferenceCounting(t *testing.T) {
	a := NewSlabAllocator(1<<12, 1<<10)
	buf := a.Allocate(100)
	buf.Retain()
	assert.True(t, buf.Shared())
	assert.False(t, buf.Release())
	assert.False(t, buf.Shared())
	assert.True(t, buf.Release())
	assert.False(t, buf.Release(), "extra release must be ignored")

	stats := a.Stats()
	assert.EqualValues(t, 1, stats.Allocated)
	assert.EqualValues(t, 1, stats.Released)
	assert.EqualValues(t, 0, stats.InUse())
}

func TestSlabCarvingAndReuse(t *testing.T) {
	a := NewSlabAllocator(1<<12, 1<<10)

	first := a.Allocate(1000)
	assert.Equal(t, 1024, first.Capacity())
	assert.EqualValues(t, 1, a.Stats().Slabs)
	assert.Equal(t, 3, a.FreeChunks(1000))

	var held []*Buffer
	for i := 0; i < 3; i++ {
		held = append(held, a.Allocate(1024))
	}
	assert.EqualValues(t, 1, a.Stats().Slabs, "four 1KB chunks fit in one 4KB slab")
	assert.Zero(t, a.FreeChunks(1024))

	storage := &first.data[0]
	first.Release()
	again := a.Allocate(600)
	assert.Same(t, storage, &again.data[0], "released chunk must be reused")
	assert.EqualValues(t, 1, a.Stats().Slabs)

	a.Allocate(512)
	assert.EqualValues(t, 2, a.Stats().Slabs, "a new size class carves a new slab")

	big := a.Allocate(5000)
	assert.Equal(t, 5000, big.Capacity(), "oversized requests are allocated individually")
	big.Release()
	assert.Zero(t, a.FreeChunks(5000))

	for _, b := range held {
		b.Release()
	}
	assert.Equal(t, 3, a.FreeChunks(1024))
}

func TestAppendTo(t *testing.T) {
	for name, a := range allocators() {
		t.Run(name, func(t *testing.T) {
			dst := a.Allocate(64)
			_, _ = dst.Write(bytes.Repeat([]byte{'a'}, 40))
			dst.Flip()
			dst.Skip(30)

			src := Wrap(bytes.Repeat([]byte{'b'}, 50))
			merged := AppendTo(a, dst, src)
			assert.Same(t, dst, merged, "compaction leaves room for 10+50 bytes")
			assert.Equal(t, append(bytes.Repeat([]byte{'a'}, 10), bytes.Repeat([]byte{'b'}, 50)...), merged.Bytes())
			assert.Equal(t, 50, src.Remaining(), "source must be left untouched")

			grown := AppendTo(a, merged, Wrap(bytes.Repeat([]byte{'c'}, 100)))
			assert.NotSame(t, merged, grown)
			assert.Equal(t, 160, grown.Remaining())
			assert.Equal(t, byte('c'), grown.Bytes()[159])

			shared := grown.Retain()
			copied := AppendTo(a, grown, Wrap([]byte("d")))
			assert.NotSame(t, shared, copied, "a shared buffer must never be compacted in place")
			assert.Equal(t, 160, shared.Remaining())
			assert.Equal(t, 161, copied.Remaining())
			shared.Release()
			copied.Release()
		})
	}
}

func TestNegativeSize(t *testing.T) {
	for name, a := range allocators() {
		t.Run(name, func(t *testing.T) {
			assert.PanicsWithValue(t, errors.ErrNegativeSize, func() { a.Allocate(-1) })
		})
	}
}
