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
	"sync"

	"github.com/panjf2000/nio/internal/toolkit"
)

const (
	// DefaultSlabSize is the size of each block carved by a slab allocator, 1MB.
	DefaultSlabSize = 1 << 20
	// DefaultMaxChunkSize is the largest size class of a slab allocator, 64KB.
	DefaultMaxChunkSize = 1 << 16

	minChunkShift = 6 // 64 bytes
)

// SlabAllocator carves power-of-two chunks out of pre-allocated slabs, each size
// class keeps a free list of the chunks released back to it. Requests larger than
// the largest class are allocated individually and left to the GC.
type SlabAllocator struct {
	slabSize int
	maxShift int

	mu    sync.Mutex
	free  [][][]byte // free chunks indexed by size class
	stats Stats
}

// NewSlabAllocator creates a slab allocator, non-positive sizes fall back to the defaults.
// Both sizes are rounded up to powers of two and the chunk size is capped by the slab size.
func NewSlabAllocator(slabSize, maxChunkSize int) *SlabAllocator {
	if slabSize <= 0 {
		slabSize = DefaultSlabSize
	}
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	slabSize = toolkit.CeilToPowerOfTwo(slabSize)
	maxChunkSize = toolkit.CeilToPowerOfTwo(maxChunkSize)
	if maxChunkSize > slabSize {
		maxChunkSize = slabSize
	}
	if maxChunkSize < 1<<minChunkShift {
		maxChunkSize = 1 << minChunkShift
		if slabSize < maxChunkSize {
			slabSize = maxChunkSize
		}
	}
	maxShift := toolkit.Log2(maxChunkSize)
	return &SlabAllocator{
		slabSize: slabSize,
		maxShift: maxShift,
		free:     make([][][]byte, maxShift+1),
	}
}

func (a *SlabAllocator) classOf(size int) int {
	if size <= 1<<minChunkShift {
		return minChunkShift
	}
	return toolkit.Log2(toolkit.CeilToPowerOfTwo(size))
}

// Allocate implements Allocator.
func (a *SlabAllocator) Allocate(size int) *Buffer {
	checkSize(size)
	class := a.classOf(size)
	if class > a.maxShift {
		a.mu.Lock()
		a.stats.Allocated++
		a.mu.Unlock()
		return newBuffer(make([]byte, size), a, -1)
	}

	a.mu.Lock()
	chunks := a.free[class]
	if len(chunks) == 0 {
		chunks = a.carve(class)
	}
	chunk := chunks[len(chunks)-1]
	a.free[class] = chunks[:len(chunks)-1]
	a.stats.Allocated++
	a.mu.Unlock()

	return newBuffer(chunk, a, class)
}

// carve splits a fresh slab into chunks of the given class, a.mu must be held.
func (a *SlabAllocator) carve(class int) [][]byte {
	slab := make([]byte, a.slabSize)
	size := 1 << class
	chunks := a.free[class]
	for off := 0; off < a.slabSize; off += size {
		chunks = append(chunks, slab[off:off+size:off+size])
	}
	a.stats.Slabs++
	return chunks
}

// Reallocate implements Allocator.
func (a *SlabAllocator) Reallocate(buf *Buffer, size int) *Buffer {
	checkSize(size)
	return reallocate(a, buf, size)
}

// Release implements Allocator.
func (a *SlabAllocator) Release(buf *Buffer) {
	a.mu.Lock()
	a.stats.Released++
	if buf.class >= 0 {
		a.free[buf.class] = append(a.free[buf.class], buf.data[:cap(buf.data):cap(buf.data)])
	}
	a.mu.Unlock()
}

// Stats returns the counters of the allocator.
func (a *SlabAllocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// FreeChunks returns the number of idle chunks kept for the size class serving size.
func (a *SlabAllocator) FreeChunks(size int) int {
	class := a.classOf(size)
	if class > a.maxShift {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free[class])
}
