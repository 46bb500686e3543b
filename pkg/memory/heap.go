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
	"sync/atomic"

	bsPool "github.com/panjf2000/nio/pkg/pool/byteslice"
)

// HeapAllocator allocates every buffer individually from the byte slice pool.
type HeapAllocator struct {
	allocated atomic.Int64
	released  atomic.Int64
}

// NewHeapAllocator creates an allocator without slabs.
func NewHeapAllocator() *HeapAllocator {
	return new(HeapAllocator)
}

// Allocate implements Allocator.
func (a *HeapAllocator) Allocate(size int) *Buffer {
	checkSize(size)
	a.allocated.Add(1)
	if size == 0 {
		return newBuffer(nil, a, -1)
	}
	data := bsPool.Get(size)
	return newBuffer(data[:cap(data)], a, -1)
}

// Reallocate implements Allocator.
func (a *HeapAllocator) Reallocate(buf *Buffer, size int) *Buffer {
	checkSize(size)
	return reallocate(a, buf, size)
}

// Release implements Allocator.
func (a *HeapAllocator) Release(buf *Buffer) {
	a.released.Add(1)
	if cap(buf.data) > 0 {
		bsPool.Put(buf.data)
	}
}

// Stats returns the counters of the allocator.
func (a *HeapAllocator) Stats() Stats {
	return Stats{Allocated: a.allocated.Load(), Released: a.released.Load()}
}
