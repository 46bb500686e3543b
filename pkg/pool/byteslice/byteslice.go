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

// Package byteslice pools byte slices by power-of-two size classes.
package byteslice

import (
	"math"
	"math/bits"
	"sync"
	"unsafe"
)

var builtinPool Pool

// Pool consists of 32 sync.Pool, one per size class from 1 to 1<<31 bytes.
type Pool struct {
	classes [32]sync.Pool
}

// Get returns a byte slice with given length from the built-in pool.
func Get(size int) []byte {
	return builtinPool.Get(size)
}

// Put returns the byte slice to the built-in pool.
func Put(buf []byte) {
	builtinPool.Put(buf)
}

// Get retrieves a byte slice of the requested length, its capacity is size rounded up to a power of two.
func (p *Pool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	if size > math.MaxInt32 {
		return make([]byte, size)
	}
	class := classOf(size)
	if ptr, ok := p.classes[class].Get().(*byte); ok && ptr != nil {
		return unsafe.Slice(ptr, 1<<class)[:size]
	}
	return make([]byte, 1<<class)[:size]
}

// Put returns the byte slice to the pool, slices that didn't come from Get are
// filed under the largest class they can fully serve.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	if c == 0 || c > math.MaxInt32 {
		return
	}
	class := classOf(c)
	if c != 1<<class {
		class--
	}
	p.classes[class].Put(&buf[:1][0])
}

func classOf(n int) int {
	return bits.Len32(uint32(n) - 1)
}
