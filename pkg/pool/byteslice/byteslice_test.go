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

package byteslice

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCapacityIsPowerOfTwo(t *testing.T) {
	for _, size := range []int{1, 7, 8, 9, 1000, 1024, 1025, 65536} {
		buf := Get(size)
		require.Len(t, buf, size)
		c := cap(buf)
		assert.Zerof(t, c&(c-1), "capacity %d of size %d is not a power of two", c, size)
		assert.GreaterOrEqual(t, c, size)
		Put(buf)
	}
	assert.Nil(t, Get(0))
	assert.Nil(t, Get(-1))
}

func TestReuseSameArray(t *testing.T) {
	if raceEnabled {
		t.Skip("sync.Pool doesn't keep items reliably with -race")
	}
	// Disable GC so that the pooled array survives.
	gc := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gc)

	buf := Get(8)
	copy(buf, "ff")
	Put(buf)

	newBuf := Get(7)
	require.Same(t, &buf[0], &newBuf[0], "expect newBuf and buf to share the array")
	assert.Equal(t, "ff", string(newBuf[:2]))
	assert.Equal(t, 8, cap(newBuf))
}

func BenchmarkByteSlice(b *testing.B) {
	b.Run("Run.N", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			Put(Get(1024))
		}
	})
	b.Run("Run.Parallel", func(b *testing.B) {
		b.ReportAllocs()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				Put(Get(1024))
			}
		})
	})
}
