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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lengthPrefixed(s string) string {
	p := make([]byte, lengthFieldSize, lengthFieldSize+len(s))
	binary.BigEndian.PutUint32(p, uint32(len(s)))
	return string(append(p, s...))
}

func TestDelimiterFrameFilter(t *testing.T) {
	s := new(sink)
	chain := NewFilterChainBuilder().Add(NewLineFrameFilter(), s).Build()
	c := detachedConn(t, chain)

	chain.fireRead(c, inbound("first\nsecond\nthi"))
	assert.Equal(t, []string{"first", "second"}, s.got())
	chain.fireRead(c, inbound("rd\n\n"))
	assert.Equal(t, []string{"first", "second", "third", ""}, s.got())
	assert.Nil(t, c.pending.at(0))

	_, err := c.Write("reply")
	require.NoError(t, err)
	assert.Equal(t, len("reply\n"), c.PendingBytes())
}

func TestFixedLengthFrameFilter(t *testing.T) {
	s := new(sink)
	chain := NewFilterChainBuilder().Add(NewFixedLengthFrameFilter(3), s).Build()
	c := detachedConn(t, chain)

	chain.fireRead(c, inbound("abcdefg"))
	assert.Equal(t, []string{"abc", "def"}, s.got())
	require.NotNil(t, c.pending.at(0))
	chain.fireRead(c, inbound("hi"))
	assert.Equal(t, []string{"abc", "def", "ghi"}, s.got())
}

func TestLengthFieldFrameFilter(t *testing.T) {
	s := new(sink)
	chain := NewFilterChainBuilder().Add(NewLengthFieldFrameFilter(16), s).Build()
	c := detachedConn(t, chain)

	stream := lengthPrefixed("hello") + lengthPrefixed("") + lengthPrefixed("world")
	chain.fireRead(c, inbound(stream[:3]))
	assert.Empty(t, s.got())
	chain.fireRead(c, inbound(stream[3:12]))
	assert.Equal(t, []string{"hello"}, s.got())
	chain.fireRead(c, inbound(stream[12:]))
	assert.Equal(t, []string{"hello", "", "world"}, s.got())

	_, err := c.Write([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, lengthFieldSize+len("pong"), c.PendingBytes())

	chain.fireRead(c, inbound(lengthPrefixed("this frame is too large")))
	assert.Equal(t, StateClosing, c.State())
	assert.Equal(t, CloseLocal, c.CloseType())
}
