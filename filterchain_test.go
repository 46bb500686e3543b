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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/memory"
)

// recorder logs the events it sees into a shared journal.
type recorder struct {
	BuiltinFilter

	name    string
	journal *[]string
	mu      *sync.Mutex
}

func (f *recorder) log(ev string) {
	f.mu.Lock()
	*f.journal = append(*f.journal, f.name+":"+ev)
	f.mu.Unlock()
}

func (f *recorder) HandleAccept(ctx *FilterContext) NextAction {
	f.log("accept")
	return ctx.InvokeAction()
}

func (f *recorder) HandleRead(ctx *FilterContext) NextAction {
	f.log("read")
	return ctx.InvokeAction()
}

func (f *recorder) HandleWrite(ctx *FilterContext) NextAction {
	f.log("write")
	return ctx.InvokeAction()
}

func (f *recorder) HandleClose(ctx *FilterContext) NextAction {
	f.log("close")
	return ctx.InvokeAction()
}

// sink keeps a copy of every buffer it reads.
type sink struct {
	BuiltinFilter

	mu     sync.Mutex
	frames []string
}

func (f *sink) HandleRead(ctx *FilterContext) NextAction {
	buf, ok := ctx.BufferMessage()
	if ok {
		f.mu.Lock()
		f.frames = append(f.frames, string(buf.Bytes()))
		f.mu.Unlock()
	}
	return ctx.StopAction(nil)
}

func (f *sink) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

// splitter cuts fixed-size frames off the inbound bytes.
type splitter struct {
	BuiltinFilter

	size int
}

func (f *splitter) HandleRead(ctx *FilterContext) NextAction {
	buf, _ := ctx.BufferMessage()
	if buf.Remaining() < f.size {
		return ctx.StopAction(buf)
	}
	data := buf.Bytes()
	ctx.SetMessage(memory.Wrap(append([]byte(nil), data[:f.size]...)))
	if len(data) == f.size {
		return ctx.InvokeAction()
	}
	return ctx.InvokeActionWithRemainder(memory.Wrap(append([]byte(nil), data[f.size:]...)))
}

// stamper prefixes outbound strings.
type stamper struct {
	BuiltinFilter

	prefix string
}

func (f *stamper) HandleWrite(ctx *FilterContext) NextAction {
	if s, ok := ctx.Message().(string); ok {
		ctx.SetMessage(f.prefix + s)
	}
	return ctx.InvokeAction()
}

// replier answers every read through the filters in front of it.
type replier struct {
	BuiltinFilter
}

func (*replier) HandleRead(ctx *FilterContext) NextAction {
	_, _ = ctx.Write("pong")
	return ctx.StopAction(nil)
}

type closer struct {
	BuiltinFilter
}

func (*closer) HandleRead(ctx *FilterContext) NextAction {
	return ctx.CloseAction()
}

func detachedConn(t *testing.T, chain *FilterChain) *conn {
	t.Helper()
	tr := NewTransport(WithProcessor(chain), WithAllocator(memory.NewHeapAllocator()))
	return newConn(tr, -1, nil, nil)
}

func inbound(s string) *memory.Buffer {
	return memory.Wrap([]byte(s))
}

func TestFilterChainBuilder(t *testing.T) {
	a, b, c := new(sink), new(sink), new(sink)
	builder := NewFilterChainBuilder().Add(a, c)
	builder.Insert(1, b)
	chain := builder.Build()
	require.Equal(t, 3, chain.Len())
	assert.Equal(t, 0, chain.IndexOf(a))
	assert.Equal(t, 1, chain.IndexOf(b))
	assert.Equal(t, 2, chain.IndexOf(c))

	d := new(sink)
	builder.AddFirst(d).Remove(c)
	assert.Equal(t, 3, chain.Len(), "built chains are immutable")
	rebuilt := builder.Build()
	assert.Equal(t, []Filter{d, a, b}, rebuilt.filters)
	assert.Equal(t, -1, rebuilt.IndexOf(c))
	assert.Same(t, a, rebuilt.Get(1))
}

func TestFilterChainOrder(t *testing.T) {
	var (
		journal []string
		mu      sync.Mutex
	)
	f1 := &recorder{name: "f1", journal: &journal, mu: &mu}
	f2 := &recorder{name: "f2", journal: &journal, mu: &mu}
	chain := NewFilterChainBuilder().Add(f1, f2).Build()
	c := detachedConn(t, chain)

	chain.fireEvent(c, EventAccept)
	chain.fireRead(c, inbound("x"))
	_, err := c.Write("y")
	require.NoError(t, err)
	chain.fireEvent(c, EventClose)

	assert.Equal(t, []string{
		"f1:accept", "f2:accept",
		"f1:read", "f2:read",
		"f2:write", "f1:write",
		"f1:close", "f2:close",
	}, journal)
	assert.Equal(t, 1, c.PendingBytes())
}

func TestFilterChainStopResumes(t *testing.T) {
	var (
		journal []string
		mu      sync.Mutex
	)
	head := &recorder{name: "head", journal: &journal, mu: &mu}
	s := new(sink)
	chain := NewFilterChainBuilder().Add(head, NewSizeGateFilter(6), s).Build()
	c := detachedConn(t, chain)

	chain.fireRead(c, inbound("abc"))
	assert.Empty(t, s.got())
	require.NotNil(t, c.pending.at(1))
	assert.Equal(t, 1, c.pending.resumeIndex())

	chain.fireRead(c, inbound("def"))
	assert.Equal(t, []string{"abcdef"}, s.got())
	assert.Nil(t, c.pending.at(1))
	assert.Zero(t, c.pending.resumeIndex())
	assert.Equal(t, []string{"head:read"}, journal, "the chain resumes at the stopped filter")

	chain.fireRead(c, inbound("ghijkl"))
	assert.Equal(t, []string{"abcdef", "ghijkl"}, s.got())
	assert.Equal(t, []string{"head:read", "head:read"}, journal)
}

func TestFilterChainStopWithoutRemainder(t *testing.T) {
	s := new(sink)
	chain := NewFilterChainBuilder().Add(NewSizeGateFilter(4), s).Build()
	c := detachedConn(t, chain)

	chain.fireRead(c, inbound("ab"))
	require.NotNil(t, c.pending.at(0))
	c.pending.stop(0, nil, true)
	assert.Nil(t, c.pending.at(0))
	assert.Zero(t, c.pending.resumeIndex())

	chain.fireRead(c, inbound("cdef"))
	assert.Equal(t, []string{"cdef"}, s.got())
}

func TestFilterChainInvokeWithRemainder(t *testing.T) {
	s := new(sink)
	chain := NewFilterChainBuilder().Add(&splitter{size: 2}, s).Build()
	c := detachedConn(t, chain)

	chain.fireRead(c, inbound("aabbccd"))
	assert.Equal(t, []string{"aa", "bb", "cc"}, s.got())
	require.NotNil(t, c.pending.at(0))
	assert.Equal(t, "d", string(c.pending.at(0).Bytes()))

	chain.fireRead(c, inbound("d"))
	assert.Equal(t, []string{"aa", "bb", "cc", "dd"}, s.got())
}

func TestFilterChainNestedStops(t *testing.T) {
	s := new(sink)
	chain := NewFilterChainBuilder().Add(NewLineFrameFilter(), NewFixedLengthFrameFilter(4), s).Build()
	c := detachedConn(t, chain)

	chain.fireRead(c, inbound("ab\ncd\n"))
	assert.Equal(t, []string{"abcd"}, s.got())
	assert.Zero(t, c.pending.resumeIndex())

	chain.fireRead(c, inbound("ef\n"))
	assert.Equal(t, []string{"abcd"}, s.got())
	require.NotNil(t, c.pending.at(1))
	assert.Equal(t, "ef", string(c.pending.at(1).Bytes()))
	assert.Zero(t, c.pending.resumeIndex(), "framed bytes are completed from the head")

	chain.fireRead(c, inbound("gh"))
	assert.Equal(t, []string{"abcd"}, s.got())
	require.NotNil(t, c.pending.at(0))
	chain.fireRead(c, inbound("\nijkl\n"))
	assert.Equal(t, []string{"abcd", "efgh", "ijkl"}, s.got())

	c.pending.release()
	assert.Nil(t, c.pending.at(0))
	assert.Nil(t, c.pending.at(1))
}

func TestFilterChainWriteFromFilter(t *testing.T) {
	chain := NewFilterChainBuilder().Add(&stamper{prefix: ">"}, new(replier)).Build()
	c := detachedConn(t, chain)

	chain.fireRead(c, inbound("ping"))
	assert.Equal(t, len(">pong"), c.PendingBytes())

	_, err := c.Write("x")
	require.NoError(t, err)
	assert.Equal(t, len(">pong")+len(">x"), c.PendingBytes())
}

func TestFilterChainClose(t *testing.T) {
	s := new(sink)
	chain := NewFilterChainBuilder().Add(new(closer), s).Build()
	c := detachedConn(t, chain)

	chain.fireRead(c, inbound("bye"))
	assert.Empty(t, s.got())
	assert.Equal(t, StateClosing, c.State())
	assert.Equal(t, CloseLocal, c.CloseType())

	_, err := c.Write("late")
	assert.ErrorIs(t, err, errors.ErrClosed)
}

type panicker struct {
	BuiltinFilter
}

func (*panicker) HandleRead(*FilterContext) NextAction {
	panic("boom")
}

func TestFilterChainPanicClosesConnection(t *testing.T) {
	chain := NewFilterChainBuilder().Add(new(panicker)).Build()
	c := detachedConn(t, chain)

	require.NotPanics(t, func() {
		c.dispatch(func() { c.handleRead(inbound("x")) })
	})
	assert.Equal(t, StateClosing, c.State())
	assert.Equal(t, CloseError, c.CloseType())
	assert.ErrorIs(t, c.closeCause(), errors.ErrIO)
}
