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
	"github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/future"
	"github.com/panjf2000/nio/pkg/memory"
)

// chainHost is the side of a connection a filter chain works with.
type chainHost interface {
	Connection

	allocator() memory.Allocator
	enqueue(msg any, handlers []future.CompletionHandler[int]) (*future.Future[int], error)
	pendingInput() *pendingInput
}

// retained is what a STOP kept at one filter. entry is where the next read enters the
// chain for these bytes to be completed: the filter itself when it had been handed the
// raw read bytes, the head otherwise.
type retained struct {
	buf   *memory.Buffer
	entry int
}

// pendingInput holds the bytes kept by STOP actions, one slot per filter index.
// It's only touched by chain invocations which never overlap for one connection.
type pendingInput struct {
	slots []retained
}

func (p *pendingInput) stop(idx int, rem *memory.Buffer, raw bool) {
	for len(p.slots) <= idx {
		p.slots = append(p.slots, retained{})
	}
	if old := p.slots[idx].buf; old != nil {
		old.Release()
	}
	p.slots[idx] = retained{}
	if rem == nil {
		return
	}
	entry := 0
	if raw {
		entry = idx
	}
	p.slots[idx] = retained{rem.Retain(), entry}
}

// merge prepends the bytes retained at idx to buf, the result is owned by the caller
// unless it's buf itself.
func (p *pendingInput) merge(a memory.Allocator, idx int, buf *memory.Buffer) *memory.Buffer {
	if idx >= len(p.slots) || p.slots[idx].buf == nil {
		return buf
	}
	kept := p.slots[idx].buf
	p.slots[idx] = retained{}
	return memory.AppendTo(a, kept, buf)
}

// at returns the bytes retained at idx.
func (p *pendingInput) at(idx int) *memory.Buffer {
	if idx >= len(p.slots) {
		return nil
	}
	return p.slots[idx].buf
}

// resumeIndex returns where the next read enters the chain.
func (p *pendingInput) resumeIndex() int {
	idx := -1
	for _, r := range p.slots {
		if r.buf != nil && (idx < 0 || r.entry < idx) {
			idx = r.entry
		}
	}
	if idx < 0 {
		return 0
	}
	return idx
}

func (p *pendingInput) release() {
	for i, r := range p.slots {
		if r.buf != nil {
			r.buf.Release()
		}
		p.slots[i] = retained{}
	}
}

// FilterChainBuilder assembles a filter chain, it's not safe for concurrent use.
type FilterChainBuilder struct {
	filters []Filter
}

// NewFilterChainBuilder creates an empty builder.
func NewFilterChainBuilder() *FilterChainBuilder {
	return new(FilterChainBuilder)
}

// Add appends filters to the chain.
func (b *FilterChainBuilder) Add(filters ...Filter) *FilterChainBuilder {
	b.filters = append(b.filters, filters...)
	return b
}

// AddFirst puts a filter at the head of the chain.
func (b *FilterChainBuilder) AddFirst(f Filter) *FilterChainBuilder {
	return b.Insert(0, f)
}

// Insert puts a filter at index idx, an out-of-range idx appends it.
func (b *FilterChainBuilder) Insert(idx int, f Filter) *FilterChainBuilder {
	if idx < 0 || idx >= len(b.filters) {
		b.filters = append(b.filters, f)
		return b
	}
	b.filters = append(b.filters, nil)
	copy(b.filters[idx+1:], b.filters[idx:])
	b.filters[idx] = f
	return b
}

// Remove takes the first occurrence of f out of the chain.
func (b *FilterChainBuilder) Remove(f Filter) *FilterChainBuilder {
	for i, v := range b.filters {
		if v == f {
			b.filters = append(b.filters[:i], b.filters[i+1:]...)
			break
		}
	}
	return b
}

// Len returns the number of filters added so far.
func (b *FilterChainBuilder) Len() int { return len(b.filters) }

// Build creates an immutable chain from the filters added so far,
// the builder can keep being used afterwards.
func (b *FilterChainBuilder) Build() *FilterChain {
	filters := make([]Filter, len(b.filters))
	copy(filters, b.filters)
	return &FilterChain{filters: filters}
}

// FilterChain is an immutable sequence of filters. Inbound events walk it forward,
// outbound messages walk it backwards.
type FilterChain struct {
	filters []Filter
}

// Len returns the number of filters.
func (fc *FilterChain) Len() int { return len(fc.filters) }

// Get returns the filter at idx.
func (fc *FilterChain) Get(idx int) Filter { return fc.filters[idx] }

// IndexOf returns the position of f, -1 if it's not in the chain.
func (fc *FilterChain) IndexOf(f Filter) int {
	for i, v := range fc.filters {
		if v == f {
			return i
		}
	}
	return -1
}

func (fc *FilterChain) call(f Filter, ctx *FilterContext) NextAction {
	switch ctx.event {
	case EventAccept:
		return f.HandleAccept(ctx)
	case EventConnect:
		return f.HandleConnect(ctx)
	case EventRead:
		return f.HandleRead(ctx)
	case EventWrite:
		return f.HandleWrite(ctx)
	case EventClose:
		return f.HandleClose(ctx)
	}
	return ctx.InvokeAction()
}

// fireRead runs the chain for freshly read bytes, buf is taken over.
func (fc *FilterChain) fireRead(h chainHost, buf *memory.Buffer) {
	idx := h.pendingInput().resumeIndex()
	if idx >= len(fc.filters) {
		idx = 0
	}
	fc.fire(h, EventRead, idx, buf)
}

// fireEvent runs the chain for a message-less inbound event.
func (fc *FilterChain) fireEvent(h chainHost, ev IOEvent) {
	fc.fire(h, ev, 0, nil)
}

type resumePoint struct {
	idx int
	rem *memory.Buffer
}

// fire runs the inbound chain from start, msg is released once the invocation is over.
// Remainders of INVOKE actions are run from their filter after the rest of the chain.
func (fc *FilterChain) fire(h chainHost, ev IOEvent, start int, msg any) {
	var resume []resumePoint
	raw := ev == EventRead
	for {
		halt := fc.pass(h, ev, start, msg, raw, &resume)
		if buf, ok := msg.(*memory.Buffer); ok {
			buf.Release()
		}
		if halt || len(resume) == 0 {
			break
		}
		top := resume[len(resume)-1]
		resume = resume[:len(resume)-1]
		start, msg, raw = top.idx, top.rem, false
	}
	for _, rp := range resume {
		rp.rem.Release()
	}
}

func sameBuffer(a, b any) bool {
	x, ok := a.(*memory.Buffer)
	if !ok {
		return false
	}
	y, ok := b.(*memory.Buffer)
	return ok && x == y
}

// pass walks the filters once, it reports whether the whole invocation must end.
// raw tells whether msg holds the bytes of the read untouched.
func (fc *FilterChain) pass(h chainHost, ev IOEvent, start int, msg any, raw bool, resume *[]resumePoint) bool {
	var merged []*memory.Buffer
	defer func() {
		for _, buf := range merged {
			buf.Release()
		}
	}()

	pending := h.pendingInput()
	for i := start; i < len(fc.filters); i++ {
		if buf, ok := msg.(*memory.Buffer); ok && ev == EventRead {
			if m := pending.merge(h.allocator(), i, buf); m != buf {
				merged = append(merged, m)
				msg = m
			}
		}
		ctx := FilterContext{host: h, chain: fc, event: ev, idx: i, message: msg}
		action := fc.call(fc.filters[i], &ctx)
		switch action.typ {
		case ActionInvoke:
			if action.remainder != nil {
				*resume = append(*resume, resumePoint{i, action.remainder.Retain()})
				raw = false
			}
			if !sameBuffer(ctx.message, msg) {
				raw = false
			}
			msg = ctx.message
		case ActionStop:
			if ev == EventRead {
				pending.stop(i, action.remainder, raw)
			}
			return false
		case ActionReregister:
			_ = h.EnableIOEvent(EventRead)
			return false
		case ActionClose:
			_ = h.Close()
			return true
		}
	}
	return false
}

// fireWrite runs the outbound chain from start down to the head and queues what comes out.
func (fc *FilterChain) fireWrite(h chainHost, start int, msg any, handlers []future.CompletionHandler[int]) (*future.Future[int], error) {
	if start >= len(fc.filters) {
		start = len(fc.filters) - 1
	}
	for i := start; i >= 0; i-- {
		ctx := FilterContext{host: h, chain: fc, event: EventWrite, idx: i, message: msg}
		action := fc.call(fc.filters[i], &ctx)
		switch action.typ {
		case ActionInvoke:
			msg = ctx.message
		case ActionStop:
			// The filter took the message over.
			return future.Completed(0, handlers...), nil
		case ActionReregister:
			_ = h.EnableIOEvent(EventRead)
			return future.Completed(0, handlers...), nil
		case ActionClose:
			_ = h.Close()
			return nil, errors.ErrClosed
		}
	}
	return h.enqueue(msg, handlers)
}
