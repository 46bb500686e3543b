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
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/memory"
)

// CRLFByte represents a byte of CRLF.
var CRLFByte = byte('\n')

// emitFrame hands data[from:to] to the next filter and keeps what follows consumed
// for another round of the current filter.
func emitFrame(ctx *FilterContext, buf *memory.Buffer, from, to, consumed int) NextAction {
	data := buf.Bytes()
	ctx.SetMessage(memory.Wrap(append([]byte(nil), data[from:to]...)))
	buf.Skip(consumed)
	if buf.HasRemaining() {
		return ctx.InvokeActionWithRemainder(buf)
	}
	return ctx.InvokeAction()
}

// outboundBytes copies byte-like messages, a *memory.Buffer is released afterwards.
func outboundBytes(msg any) ([]byte, bool) {
	switch v := msg.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	case *memory.Buffer:
		p := append([]byte(nil), v.Bytes()...)
		v.Release()
		return p, true
	}
	return nil, false
}

// DelimiterFrameFilter splits inbound bytes into delimiter-separated frames
// and appends the delimiter to outbound messages.
type DelimiterFrameFilter struct {
	BuiltinFilter

	delimiter byte
}

// NewDelimiterFrameFilter instantiates a filter with a specific delimiter.
func NewDelimiterFrameFilter(delimiter byte) *DelimiterFrameFilter {
	return &DelimiterFrameFilter{delimiter: delimiter}
}

// NewLineFrameFilter instantiates a filter for line-separated frames.
func NewLineFrameFilter() *DelimiterFrameFilter {
	return NewDelimiterFrameFilter(CRLFByte)
}

// HandleRead implements Filter.
func (f *DelimiterFrameFilter) HandleRead(ctx *FilterContext) NextAction {
	buf, ok := ctx.BufferMessage()
	if !ok {
		return ctx.InvokeAction()
	}
	idx := bytes.IndexByte(buf.Bytes(), f.delimiter)
	if idx == -1 {
		return ctx.StopAction(buf)
	}
	return emitFrame(ctx, buf, 0, idx, idx+1)
}

// HandleWrite implements Filter.
func (f *DelimiterFrameFilter) HandleWrite(ctx *FilterContext) NextAction {
	if p, ok := outboundBytes(ctx.Message()); ok {
		ctx.SetMessage(append(p, f.delimiter))
	}
	return ctx.InvokeAction()
}

// FixedLengthFrameFilter splits inbound bytes into frames of the same length,
// outbound messages pass through untouched.
type FixedLengthFrameFilter struct {
	BuiltinFilter

	frameLength int
}

// NewFixedLengthFrameFilter instantiates a filter with fixed length.
func NewFixedLengthFrameFilter(frameLength int) *FixedLengthFrameFilter {
	if frameLength <= 0 {
		frameLength = 1
	}
	return &FixedLengthFrameFilter{frameLength: frameLength}
}

// HandleRead implements Filter.
func (f *FixedLengthFrameFilter) HandleRead(ctx *FilterContext) NextAction {
	buf, ok := ctx.BufferMessage()
	if !ok {
		return ctx.InvokeAction()
	}
	if buf.Remaining() < f.frameLength {
		return ctx.StopAction(buf)
	}
	return emitFrame(ctx, buf, 0, f.frameLength, f.frameLength)
}

// lengthFieldSize is the size of the big-endian length prefix.
const lengthFieldSize = 4

// LengthFieldFrameFilter decodes frames prefixed with their length as a big-endian uint32
// and prepends the prefix to outbound messages. A connection announcing a frame larger than
// the maximum length is closed.
type LengthFieldFrameFilter struct {
	BuiltinFilter

	maxFrameLength int
}

// NewLengthFieldFrameFilter instantiates a filter, a non-positive max means no limit.
func NewLengthFieldFrameFilter(maxFrameLength int) *LengthFieldFrameFilter {
	if maxFrameLength <= 0 {
		maxFrameLength = math.MaxInt32
	}
	return &LengthFieldFrameFilter{maxFrameLength: maxFrameLength}
}

// HandleRead implements Filter.
func (f *LengthFieldFrameFilter) HandleRead(ctx *FilterContext) NextAction {
	buf, ok := ctx.BufferMessage()
	if !ok {
		return ctx.InvokeAction()
	}
	if buf.Remaining() < lengthFieldSize {
		return ctx.StopAction(buf)
	}
	n := int(binary.BigEndian.Uint32(buf.Bytes()))
	if n > f.maxFrameLength {
		ctx.Transport().Logger().Warnf("closing %v: %v", ctx.Connection().RemoteAddr(),
			fmt.Errorf("%w: %d > %d", errors.ErrFrameTooLarge, n, f.maxFrameLength))
		return ctx.CloseAction()
	}
	if buf.Remaining() < lengthFieldSize+n {
		return ctx.StopAction(buf)
	}
	return emitFrame(ctx, buf, lengthFieldSize, lengthFieldSize+n, lengthFieldSize+n)
}

// HandleWrite implements Filter.
func (f *LengthFieldFrameFilter) HandleWrite(ctx *FilterContext) NextAction {
	if p, ok := outboundBytes(ctx.Message()); ok {
		framed := make([]byte, lengthFieldSize+len(p))
		binary.BigEndian.PutUint32(framed, uint32(len(p)))
		copy(framed[lengthFieldSize:], p)
		ctx.SetMessage(framed)
	}
	return ctx.InvokeAction()
}
