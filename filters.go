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

// EchoFilter writes every message it reads back to the peer.
type EchoFilter struct {
	BuiltinFilter
}

// HandleRead implements Filter.
func (*EchoFilter) HandleRead(ctx *FilterContext) NextAction {
	if buf, ok := ctx.BufferMessage(); ok {
		if _, err := ctx.Write(buf.Retain()); err != nil {
			ctx.Transport().Logger().Warnf("failed to echo to %v: %v", ctx.Connection().RemoteAddr(), err)
		}
	}
	return ctx.StopAction(nil)
}

// SizeGateFilter holds inbound bytes back until at least Size of them are available,
// the downstream filters then get all of them at once.
type SizeGateFilter struct {
	BuiltinFilter

	Size int
}

// NewSizeGateFilter creates a size gate of n bytes.
func NewSizeGateFilter(n int) *SizeGateFilter {
	return &SizeGateFilter{Size: n}
}

// HandleRead implements Filter.
func (f *SizeGateFilter) HandleRead(ctx *FilterContext) NextAction {
	buf, ok := ctx.BufferMessage()
	if !ok {
		return ctx.InvokeAction()
	}
	if buf.Remaining() < f.Size {
		return ctx.StopAction(buf)
	}
	return ctx.InvokeAction()
}
