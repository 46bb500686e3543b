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
	"github.com/panjf2000/nio/pkg/future"
	"github.com/panjf2000/nio/pkg/memory"
)

// ActionType is what a filter asks the chain to do next.
type ActionType int

const (
	// ActionInvoke continues with the next filter.
	ActionInvoke ActionType = iota
	// ActionStop suspends the chain, the remainder is kept until more bytes arrive.
	ActionStop
	// ActionReregister ends the invocation and re-arms the read interest.
	ActionReregister
	// ActionClose ends the invocation and closes the connection.
	ActionClose
)

func (a ActionType) String() string {
	switch a {
	case ActionInvoke:
		return "INVOKE"
	case ActionStop:
		return "STOP"
	case ActionReregister:
		return "REREGISTER"
	case ActionClose:
		return "CLOSE"
	}
	return "UNKNOWN"
}

// NextAction is returned by the handlers of filters, the zero value is a plain INVOKE.
type NextAction struct {
	typ       ActionType
	remainder *memory.Buffer
}

// Type returns the type of the action.
func (a NextAction) Type() ActionType { return a.typ }

// Remainder returns the buffer carried by a STOP or an INVOKE, if any.
func (a NextAction) Remainder() *memory.Buffer { return a.remainder }

// Filter handles the events of connections, every handler returns the action
// the chain takes next. Embed BuiltinFilter to implement only some of them.
type Filter interface {
	// HandleAccept fires when a connection has been accepted.
	HandleAccept(ctx *FilterContext) NextAction
	// HandleConnect fires when an outgoing connection has been established.
	HandleConnect(ctx *FilterContext) NextAction
	// HandleRead fires when bytes have been read, ctx.Message() is a *memory.Buffer
	// owned by the chain, retain it to keep it beyond the invocation.
	HandleRead(ctx *FilterContext) NextAction
	// HandleWrite fires for outbound messages, in the reverse order of the chain.
	HandleWrite(ctx *FilterContext) NextAction
	// HandleClose fires once when the connection has been closed.
	HandleClose(ctx *FilterContext) NextAction
}

// BuiltinFilter is a filter passing every event on.
type BuiltinFilter struct{}

// HandleAccept passes the event on.
func (BuiltinFilter) HandleAccept(ctx *FilterContext) NextAction { return ctx.InvokeAction() }

// HandleConnect passes the event on.
func (BuiltinFilter) HandleConnect(ctx *FilterContext) NextAction { return ctx.InvokeAction() }

// HandleRead passes the event on.
func (BuiltinFilter) HandleRead(ctx *FilterContext) NextAction { return ctx.InvokeAction() }

// HandleWrite passes the event on.
func (BuiltinFilter) HandleWrite(ctx *FilterContext) NextAction { return ctx.InvokeAction() }

// HandleClose passes the event on.
func (BuiltinFilter) HandleClose(ctx *FilterContext) NextAction { return ctx.InvokeAction() }

// FilterContext is handed to a filter for one event, it must not be kept after the handler returns.
type FilterContext struct {
	host    chainHost
	chain   *FilterChain
	event   IOEvent
	idx     int
	message any
}

// Connection returns the connection of the event.
func (ctx *FilterContext) Connection() Connection { return ctx.host }

// Transport returns the transport of the connection.
func (ctx *FilterContext) Transport() *Transport { return ctx.host.Transport() }

// Event returns the event being processed.
func (ctx *FilterContext) Event() IOEvent { return ctx.event }

// Index returns the position of the current filter in the chain.
func (ctx *FilterContext) Index() int { return ctx.idx }

// Chain returns the chain being executed.
func (ctx *FilterContext) Chain() *FilterChain { return ctx.chain }

// Message returns the message of the event.
func (ctx *FilterContext) Message() any { return ctx.message }

// BufferMessage returns the message when it's a *memory.Buffer.
func (ctx *FilterContext) BufferMessage() (*memory.Buffer, bool) {
	buf, ok := ctx.message.(*memory.Buffer)
	return buf, ok && buf != nil
}

// SetMessage replaces the message handed to the next filter,
// the chain doesn't release buffers set here.
func (ctx *FilterContext) SetMessage(msg any) { ctx.message = msg }

// Allocator returns the allocator of the connection.
func (ctx *FilterContext) Allocator() memory.Allocator { return ctx.host.allocator() }

// Write sends msg through the filters before the current one and queues the result.
func (ctx *FilterContext) Write(msg any, handlers ...future.CompletionHandler[int]) (*future.Future[int], error) {
	return ctx.chain.fireWrite(ctx.host, ctx.idx-1, msg, handlers)
}

// InvokeAction continues with the next filter.
func (ctx *FilterContext) InvokeAction() NextAction {
	return NextAction{typ: ActionInvoke}
}

// InvokeActionWithRemainder continues with the next filter and, once the rest of the chain
// is done, runs the current filter again on the remainder. It lets one read carry several frames.
func (ctx *FilterContext) InvokeActionWithRemainder(remainder *memory.Buffer) NextAction {
	return NextAction{typ: ActionInvoke, remainder: remainder}
}

// StopAction suspends the chain. A non-nil remainder is retained by the connection and the
// next read resumes at the current filter with the new bytes appended to it, a nil one
// makes the next read start from the head of the chain.
func (ctx *FilterContext) StopAction(remainder *memory.Buffer) NextAction {
	return NextAction{typ: ActionStop, remainder: remainder}
}

// ReregisterAction ends the invocation and re-arms the read interest.
func (ctx *FilterContext) ReregisterAction() NextAction {
	return NextAction{typ: ActionReregister}
}

// CloseAction ends the invocation and closes the connection.
func (ctx *FilterContext) CloseAction() NextAction {
	return NextAction{typ: ActionClose}
}
