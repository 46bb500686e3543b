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
	"net"

	"github.com/panjf2000/nio/pkg/future"
)

// IOEvent is the kind of event a filter chain is invoked for,
// EventRead and EventWrite also name the interests of a connection.
type IOEvent int

const (
	// EventNone means no event.
	EventNone IOEvent = iota
	// EventAccept is fired once for every accepted connection.
	EventAccept
	// EventConnect is fired once for every outgoing connection that has been established.
	EventConnect
	// EventRead is fired for inbound bytes.
	EventRead
	// EventWrite is fired for outbound messages.
	EventWrite
	// EventClose is fired once when the connection is closed.
	EventClose
)

func (ev IOEvent) String() string {
	switch ev {
	case EventNone:
		return "NONE"
	case EventAccept:
		return "ACCEPT"
	case EventConnect:
		return "CONNECT"
	case EventRead:
		return "READ"
	case EventWrite:
		return "WRITE"
	case EventClose:
		return "CLOSE"
	}
	return "UNKNOWN"
}

// State is the close-state of a connection.
type State int32

const (
	// StateOpen means the connection is usable.
	StateOpen State = iota
	// StateClosing means Close has been requested and the runner hasn't torn the socket down yet.
	StateClosing
	// StateClosed means the socket is gone.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// CloseType is the cause of a close, it's fixed by the first transition out of StateOpen.
type CloseType int32

const (
	// CloseNone is reported by connections that are still open.
	CloseNone CloseType = iota
	// CloseLocal means the connection was closed by this side.
	CloseLocal
	// CloseRemote means the peer closed the connection.
	CloseRemote
	// CloseError means the connection was closed because of an I/O failure.
	CloseError
)

func (ct CloseType) String() string {
	switch ct {
	case CloseNone:
		return "NONE"
	case CloseLocal:
		return "LOCAL"
	case CloseRemote:
		return "REMOTE"
	case CloseError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// CloseListener is notified exactly once when a connection closes.
type CloseListener func(c Connection, ct CloseType)

// Connection is one TCP endpoint served by a transport.
type Connection interface {
	// ID returns the process-unique identifier of the connection.
	ID() uint64

	// LocalAddr is the connection's local socket address.
	LocalAddr() net.Addr

	// RemoteAddr is the connection's remote peer address.
	RemoteAddr() net.Addr

	// Transport returns the transport the connection belongs to.
	Transport() *Transport

	// Runner returns the runner currently in charge of the connection.
	Runner() *Runner

	// Context returns a user-defined context.
	Context() any

	// SetContext sets a user-defined context.
	SetContext(ctx any)

	// State returns the close-state of the connection.
	State() State

	// IsOpen tells whether the connection is in StateOpen.
	IsOpen() bool

	// CloseType returns the cause of the close, CloseNone while the connection is open.
	CloseType() CloseType

	// Close closes the connection with cause CloseLocal, it's safe to call it more than once
	// and from any goroutine. Queued outbound data is flushed on a best-effort basis.
	Close() error

	// AddCloseListener registers a close listener and returns the function removing it,
	// the listener is called at once when the connection is already closed.
	AddCloseListener(l CloseListener) (remove func())

	// ConfigureStandalone makes inbound bytes bypass the filter chain and go to the stream reader.
	ConfigureStandalone(standalone bool)

	// IsStandalone tells whether the connection is standalone.
	IsStandalone() bool

	// ConfigureBlocking makes Write and stream flushes wait for their completion.
	// Blocking connections must not be written from runner goroutines.
	ConfigureBlocking(blocking bool)

	// IsBlocking tells whether the connection is blocking.
	IsBlocking() bool

	// AttachToRunner migrates the connection to another runner of the same transport,
	// the new runner takes over from its next poll cycle.
	AttachToRunner(r *Runner) error

	// EnableIOEvent turns an interest on, EventRead resumes reading and EventWrite
	// schedules a flush of the outbound queue.
	EnableIOEvent(ev IOEvent) error

	// DisableIOEvent turns EventRead off, the runner stops reading from the socket
	// until it's enabled again.
	DisableIOEvent(ev IOEvent) error

	// Write sends msg through the outbound filter chain and queues the result, msg is either a
	// *memory.Buffer whose reference is taken over, a []byte that mustn't be modified until
	// the write completes, or a string. It fails synchronously with errors.ErrBackpressure
	// when the pending-bytes ceiling would be exceeded.
	Write(msg any, handlers ...future.CompletionHandler[int]) (*future.Future[int], error)

	// PendingBytes returns the number of outbound bytes not written yet.
	PendingBytes() int
}
