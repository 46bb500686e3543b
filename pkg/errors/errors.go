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

// Package errors defines common errors for nio.
//
// Errors reported by the transport are wrapped around one of the kinds below,
// use errors.Is to tell them apart, the underlying cause (e.g. a syscall.Errno)
// stays reachable through the same chain.
package errors

import "errors"

var (
	// ErrBind occurs when a listening endpoint can't be reserved, the address is
	// already in use or every port of a range is occupied.
	ErrBind = errors.New("nio: failed to bind the address")
	// ErrConnect occurs when an outgoing connection can't be established.
	ErrConnect = errors.New("nio: failed to connect")
	// ErrIO occurs when reading from or writing to an established connection fails.
	ErrIO = errors.New("nio: i/o failure on connection")
	// ErrBackpressure occurs when a write would exceed the pending-bytes ceiling of the connection.
	ErrBackpressure = errors.New("nio: pending bytes ceiling exceeded")
	// ErrUnderflow occurs when a typed read is attempted without sufficient buffered data.
	ErrUnderflow = errors.New("nio: not enough data buffered")
	// ErrClosed occurs when an operation is attempted on a closed connection or stream,
	// or when closing races with a pending completion.
	ErrClosed = errors.New("nio: connection is closed")

	// ErrTransportNotStarted occurs when trying to connect through a transport that hasn't been started.
	ErrTransportNotStarted = errors.New("nio: transport is not started")
	// ErrTransportStarted occurs when trying to change a setting that is fixed while the transport runs.
	ErrTransportStarted = errors.New("nio: transport is already started")
	// ErrTransportInShutdown occurs when the transport is being stopped.
	ErrTransportInShutdown = errors.New("nio: transport is in shutdown")
	// ErrEngineShutdown is returned from tasks to make a runner exit its loop.
	ErrEngineShutdown = errors.New("nio: runner is going to be shutdown")

	// ErrUnsupportedProtocol occurs when trying to use protocol that is not supported.
	ErrUnsupportedProtocol = errors.New("nio: only tcp/tcp4/tcp6 are supported")
	// ErrUnsupportedTCPProtocol occurs when trying to use an unsupported TCP protocol.
	ErrUnsupportedTCPProtocol = errors.New("nio: only tcp/tcp4/tcp6 are supported")
	// ErrInvalidNetworkAddress occurs when the network address is invalid.
	ErrInvalidNetworkAddress = errors.New("nio: invalid network address")
	// ErrInvalidPortRange occurs when a port range is empty or out of bounds.
	ErrInvalidPortRange = errors.New("nio: invalid port range")
	// ErrNegativeSize occurs when trying to pass a negative size to a buffer.
	ErrNegativeSize = errors.New("nio: negative size is not allowed")
	// ErrUnsupportedMessage occurs when a message reaching the outbound queue is not a byte container.
	ErrUnsupportedMessage = errors.New("nio: unsupported outbound message type")
	// ErrInvalidRunner occurs when attaching a connection to a runner of another transport or a nil one.
	ErrInvalidRunner = errors.New("nio: invalid runner")
	// ErrFrameTooLarge occurs when a length-prefixed frame announces more bytes than allowed.
	ErrFrameTooLarge = errors.New("nio: frame exceeds the maximum length")
	// ErrInvalidConfig occurs when a configuration value is out of range.
	ErrInvalidConfig = errors.New("nio: invalid configuration")
)
