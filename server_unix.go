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
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ServerConnection is a listening endpoint bound by a transport.
type ServerConnection struct {
	fd        int
	addr      net.Addr
	transport *Transport
	runner    atomic.Pointer[Runner] // nil until the transport starts
	once      sync.Once
	closed    atomic.Bool
}

// Addr returns the address the endpoint is bound to.
func (sc *ServerConnection) Addr() net.Addr { return sc.addr }

// Port returns the port the endpoint is bound to, the real one when port 0 was requested.
func (sc *ServerConnection) Port() int {
	if a, ok := sc.addr.(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Transport returns the transport owning the endpoint.
func (sc *ServerConnection) Transport() *Transport { return sc.transport }

// Runner returns the runner accepting for the endpoint, nil while the transport is stopped.
func (sc *ServerConnection) Runner() *Runner { return sc.runner.Load() }

// Close unbinds the endpoint, it's a shortcut of Transport.Unbind.
func (sc *ServerConnection) Close() error {
	return sc.transport.Unbind(sc)
}

func (sc *ServerConnection) String() string {
	return "listener(" + sc.addr.String() + ")"
}

func (sc *ServerConnection) isClosed() bool { return sc.closed.Load() }

func (sc *ServerConnection) closeFD() (err error) {
	sc.once.Do(func() {
		sc.closed.Store(true)
		err = os.NewSyscallError("close", unix.Close(sc.fd))
	})
	return
}
