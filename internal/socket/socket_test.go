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

package socket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	errorx "github.com/panjf2000/nio/pkg/errors"
)

func TestListenDialAccept(t *testing.T) {
	lfd, laddr, err := TCPListen("tcp", "127.0.0.1:0", Option{SetSockopt: SetReuseAddr, Opt: 1})
	require.NoError(t, err)
	defer unix.Close(lfd) //nolint:errcheck
	port := laddr.(*net.TCPAddr).Port
	require.NotZero(t, port)

	fd, raddr, _, err := TCPDial("tcp", laddr.String(), Option{SetSockopt: SetNoDelay, Opt: 1})
	require.NoError(t, err)
	defer unix.Close(fd) //nolint:errcheck
	assert.Equal(t, port, raddr.(*net.TCPAddr).Port)

	var nfd int
	require.Eventually(t, func() bool {
		nfd, _, err = Accept(lfd)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer unix.Close(nfd) //nolint:errcheck

	require.Eventually(t, func() bool { return ConnectError(fd) == nil && RemoteAddr(fd) != nil },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, LocalAddr(fd).String(), RemoteAddr(nfd).String())

	_, err = unix.Read(nfd, make([]byte, 8))
	assert.ErrorIs(t, err, unix.EAGAIN, "accepted sockets are non-blocking")
}

func TestListenInUse(t *testing.T) {
	lfd, laddr, err := TCPListen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer unix.Close(lfd) //nolint:errcheck

	_, _, err = TCPListen("tcp4", laddr.String())
	assert.ErrorIs(t, err, unix.EADDRINUSE)
}

func TestUnsupportedProtocol(t *testing.T) {
	_, _, err := TCPListen("udp", "127.0.0.1:0")
	assert.ErrorIs(t, err, errorx.ErrUnsupportedProtocol)
	_, _, _, err = TCPDial("unix", "/tmp/x.sock")
	assert.ErrorIs(t, err, errorx.ErrUnsupportedProtocol)
	_, _, err = TCPListen("tcp", "no-port")
	assert.ErrorIs(t, err, errorx.ErrInvalidNetworkAddress)
}

func TestSockaddrToTCPAddr(t *testing.T) {
	addr := SockaddrToTCPAddr(&unix.SockaddrInet4{Port: 8080, Addr: [4]byte{10, 0, 0, 1}})
	assert.Equal(t, "10.0.0.1:8080", addr.String())
	addr = SockaddrToTCPAddr(&unix.SockaddrInet6{Port: 443, Addr: [16]byte{15: 1}})
	assert.Equal(t, "[::1]:443", addr.String())
	assert.Nil(t, SockaddrToTCPAddr(&unix.SockaddrUnix{Name: "x"}))
}

func TestKeepAliveInvalid(t *testing.T) {
	assert.ErrorIs(t, SetKeepAlivePeriod(0, 0), errorx.ErrInvalidConfig)
}
