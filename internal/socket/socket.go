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

// Package socket creates the non-blocking TCP sockets of nio transports,
// listening ones and outgoing ones alike.
package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Option is used for setting an option on socket.
type Option struct {
	SetSockopt func(int, int) error
	Opt        int
}

// TCPListen creates a listening socket bound to addr, the returned fd is non-blocking.
func TCPListen(proto, addr string, sockopts ...Option) (int, net.Addr, error) {
	return tcpSocket(proto, addr, true, sockopts...)
}

// TCPDial creates a non-blocking socket and starts connecting it to addr.
// The connection is in progress when the call returns with inProgress set,
// the caller waits for writability and checks SO_ERROR to learn the outcome.
func TCPDial(proto, addr string, sockopts ...Option) (fd int, raddr net.Addr, inProgress bool, err error) {
	var (
		family   int
		sockaddr unix.Sockaddr
	)
	if sockaddr, family, raddr, _, err = getTCPSockaddr(proto, addr); err != nil {
		return
	}
	if fd, err = sysSocket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		err = os.NewSyscallError("socket", err)
		return
	}
	for _, sockopt := range sockopts {
		if err = sockopt.SetSockopt(fd, sockopt.Opt); err != nil {
			_ = unix.Close(fd)
			return
		}
	}
	switch err = unix.Connect(fd, sockaddr); err {
	case nil:
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		inProgress, err = true, nil
	default:
		_ = unix.Close(fd)
		err = os.NewSyscallError("connect", err)
	}
	return
}

// ConnectError fetches the pending error of a socket whose connect has completed.
func ConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if errno != 0 {
		return os.NewSyscallError("connect", unix.Errno(errno))
	}
	return nil
}

// LocalAddr returns the address the socket is bound to.
func LocalAddr(fd int) net.Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return SockaddrToTCPAddr(sa)
}

// RemoteAddr returns the address of the peer.
func RemoteAddr(fd int) net.Addr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil
	}
	return SockaddrToTCPAddr(sa)
}
