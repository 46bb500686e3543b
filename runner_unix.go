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
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/nio/internal/netpoll"
	"github.com/panjf2000/nio/internal/queue"
	"github.com/panjf2000/nio/internal/socket"
	errorx "github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/logging"
)

// maxAcceptsPerEvent bounds the connections a runner accepts for one readiness event
// so that a burst of clients doesn't starve the others.
const maxAcceptsPerEvent = 128

// Runner drives one polling loop, only its goroutine performs readiness-triggered I/O
// for the connections and listeners registered with it.
type Runner struct {
	idx         int                       // runner index in the transport runners list
	transport   *Transport                // transport the runner belongs to
	poller      *netpoll.Poller           // epoll or kqueue
	buffer      []byte                    // read packet buffer whose capacity is set by user, default value is 64KB
	connections map[int]*conn             // connections registered with the poller
	listeners   map[int]*ServerConnection // listening endpoints registered with the poller
	connCount   atomic.Int32              // number of registered connections
	exited      chan struct{}             // closed once the polling loop returns
	logger      logging.Logger
}

// runnerTask is a task executed on the goroutine of a runner.
type runnerTask func(r *Runner, arg any) error

type migration struct {
	c  *conn
	to *Runner
}

func newRunner(idx int, t *Transport) (*Runner, error) {
	p, err := netpoll.OpenPoller(t.logger)
	if err != nil {
		return nil, err
	}
	return &Runner{
		idx:         idx,
		transport:   t,
		poller:      p,
		buffer:      make([]byte, t.opts.ReadBufferCap),
		connections: make(map[int]*conn),
		listeners:   make(map[int]*ServerConnection),
		exited:      make(chan struct{}),
		logger:      t.logger,
	}, nil
}

// Index returns the position of the runner in Transport.Runners.
func (r *Runner) Index() int { return r.idx }

// Transport returns the transport the runner belongs to.
func (r *Runner) Transport() *Transport { return r.transport }

// CountConnections returns the number of connections registered with the runner.
func (r *Runner) CountConnections() int32 { return r.connCount.Load() }

func (r *Runner) String() string { return fmt.Sprintf("runner(%d)", r.idx) }

func (r *Runner) trigger(priority queue.EventPriority, task runnerTask, arg any) error {
	select {
	case <-r.exited:
		return errorx.ErrEngineShutdown
	default:
	}
	return r.poller.Trigger(priority, func(a any) error { return task(r, a) }, arg)
}

func (r *Runner) run() error {
	defer close(r.exited)
	if r.transport.opts.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	err := r.poller.Polling(r.transport.opts.PollTimeout, r.handleEvent)
	if errors.Is(err, errorx.ErrEngineShutdown) {
		r.logger.Debugf("%v is exiting due to transport stop", r)
		return nil
	}
	r.logger.Errorf("%v is exiting due to error: %v", r, err)
	return err
}

func (r *Runner) handleEvent(fd int, ev netpoll.IOEvent) error {
	if c, ok := r.connections[fd]; ok {
		r.serve(c, ev)
		return nil
	}
	if ln, ok := r.listeners[fd]; ok {
		r.accept(ln)
	}
	return nil
}

// serve hands one write opportunity and one read opportunity to a ready connection,
// then re-arms its interest.
func (r *Runner) serve(c *conn, ev netpoll.IOEvent) {
	if c.connecting != nil {
		if ev&(netpoll.EventWrite|netpoll.EventError) != 0 {
			r.finishConnect(c)
		}
		return
	}
	if ev&netpoll.EventWrite != 0 {
		r.flush(c)
	}
	if ev&(netpoll.EventRead|netpoll.EventError) != 0 && r.owns(c) {
		r.read(c)
	}
	if r.owns(c) {
		r.syncInterest(c)
	}
}

func (r *Runner) owns(c *conn) bool {
	return r.connections[c.fd] == c
}

func (r *Runner) addConn(c *conn) {
	r.connections[c.fd] = c
	r.connCount.Add(1)
}

func (r *Runner) removeConn(c *conn) {
	if c.polled {
		if err := r.poller.Delete(c.fd, c.armed); err != nil {
			r.logger.Debugf("failed to delete %v from the poller of %v: %v", c, r, err)
		}
		c.polled, c.armed = false, netpoll.EventNone
	}
	if r.owns(c) {
		delete(r.connections, c.fd)
		r.connCount.Add(-1)
	}
}

// syncInterest makes the poller watch what the connection wants.
func (r *Runner) syncInterest(c *conn) {
	want := netpoll.IOEvent(c.interest.Load())
	var err error
	switch {
	case !c.polled:
		if err = r.poller.Add(c.fd, want); err == nil {
			c.polled, c.armed = true, want
		}
	case want != c.armed:
		if err = r.poller.Mod(c.fd, c.armed, want); err == nil {
			c.armed = want
		}
	}
	if err != nil {
		r.closeConn(c, CloseError, fmt.Errorf("%w: %w", errorx.ErrIO, err))
	}
}

func (r *Runner) read(c *conn) {
	n, err := unix.Read(c.fd, r.buffer)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		r.closeConn(c, CloseError, fmt.Errorf("%w: %w", errorx.ErrIO, os.NewSyscallError("read", err)))
		return
	}
	if n == 0 {
		r.closeConn(c, CloseRemote, nil)
		return
	}

	buf := r.transport.allocator.Allocate(n)
	_, _ = buf.Write(r.buffer[:n])
	buf.Flip()
	c.dispatch(func() { c.handleRead(buf) })
}

func (r *Runner) flush(c *conn) {
	empty, err := c.outbound.drain(c.fd)
	if err != nil {
		r.closeConn(c, CloseError, fmt.Errorf("%w: %w", errorx.ErrIO, os.NewSyscallError("write", err)))
		return
	}
	// WRITE is only watched while the socket pushes back.
	c.setInterest(netpoll.EventWrite, !empty)
}

func (r *Runner) finishConnect(c *conn) {
	req := c.connecting
	c.connecting = nil
	if err := socket.ConnectError(c.fd); err != nil {
		err = fmt.Errorf("%w: %w", errorx.ErrConnect, err)
		c.markClosing(CloseError, err)
		r.teardown(c)
		req.fail(err)
		return
	}

	c.localAddr = socket.LocalAddr(c.fd)
	c.setInterest(netpoll.EventWrite, false)
	r.syncInterest(c)
	c.dispatch(func() {
		for _, h := range req.handlers {
			h.Completed(c)
		}
		c.fireEvent(EventConnect)
		if c.IsOpen() {
			_ = c.EnableIOEvent(EventRead)
		}
		req.f.Complete(c)
	})
}

func (r *Runner) accept(ln *ServerConnection) {
	t := r.transport
	for i := 0; i < maxAcceptsPerEvent; i++ {
		nfd, sa, err := socket.Accept(ln.fd)
		if err != nil {
			switch err {
			case unix.EAGAIN:
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				r.logger.Errorf("accept() failed on %v: %v", ln.addr, os.NewSyscallError("accept", err))
			}
			return
		}
		if err = t.applyConnOptions(nfd); err != nil {
			r.logger.Warnf("failed to set socket options of accepted fd=%d: %v", nfd, err)
		}

		remote := socket.SockaddrToTCPAddr(sa)
		c := newConn(t, nfd, socket.LocalAddr(nfd), remote)
		nr := t.selectRunner(EventRead, remote)
		if nr == nil {
			nr = r
		}
		c.runner.Store(nr)
		t.conns.Store(c.id, c)
		if err = nr.trigger(queue.HighPriority, (*Runner).registerTask, c); err != nil {
			r.logger.Errorf("failed to register %v with %v: %v", c, nr, err)
			t.conns.Delete(c.id)
			_ = unix.Close(nfd)
		}
	}
}

// closeConn closes a connection owned by the runner.
func (r *Runner) closeConn(c *conn, ct CloseType, cause error) {
	c.markClosing(ct, cause)
	r.teardown(c)
}

// teardown releases the socket of a connection that is leaving StateOpen, a best-effort
// flush goes first unless the connection failed. The chain and the close listeners are
// notified through the IO strategy.
func (r *Runner) teardown(c *conn) {
	if c.State() == StateClosed {
		return
	}
	r.removeConn(c)
	cause := c.closeCause()
	if c.CloseType() != CloseError {
		_, _ = c.outbound.drain(c.fd)
	}
	if err := unix.Close(c.fd); err != nil {
		r.logger.Warnf("failed to close %v: %v", c, os.NewSyscallError("close", err))
	}
	c.markClosed()
	r.transport.conns.Delete(c.id)
	if cause == nil {
		cause = errorx.ErrClosed
	}
	c.outbound.failAll(cause)

	if req := c.connecting; req != nil {
		c.connecting = nil
		req.fail(fmt.Errorf("%w: %w", errorx.ErrConnect, cause))
		return
	}
	if c.CloseType() == CloseError && errors.Is(cause, errorx.ErrConnect) {
		return
	}
	// Reads still queued on the worker pool reach the stream reader before it's closed.
	c.dispatch(func() {
		c.closeStreams()
		c.pending.release()
		c.fireEvent(EventClose)
		c.notifyClosed()
	})
}

func (r *Runner) registerTask(arg any) error {
	c := arg.(*conn)
	if owner := c.runner.Load(); owner != r {
		return owner.trigger(queue.HighPriority, (*Runner).registerTask, c)
	}
	if c.State() == StateClosed {
		return nil
	}
	r.addConn(c)
	if c.connecting != nil {
		c.interest.Store(uint32(netpoll.EventWrite))
		r.syncInterest(c)
		return nil
	}
	r.syncInterest(c)
	c.dispatch(func() {
		c.fireEvent(EventAccept)
		if c.IsOpen() {
			_ = c.EnableIOEvent(EventRead)
		}
	})
	return nil
}

func (r *Runner) closeTask(arg any) error {
	c := arg.(*conn)
	if owner := c.runner.Load(); owner != r {
		return owner.trigger(queue.HighPriority, (*Runner).closeTask, c)
	}
	r.teardown(c)
	return nil
}

func (r *Runner) detachTask(arg any) error {
	m := arg.(*migration)
	c := m.c
	if owner := c.runner.Load(); owner != r {
		return owner.trigger(queue.HighPriority, (*Runner).detachTask, m)
	}
	if c.State() == StateClosed || m.to == r {
		return nil
	}
	registered := r.owns(c)
	if registered {
		r.removeConn(c)
	}
	// The attach is queued before the pointer flips: tasks that observe the new
	// runner are queued behind it.
	if err := m.to.trigger(queue.HighPriority, (*Runner).attachTask, c); err != nil {
		if registered {
			r.addConn(c)
			r.syncInterest(c)
		}
		return fmt.Errorf("failed to migrate %v from %v to %v: %w", c, r, m.to, err)
	}
	c.runner.Store(m.to)
	return nil
}

func (r *Runner) attachTask(arg any) error {
	c := arg.(*conn)
	if c.State() == StateClosed {
		return nil
	}
	r.addConn(c)
	r.syncInterest(c)
	return nil
}

func (r *Runner) interestTask(arg any) error {
	c := arg.(*conn)
	if owner := c.runner.Load(); owner != r {
		return owner.trigger(queue.HighPriority, (*Runner).interestTask, c)
	}
	if r.owns(c) && c.connecting == nil {
		r.syncInterest(c)
	}
	return nil
}

func (r *Runner) flushTask(arg any) error {
	c := arg.(*conn)
	if owner := c.runner.Load(); owner != r {
		return owner.trigger(queue.LowPriority, (*Runner).flushTask, c)
	}
	if r.owns(c) && c.connecting == nil {
		r.flush(c)
		if r.owns(c) {
			r.syncInterest(c)
		}
	}
	return nil
}

func (r *Runner) listenTask(arg any) error {
	ln := arg.(*ServerConnection)
	if ln.isClosed() {
		return nil
	}
	if err := r.poller.Add(ln.fd, netpoll.EventRead); err != nil {
		return fmt.Errorf("failed to register listener %v with %v: %w", ln.addr, r, err)
	}
	r.listeners[ln.fd] = ln
	return nil
}

type unbindRequest struct {
	ln   *ServerConnection
	done chan error
}

func (r *Runner) unlistenTask(arg any) error {
	req := arg.(*unbindRequest)
	req.done <- r.unlisten(req.ln)
	return nil
}

func (r *Runner) unlisten(ln *ServerConnection) error {
	if r.listeners[ln.fd] == ln {
		delete(r.listeners, ln.fd)
		_ = r.poller.Delete(ln.fd, netpoll.EventRead)
	}
	return ln.closeFD()
}

// shutdownTask closes everything registered with the runner and makes it exit.
func (r *Runner) shutdownTask(any) error {
	for _, c := range r.connections {
		r.closeConn(c, CloseLocal, nil)
	}
	for _, ln := range r.listeners {
		_ = r.unlisten(ln)
	}
	return errorx.ErrEngineShutdown
}

func stack() []byte {
	return debug.Stack()
}
