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
	"net"
	"strconv"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/panjf2000/nio/internal/netpoll"
	"github.com/panjf2000/nio/internal/queue"
	"github.com/panjf2000/nio/internal/socket"
	errorx "github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/future"
	"github.com/panjf2000/nio/pkg/pool/goroutine"
)

// Start opens the runners and starts accepting on the endpoints bound so far,
// it's a no-op for a started transport.
func (t *Transport) Start() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.Load() {
		return nil
	}

	cfg := t.opts.WorkerPool
	if cfg.PoolName == "" {
		cfg.PoolName = DefaultWorkerPoolName
	}
	workers, err := goroutine.New(goroutine.Config{
		Name:      cfg.PoolName,
		Core:      cfg.CorePoolSize,
		Max:       cfg.MaxPoolSize,
		KeepAlive: cfg.KeepAlive,
		Logger:    t.logger,
	})
	if err != nil {
		return fmt.Errorf("%w: worker pool: %w", errorx.ErrInvalidConfig, err)
	}

	n := t.runnersCount()
	runners := make([]*Runner, 0, n)
	for i := 0; i < n; i++ {
		r, err := newRunner(i, t)
		if err != nil {
			for _, r := range runners {
				_ = r.poller.Close()
			}
			workers.Release()
			return err
		}
		runners = append(runners, r)
	}

	t.workers.Store(workers)
	t.runners.Store(&runners)
	t.builtin = newDistributor(t.opts.Distribution)
	for _, r := range runners {
		t.builtin.register(r)
	}
	t.group = new(errgroup.Group)
	for _, r := range runners {
		t.group.Go(r.run)
	}
	t.started.Store(true)

	for _, sc := range t.servers {
		if e := t.listen(sc); e != nil {
			t.logger.Errorf("failed to start accepting on %v: %v", sc, e)
			err = multierr.Append(err, e)
		}
	}
	t.logger.Infof("transport started with %d runners, io strategy: %v", n, t.opts.IOStrategy)
	return
}

// Stop closes every connection with CloseLocal and every listening endpoint, then shuts the
// runners and the worker pool down. Endpoints have to be bound again before the next start.
// It must not be called from a filter.
func (t *Transport) Stop() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started.Load() {
		return nil
	}
	runners := *t.runners.Load()

	for _, r := range runners {
		e := r.trigger(queue.HighPriority, (*Runner).shutdownTask, nil)
		if e != nil && !errors.Is(e, errorx.ErrEngineShutdown) {
			err = multierr.Append(err, fmt.Errorf("failed to stop %v: %w", r, e))
		}
	}
	err = multierr.Append(err, t.group.Wait())

	// Connections which never reached a runner.
	t.conns.Range(func(_, v any) bool {
		c := v.(*conn)
		r := c.runner.Load()
		if r == nil {
			r = runners[0]
		}
		r.closeConn(c, CloseLocal, nil)
		return true
	})
	for _, sc := range t.servers {
		err = multierr.Append(err, sc.closeFD())
	}
	t.servers = nil
	for _, r := range runners {
		if e := r.poller.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close the poller of %v: %w", r, e))
		}
	}
	t.workers.Load().Release()
	t.runners.Store(nil)
	t.started.Store(false)

	if t.flush != nil {
		_ = t.flush()
	}
	t.logger.Infof("transport stopped")
	return
}

// listen hands sc over to a runner, the caller holds t.mu.
func (t *Transport) listen(sc *ServerConnection) error {
	r := t.selectRunner(EventAccept, sc.addr)
	sc.runner.Store(r)
	return r.trigger(queue.HighPriority, (*Runner).listenTask, sc)
}

// Bind reserves a listening endpoint, addr is "host:port", ":port" or "tcp://host:port".
// The endpoint starts accepting once the transport is started.
func (t *Transport) Bind(addr string) (*ServerConnection, error) {
	network, address := parseProtoAddr(addr)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bind(network, address)
}

// BindPort binds port on every interface.
func (t *Transport) BindPort(port int) (*ServerConnection, error) {
	return t.Bind(net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
}

// BindRange binds the first free port of pr on host, ErrBind is returned once every port is taken.
func (t *Transport) BindRange(host string, pr PortRange) (*ServerConnection, error) {
	if pr.Lower < 0 || pr.Upper > 65535 || pr.Lower > pr.Upper {
		return nil, fmt.Errorf("%w: %v", errorx.ErrInvalidPortRange, pr)
	}
	network, host := parseProtoAddr(host)
	t.mu.Lock()
	defer t.mu.Unlock()
	var last error
	for port := pr.Lower; port <= pr.Upper; port++ {
		sc, err := t.bind(network, net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return sc, nil
		}
		if !errors.Is(err, unix.EADDRINUSE) && !errors.Is(err, unix.EACCES) {
			return nil, err
		}
		last = err
	}
	return nil, fmt.Errorf("%w: every port of %v is taken on %q: %w", errorx.ErrBind, pr, host, last)
}

func (t *Transport) bind(network, address string) (*ServerConnection, error) {
	fd, addr, err := socket.TCPListen(network, address, t.listenerOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errorx.ErrBind, err)
	}
	sc := &ServerConnection{fd: fd, addr: addr, transport: t}
	if t.started.Load() {
		if err = t.listen(sc); err != nil {
			_ = sc.closeFD()
			return nil, fmt.Errorf("%w: %w", errorx.ErrBind, err)
		}
	}
	t.servers = append(t.servers, sc)
	t.logger.Debugf("bound %v", sc)
	return sc, nil
}

// Unbind closes a listening endpoint, it returns once the fd is closed.
// Connections accepted on it are left open. It must not be called from a filter.
func (t *Transport) Unbind(sc *ServerConnection) error {
	if sc == nil || sc.transport != t {
		return errorx.ErrInvalidNetworkAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, v := range t.servers {
		if v == sc {
			t.servers = append(t.servers[:i], t.servers[i+1:]...)
			break
		}
	}
	return t.unlisten(sc)
}

// UnbindAll closes every listening endpoint of the transport.
func (t *Transport) UnbindAll() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sc := range t.servers {
		err = multierr.Append(err, t.unlisten(sc))
	}
	t.servers = nil
	return
}

// unlisten waits for the runner of sc to deregister and close it, the caller holds t.mu.
func (t *Transport) unlisten(sc *ServerConnection) error {
	r := sc.runner.Load()
	if !t.started.Load() || r == nil || sc.isClosed() {
		return sc.closeFD()
	}
	done := make(chan error, 1)
	if err := r.trigger(queue.HighPriority, (*Runner).unlistenTask, &unbindRequest{sc, done}); err != nil {
		if errors.Is(err, errorx.ErrEngineShutdown) {
			return sc.closeFD()
		}
		return multierr.Append(err, sc.closeFD())
	}
	select {
	case err := <-done:
		return err
	case <-r.exited:
		return sc.closeFD()
	}
}

// Connect starts connecting to addr on the worker pool. The handlers run before the
// connection's filter chain is told about the connect, the returned handle completes after it.
func (t *Transport) Connect(addr string, handlers ...future.CompletionHandler[Connection]) *future.Future[Connection] {
	req := &connectRequest{f: future.New[Connection](), handlers: handlers}
	workers := t.workers.Load()
	if !t.started.Load() || workers == nil {
		req.fail(errorx.ErrTransportNotStarted)
		return req.f
	}

	network, address := parseProtoAddr(addr)
	if err := workers.Submit(func() { t.dial(network, address, req) }); err != nil {
		req.fail(fmt.Errorf("%w: %w", errorx.ErrConnect, err))
	}
	return req.f
}

func (t *Transport) dial(network, address string, req *connectRequest) {
	fd, raddr, _, err := socket.TCPDial(network, address, t.connOptions()...)
	if err != nil {
		req.fail(fmt.Errorf("%w: %w", errorx.ErrConnect, err))
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.started.Load() {
		_ = unix.Close(fd)
		req.fail(fmt.Errorf("%w: %w", errorx.ErrConnect, errorx.ErrTransportInShutdown))
		return
	}
	c := newConn(t, fd, socket.LocalAddr(fd), raddr)
	c.connecting = req
	c.interest.Store(uint32(netpoll.EventWrite))
	r := t.selectRunner(EventConnect, raddr)
	c.runner.Store(r)
	t.conns.Store(c.id, c)
	if err = r.trigger(queue.HighPriority, (*Runner).registerTask, c); err != nil {
		t.conns.Delete(c.id)
		_ = unix.Close(fd)
		req.fail(fmt.Errorf("%w: %w", errorx.ErrConnect, err))
	}
}

func (t *Transport) listenerOptions() (opts []socket.Option) {
	if t.opts.ReuseAddr {
		opts = append(opts, socket.Option{SetSockopt: socket.SetReuseAddr, Opt: 1})
	}
	if t.opts.ReusePort {
		opts = append(opts, socket.Option{SetSockopt: socket.SetReuseport, Opt: 1})
	}
	if t.opts.SocketRecvBuffer > 0 {
		opts = append(opts, socket.Option{SetSockopt: socket.SetRecvBuffer, Opt: t.opts.SocketRecvBuffer})
	}
	if t.opts.SocketSendBuffer > 0 {
		opts = append(opts, socket.Option{SetSockopt: socket.SetSendBuffer, Opt: t.opts.SocketSendBuffer})
	}
	return
}

func (t *Transport) connOptions() (opts []socket.Option) {
	if t.opts.TCPNoDelay {
		opts = append(opts, socket.Option{SetSockopt: socket.SetNoDelay, Opt: 1})
	}
	if secs := int(t.opts.TCPKeepAlive.Seconds()); secs > 0 {
		opts = append(opts, socket.Option{SetSockopt: socket.SetKeepAlivePeriod, Opt: secs})
	}
	if t.opts.SocketRecvBuffer > 0 {
		opts = append(opts, socket.Option{SetSockopt: socket.SetRecvBuffer, Opt: t.opts.SocketRecvBuffer})
	}
	if t.opts.SocketSendBuffer > 0 {
		opts = append(opts, socket.Option{SetSockopt: socket.SetSendBuffer, Opt: t.opts.SocketSendBuffer})
	}
	return
}

// applyConnOptions sets the options of an accepted socket.
func (t *Transport) applyConnOptions(fd int) (err error) {
	for _, opt := range t.connOptions() {
		err = multierr.Append(err, opt.SetSockopt(fd, opt.Opt))
	}
	return
}
