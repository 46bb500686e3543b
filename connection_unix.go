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
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/nio/internal/netpoll"
	"github.com/panjf2000/nio/internal/queue"
	"github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/future"
	"github.com/panjf2000/nio/pkg/memory"
	"github.com/panjf2000/nio/pkg/streams"
)

var nextConnID atomic.Uint64

type connectRequest struct {
	f        *future.Future[Connection]
	handlers []future.CompletionHandler[Connection]
}

func (req *connectRequest) fail(err error) {
	for _, h := range req.handlers {
		h.Failed(err)
	}
	req.f.Fail(err)
}

type closeListenerEntry struct {
	id uint64
	l  CloseListener
}

type conn struct {
	id         uint64
	fd         int
	transport  *Transport
	processor  *FilterChain
	runner     atomic.Pointer[Runner]
	localAddr  net.Addr
	remoteAddr net.Addr

	ctx        atomic.Value
	state      atomic.Int32 // State in the low byte, CloseType in the next one
	cause      atomic.Value // errBox, set by the first transition out of StateOpen
	standalone atomic.Bool
	blocking   atomic.Bool
	interest   atomic.Uint32 // desired netpoll.IOEvent set

	// Owned by the runner in charge.
	polled     bool
	armed      netpoll.IOEvent
	connecting *connectRequest

	pending  pendingInput // owned by chain invocations
	outbound asyncQueue
	exec     *serialExecutor

	mu             sync.Mutex
	listeners      []closeListenerEntry
	nextListenerID uint64

	streamsOnce sync.Once
	streamsUsed atomic.Bool
	reader      *streams.Reader
	writer      *streams.Writer
}

func newConn(t *Transport, fd int, local, remote net.Addr) *conn {
	c := &conn{
		id:         nextConnID.Add(1),
		fd:         fd,
		transport:  t,
		processor:  t.Processor(),
		localAddr:  local,
		remoteAddr: remote,
	}
	c.blocking.Store(t.blocking.Load())
	c.outbound.init()
	if t.opts.IOStrategy == WorkerThreadIOStrategy {
		c.exec = newSerialExecutor(t.workers.Load(), t.logger)
	}
	return c
}

func (c *conn) String() string {
	return fmt.Sprintf("conn(id=%d, fd=%d, local=%v, remote=%v)", c.id, c.fd, c.localAddr, c.remoteAddr)
}

func (c *conn) ID() uint64            { return c.id }
func (c *conn) LocalAddr() net.Addr   { return c.localAddr }
func (c *conn) RemoteAddr() net.Addr  { return c.remoteAddr }
func (c *conn) Transport() *Transport { return c.transport }
func (c *conn) Runner() *Runner       { return c.runner.Load() }
func (c *conn) State() State          { return State(c.state.Load() & 0xff) }
func (c *conn) IsOpen() bool          { return c.State() == StateOpen }
func (c *conn) CloseType() CloseType  { return CloseType(c.state.Load() >> 8) }
func (c *conn) IsStandalone() bool    { return c.standalone.Load() }
func (c *conn) IsBlocking() bool      { return c.blocking.Load() }
func (c *conn) PendingBytes() int     { return c.outbound.size() }

func (c *conn) Context() any {
	if v, ok := c.ctx.Load().(ctxBox); ok {
		return v.v
	}
	return nil
}

// ctxBox lets atomic.Value store contexts of different types.
type ctxBox struct{ v any }

func (c *conn) SetContext(ctx any) { c.ctx.Store(ctxBox{ctx}) }

func (c *conn) ConfigureStandalone(standalone bool) { c.standalone.Store(standalone) }
func (c *conn) ConfigureBlocking(blocking bool)     { c.blocking.Store(blocking) }

// markClosing moves the connection out of StateOpen and fixes the cause,
// it reports false when another transition came first.
func (c *conn) markClosing(ct CloseType, cause error) bool {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)|int32(ct)<<8) {
		return false
	}
	c.cause.Store(errBox{cause})
	return true
}

// markClosed keeps the close type.
func (c *conn) markClosed() {
	for {
		v := c.state.Load()
		if c.state.CompareAndSwap(v, v&^0xff|int32(StateClosed)) {
			return
		}
	}
}

type errBox struct{ err error }

// closeCause returns the error the connection has been closed with, if any.
func (c *conn) closeCause() error {
	if v, ok := c.cause.Load().(errBox); ok {
		return v.err
	}
	return nil
}

func (c *conn) Close() error {
	if !c.markClosing(CloseLocal, nil) {
		return nil
	}
	return c.trigger(queue.HighPriority, (*Runner).closeTask, c)
}

func (c *conn) AddCloseListener(l CloseListener) (remove func()) {
	c.mu.Lock()
	if c.State() == StateClosed && c.listeners == nil {
		c.mu.Unlock()
		l(c, c.CloseType())
		return func() {}
	}
	c.nextListenerID++
	id := c.nextListenerID
	c.listeners = append(c.listeners, closeListenerEntry{id, l})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		for i, e := range c.listeners {
			if e.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

// notifyClosed fires every close listener once.
func (c *conn) notifyClosed() {
	c.mu.Lock()
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()
	ct := c.CloseType()
	for _, e := range listeners {
		e.l(c, ct)
	}
}

func (c *conn) AttachToRunner(r *Runner) error {
	if r == nil || r.transport != c.transport {
		return errors.ErrInvalidRunner
	}
	if !c.IsOpen() {
		return errors.ErrClosed
	}
	if c.runner.Load() == r {
		return nil
	}
	return c.trigger(queue.HighPriority, (*Runner).detachTask, &migration{c, r})
}

func (c *conn) EnableIOEvent(ev IOEvent) error {
	switch ev {
	case EventRead:
		c.setInterest(netpoll.EventRead, true)
		return c.trigger(queue.HighPriority, (*Runner).interestTask, c)
	case EventWrite:
		return c.trigger(queue.LowPriority, (*Runner).flushTask, c)
	}
	return errors.ErrInvalidConfig
}

func (c *conn) DisableIOEvent(ev IOEvent) error {
	if ev != EventRead {
		return errors.ErrInvalidConfig
	}
	c.setInterest(netpoll.EventRead, false)
	return c.trigger(queue.HighPriority, (*Runner).interestTask, c)
}

func (c *conn) setInterest(ev netpoll.IOEvent, on bool) {
	for {
		old := c.interest.Load()
		v := old &^ uint32(ev)
		if on {
			v = old | uint32(ev)
		}
		if old == v || c.interest.CompareAndSwap(old, v) {
			return
		}
	}
}

// trigger hands a task over to the runner in charge of the connection.
func (c *conn) trigger(priority queue.EventPriority, task runnerTask, arg any) error {
	r := c.runner.Load()
	if r == nil {
		return errors.ErrTransportNotStarted
	}
	return r.trigger(priority, task, arg)
}

func (c *conn) Write(msg any, handlers ...future.CompletionHandler[int]) (*future.Future[int], error) {
	if !c.IsOpen() {
		return nil, errors.ErrClosed
	}
	var (
		f   *future.Future[int]
		err error
	)
	if c.processor == nil || c.processor.Len() == 0 || c.IsStandalone() {
		f, err = c.enqueue(msg, handlers)
	} else {
		f, err = c.processor.fireWrite(c, c.processor.Len()-1, msg, handlers)
	}
	if err == nil && c.IsBlocking() {
		_, _ = f.Wait()
	}
	return f, err
}

func toBuffer(a memory.Allocator, msg any) (*memory.Buffer, error) {
	switch v := msg.(type) {
	case *memory.Buffer:
		return v, nil
	case []byte:
		return memory.Wrap(v), nil
	case string:
		buf := a.Allocate(len(v))
		_, _ = buf.Write([]byte(v))
		buf.Flip()
		return buf, nil
	}
	return nil, fmt.Errorf("%w: %T", errors.ErrUnsupportedMessage, msg)
}

func (c *conn) enqueue(msg any, handlers []future.CompletionHandler[int]) (*future.Future[int], error) {
	buf, err := toBuffer(c.allocator(), msg)
	if err != nil {
		return nil, err
	}
	f, first, err := c.outbound.offer(buf, c.transport.maxPending.Load(), handlers)
	if err != nil {
		return nil, err
	}
	if first {
		if err = c.trigger(queue.LowPriority, (*Runner).flushTask, c); err != nil {
			c.transport.logger.Warnf("failed to schedule the flush of %v: %v", c, err)
		}
	}
	return f, nil
}

func (c *conn) allocator() memory.Allocator { return c.transport.allocator }

func (c *conn) pendingInput() *pendingInput { return &c.pending }

// dispatch runs a chain-related task according to the IO strategy,
// tasks of one connection never overlap.
func (c *conn) dispatch(task func()) {
	if c.exec != nil {
		c.exec.submit(func() { c.safely(task) })
		return
	}
	c.safely(task)
}

// safely recovers the panics of user code, the connection is closed with CloseError.
func (c *conn) safely(task func()) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%w: panic in filter chain: %v", errors.ErrIO, p)
			c.transport.logger.Errorf("%v, closing %v\n%s", err, c, stack())
			if c.markClosing(CloseError, err) {
				_ = c.trigger(queue.HighPriority, (*Runner).closeTask, c)
			}
		}
	}()
	task()
}

// handleRead routes inbound bytes, buf is taken over.
func (c *conn) handleRead(buf *memory.Buffer) {
	if c.IsStandalone() {
		r, _ := c.streamPair()
		_ = r.Append(buf)
		return
	}
	if c.processor == nil {
		buf.Release()
		return
	}
	c.processor.fireRead(c, buf)
}

func (c *conn) fireEvent(ev IOEvent) {
	if c.processor != nil && !c.IsStandalone() {
		c.processor.fireEvent(c, ev)
	}
}

// closeStreams closes the stream reader, bytes it buffered stay readable.
func (c *conn) closeStreams() {
	if c.streamsUsed.Load() {
		rd, _ := c.streamPair()
		rd.Close(errors.ErrClosed)
	}
}

// streamPair creates the stream reader and writer of the connection on first use.
func (c *conn) streamPair() (*streams.Reader, *streams.Writer) {
	c.streamsOnce.Do(func() {
		c.reader = streams.NewReader()
		c.writer = streams.NewWriter(c, c.allocator())
		c.streamsUsed.Store(true)
	})
	return c.reader, c.writer
}
