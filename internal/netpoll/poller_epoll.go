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

//go:build linux

package netpoll

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/nio/internal/queue"
	"github.com/panjf2000/nio/pkg/logging"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	writeEvents = unix.EPOLLOUT
	errEvents   = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
)

// Poller represents a poller which is in charge of monitoring file-descriptors.
type Poller struct {
	taskQueues

	fd     int    // epoll fd
	efd    int    // eventfd
	efdBuf []byte // efd buffer to read an 8-byte integer
}

// OpenPoller instantiates a poller.
func OpenPoller(logger logging.Logger) (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return nil, syscallErr("epoll_create1", err)
	}
	if poller.efd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(poller.fd)
		return nil, syscallErr("eventfd", err)
	}
	poller.efdBuf = make([]byte, 8)
	if err = poller.Add(poller.efd, EventRead); err != nil {
		_ = poller.Close()
		return nil, err
	}
	poller.init(logger)
	return poller, nil
}

// Close closes the poller.
func (p *Poller) Close() error {
	_ = unix.Close(p.efd)
	return syscallErr("close", unix.Close(p.fd))
}

// Make the endianness of bytes compatible with more linux OSs under different processor-architectures,
// according to http://man7.org/linux/man-pages/man2/eventfd.2.html.
var (
	u uint64 = 1
	b        = (*(*[8]byte)(unsafe.Pointer(&u)))[:]
)

func (p *Poller) wakeup() error {
	for {
		_, err := unix.Write(p.efd, b)
		if err == unix.EAGAIN {
			_, _ = unix.Read(p.efd, p.efdBuf)
			continue
		}
		return syscallErr("write", err)
	}
}

// Trigger enqueues a task and wakes the poller up to run it on the polling goroutine.
// Tasks of the same priority run in the order they were triggered, high-priority
// tasks of a cycle all run before the low-priority ones.
func (p *Poller) Trigger(priority queue.EventPriority, fn queue.TaskFunc, arg any) error {
	if p.enqueue(priority, fn, arg) {
		return p.wakeup()
	}
	return nil
}

func toIOEvent(events uint32) (ev IOEvent) {
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		ev |= EventRead
	}
	if events&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if events&errEvents != 0 {
		ev |= EventError
	}
	return
}

func toEpollEvents(ev IOEvent) (events uint32) {
	if ev&EventRead != 0 {
		events |= readEvents
	}
	if ev&EventWrite != 0 {
		events |= writeEvents
	}
	return
}

// Polling blocks the current goroutine, waiting for network-events, every wait lasts at most timeout.
func (p *Poller) Polling(timeout time.Duration, callback PollEventHandler) error {
	el := newEventList(InitPollEventsCap)
	var doChores bool

	idleMsec := waitMillis(timeout)
	msec := idleMsec
	for {
		n, err := unix.EpollWait(p.fd, el.events, msec)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			msec = idleMsec
			if n == 0 && p.pending() {
				doChores = true
			} else {
				idle()
				continue
			}
		} else if err != nil {
			p.logger.Errorf("error occurs in epoll: %v", syscallErr("epoll_wait", err))
			return err
		} else {
			msec = 0
		}

		for i := 0; i < n; i++ {
			ev := &el.events[i]
			if fd := int(ev.Fd); fd == p.efd { // poller is awakened to run tasks in queues.
				_, _ = unix.Read(p.efd, p.efdBuf)
				doChores = true
			} else if err = p.dispatch(callback, fd, toIOEvent(ev.Events)); err != nil {
				return err
			}
		}

		if doChores {
			doChores = false
			leftover, err := p.runTasks()
			if err != nil {
				return err
			}
			if leftover && p.wakeupCall.CompareAndSwap(0, 1) {
				if err = p.wakeup(); err != nil {
					p.logger.Errorf("failed to notify next round of runner for leftover tasks, %v", err)
				}
			}
		}

		if n == el.size && el.size < MaxPollEventsCap {
			el.expand()
		} else if n < el.size>>1 && el.size > InitPollEventsCap {
			el.shrink()
		}
	}
}

// Add registers fd with the given interest.
func (p *Poller) Add(fd int, ev IOEvent) error {
	return syscallErr("epoll_ctl add",
		unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(ev)}))
}

// Mod replaces the interest of fd.
func (p *Poller) Mod(fd int, _, ev IOEvent) error {
	return syscallErr("epoll_ctl mod",
		unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(ev)}))
}

// Delete removes fd from the poller.
func (p *Poller) Delete(fd int, _ IOEvent) error {
	return syscallErr("epoll_ctl del", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

type eventList struct {
	size   int
	events []unix.EpollEvent
}

func newEventList(size int) *eventList {
	return &eventList{size, make([]unix.EpollEvent, size)}
}

func (el *eventList) expand() {
	el.size <<= 1
	el.events = make([]unix.EpollEvent, el.size)
}

func (el *eventList) shrink() {
	el.size >>= 1
	el.events = make([]unix.EpollEvent, el.size)
}
