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

//go:build darwin || dragonfly || freebsd

package netpoll

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/nio/internal/queue"
	"github.com/panjf2000/nio/pkg/logging"
)

// Poller represents a poller which is in charge of monitoring file-descriptors.
type Poller struct {
	taskQueues

	fd int
}

// OpenPoller instantiates a poller.
func OpenPoller(logger logging.Logger) (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.Kqueue(); err != nil {
		return nil, syscallErr("kqueue", err)
	}
	// Ident 0 is stdin, it's never handed to a poller so it's free for the user event.
	if _, err = unix.Kevent(poller.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = poller.Close()
		return nil, syscallErr("kevent add|clear", err)
	}
	poller.init(logger)
	return poller, nil
}

// Close closes the poller.
func (p *Poller) Close() error {
	return syscallErr("close", unix.Close(p.fd))
}

var note = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

func (p *Poller) wakeup() error {
	_, err := unix.Kevent(p.fd, note, nil, nil)
	if err == unix.EAGAIN {
		err = nil
	}
	return syscallErr("kevent trigger", err)
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

func toIOEvent(ev *unix.Kevent_t) (io IOEvent) {
	switch ev.Filter {
	case unix.EVFILT_READ:
		io = EventRead
	case unix.EVFILT_WRITE:
		io = EventWrite
	}
	if ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
		io |= EventError
	}
	return
}

// Polling blocks the current goroutine, waiting for network-events, every wait lasts at most timeout.
func (p *Poller) Polling(timeout time.Duration, callback PollEventHandler) error {
	el := newEventList(InitPollEventsCap)

	var (
		idleTs   *unix.Timespec
		zeroTs   unix.Timespec
		doChores bool
	)
	if timeout > 0 {
		ts := unix.NsecToTimespec(int64(timeout))
		idleTs = &ts
	}
	tsp := idleTs
	for {
		n, err := unix.Kevent(p.fd, nil, el.events, tsp)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			tsp = idleTs
			if n == 0 && p.pending() {
				doChores = true
			} else {
				idle()
				continue
			}
		} else if err != nil {
			p.logger.Errorf("error occurs in kqueue: %v", syscallErr("kevent wait", err))
			return err
		} else {
			tsp = &zeroTs
		}

		for i := 0; i < n; i++ {
			ev := &el.events[i]
			if ev.Filter == unix.EVFILT_USER { // poller is awakened to run tasks in queues.
				doChores = true
				continue
			}
			if err = p.dispatch(callback, int(ev.Ident), toIOEvent(ev)); err != nil {
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

func filters(ev IOEvent) (fs []int16) {
	if ev&EventRead != 0 {
		fs = append(fs, unix.EVFILT_READ)
	}
	if ev&EventWrite != 0 {
		fs = append(fs, unix.EVFILT_WRITE)
	}
	return
}

func (p *Poller) control(fd, flags int, ev IOEvent) error {
	fs := filters(ev)
	if len(fs) == 0 {
		return nil
	}
	changes := make([]unix.Kevent_t, len(fs))
	for i, f := range fs {
		unix.SetKevent(&changes[i], fd, int(f), flags)
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return err
}

// Add registers fd with the given interest.
func (p *Poller) Add(fd int, ev IOEvent) error {
	return syscallErr("kevent add", p.control(fd, unix.EV_ADD, ev))
}

// Mod replaces the interest old of fd with ev.
func (p *Poller) Mod(fd int, old, ev IOEvent) error {
	if err := p.control(fd, unix.EV_ADD, ev&^old); err != nil {
		return syscallErr("kevent add", err)
	}
	return syscallErr("kevent delete", p.control(fd, unix.EV_DELETE, old&^ev))
}

// Delete removes fd with its interest old from the poller.
func (p *Poller) Delete(fd int, old IOEvent) error {
	return syscallErr("kevent delete", p.control(fd, unix.EV_DELETE, old))
}

type eventList struct {
	size   int
	events []unix.Kevent_t
}

func newEventList(size int) *eventList {
	return &eventList{size, make([]unix.Kevent_t, size)}
}

func (el *eventList) expand() {
	el.size <<= 1
	el.events = make([]unix.Kevent_t, el.size)
}

func (el *eventList) shrink() {
	el.size >>= 1
	el.events = make([]unix.Kevent_t, el.size)
}
