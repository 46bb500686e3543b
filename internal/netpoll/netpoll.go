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

// Package netpoll wraps the readiness multiplexers of the OS (epoll and kqueue)
// behind a single Poller that runners drive.
package netpoll

import "time"

// IOEvent is the platform independent set of readiness events.
type IOEvent uint8

const (
	// EventNone means no interest.
	EventNone IOEvent = 0
	// EventRead is readability, or acceptability for listeners.
	EventRead IOEvent = 1
	// EventWrite is writability, or connect completion for sockets being connected.
	EventWrite IOEvent = 2
	// EventError reports hang-ups and socket errors, it's never registered explicitly.
	EventError IOEvent = 4
)

const (
	// InitPollEventsCap represents the initial capacity of poller event-list.
	InitPollEventsCap = 128
	// MaxPollEventsCap is the maximum capacity of poller event-list.
	MaxPollEventsCap = 1024
	// MaxAsyncTasksAtOneTime is the maximum amount of low-priority tasks a runner processes per cycle.
	MaxAsyncTasksAtOneTime = 256
	// DefaultPollTimeout bounds every wait so that queued tasks are never stranded.
	DefaultPollTimeout = time.Second
)

// PollEventHandler is called by Polling for every ready file descriptor.
type PollEventHandler func(fd int, ev IOEvent) error
