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
	"sync"

	"github.com/eapache/queue"

	"github.com/panjf2000/nio/pkg/logging"
	"github.com/panjf2000/nio/pkg/pool/goroutine"
)

// serialExecutor runs the tasks of one connection on the worker pool one after another,
// a worker is only occupied while the connection has tasks queued.
type serialExecutor struct {
	mu      sync.Mutex
	tasks   *queue.Queue
	running bool
	pool    *goroutine.Pool
	logger  logging.Logger
}

func newSerialExecutor(pool *goroutine.Pool, logger logging.Logger) *serialExecutor {
	return &serialExecutor{tasks: queue.New(), pool: pool, logger: logger}
}

func (e *serialExecutor) submit(task func()) {
	e.mu.Lock()
	e.tasks.Add(task)
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	if e.pool == nil || e.pool.IsClosed() {
		e.drain()
		return
	}
	if err := e.pool.Submit(e.drain); err != nil {
		e.logger.Warnf("failed to submit to the worker pool, running inline: %v", err)
		e.drain()
	}
}

func (e *serialExecutor) drain() {
	for {
		e.mu.Lock()
		if e.tasks.Length() == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		task := e.tasks.Remove().(func())
		e.mu.Unlock()
		task()
	}
}
