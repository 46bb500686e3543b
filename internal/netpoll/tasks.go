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

package netpoll

import (
	"errors"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/panjf2000/nio/internal/queue"
	errorx "github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/logging"
)

// taskQueues is the cross-goroutine part shared by the epoll and kqueue pollers.
type taskQueues struct {
	wakeupCall atomic.Int32
	urgent     queue.AsyncTaskQueue // registrations, migrations, closes
	async      queue.AsyncTaskQueue // writes and other deferrable work
	logger     logging.Logger
}

func (tq *taskQueues) init(logger logging.Logger) {
	tq.urgent = queue.NewLockFreeQueue()
	tq.async = queue.NewLockFreeQueue()
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	tq.logger = logger
}

func (tq *taskQueues) enqueue(priority queue.EventPriority, fn queue.TaskFunc, arg any) (wake bool) {
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	if priority == queue.HighPriority {
		tq.urgent.Enqueue(task)
	} else {
		tq.async.Enqueue(task)
	}
	return tq.wakeupCall.CompareAndSwap(0, 1)
}

func (tq *taskQueues) pending() bool {
	return !tq.urgent.IsEmpty() || !tq.async.IsEmpty()
}

// runTasks drains every urgent task and a bounded batch of the others,
// it reports whether tasks remain queued afterwards.
func (tq *taskQueues) runTasks() (leftover bool, err error) {
	for task := tq.urgent.Dequeue(); task != nil; task = tq.urgent.Dequeue() {
		if err = tq.run(task); err != nil {
			return false, err
		}
	}
	for i := 0; i < MaxAsyncTasksAtOneTime; i++ {
		task := tq.async.Dequeue()
		if task == nil {
			break
		}
		if err = tq.run(task); err != nil {
			return false, err
		}
	}
	tq.wakeupCall.Store(0)
	return tq.pending(), nil
}

func (tq *taskQueues) run(task *queue.Task) error {
	err := task.Run(task.Arg)
	queue.PutTask(task)
	if errors.Is(err, errorx.ErrEngineShutdown) {
		return err
	}
	if err != nil {
		tq.logger.Warnf("error occurs in runner task: %v", err)
	}
	return nil
}

// dispatch hands a ready fd to the callback, only ErrEngineShutdown stops the loop.
func (tq *taskQueues) dispatch(callback PollEventHandler, fd int, ev IOEvent) error {
	err := callback(fd, ev)
	if errors.Is(err, errorx.ErrEngineShutdown) {
		return err
	}
	if err != nil {
		tq.logger.Warnf("error occurs in runner: %v", err)
	}
	return nil
}

func waitMillis(timeout time.Duration) int {
	if timeout <= 0 {
		return -1
	}
	ms := int(timeout / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

func idle() {
	runtime.Gosched()
}

func syscallErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return os.NewSyscallError(name, err)
}
