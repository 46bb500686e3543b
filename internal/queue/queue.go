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

// Package queue provides the task queues runners use to receive work from other goroutines.
package queue

import "sync"

// TaskFunc is the callback function executed by a runner.
type TaskFunc func(any) error

// Task is a wrapper that contains function and its argument.
type Task struct {
	Run TaskFunc
	Arg any
}

var taskPool = sync.Pool{New: func() any { return new(Task) }}

// GetTask gets a cached Task from pool.
func GetTask() *Task {
	return taskPool.Get().(*Task)
}

// PutTask puts the trashy Task back in pool.
func PutTask(task *Task) {
	task.Run, task.Arg = nil, nil
	taskPool.Put(task)
}

// EventPriority is the priority of a task.
type EventPriority int

const (
	// HighPriority is for registrations, migrations and closes which must not wait
	// behind a backlog of writes.
	HighPriority EventPriority = iota
	// LowPriority is for everything else, a runner drains a bounded number of them per cycle.
	LowPriority
)

// AsyncTaskQueue is a multi-producer queue storing asynchronous tasks.
type AsyncTaskQueue interface {
	Enqueue(*Task)
	Dequeue() *Task
	IsEmpty() bool
	Length() int32
}
